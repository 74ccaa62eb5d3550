package checksum

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

const bufferSize = 64 * 1024 // 64KB buffer

// Sum returns the base64 encoded SHA-256 of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// CalculateFileSHA256 calculates SHA-256 checksum of a file on fs and returns base64 encoded string
func CalculateFileSHA256(fs afero.Fs, filePath string) (string, error) {
	file, err := fs.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	return CalculateSHA256(file)
}

// CalculateSHA256 calculates SHA-256 checksum from reader and returns base64 encoded string
func CalculateSHA256(r io.Reader) (string, error) {
	hash := sha256.New()
	buffer := make([]byte, bufferSize)

	if _, err := io.CopyBuffer(hash, r, buffer); err != nil {
		return "", fmt.Errorf("read: %w", err)
	}

	// Same encoding S3 uses for x-amz-checksum-sha256
	return base64.StdEncoding.EncodeToString(hash.Sum(nil)), nil
}

// CalculateWriterToSHA256 hashes everything src writes, such as an object
// stream, and returns base64 encoded string
func CalculateWriterToSHA256(src io.WriterTo) (string, error) {
	hash := sha256.New()
	if _, err := src.WriteTo(hash); err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	return base64.StdEncoding.EncodeToString(hash.Sum(nil)), nil
}
