package s3

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

type fakeObject struct {
	data     []byte
	modified time.Time
	etag     string
}

// fakeS3 is an in-memory implementation of s3client.API for a single bucket.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string]fakeObject
	pageSize int
	calls    map[string]int
	// failHead is returned by the next len(failHead) HeadObject calls.
	failHead []error
	lastCopy *s3.CopyObjectInput
	lastList *s3.ListObjectsV2Input
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects:  make(map[string]fakeObject),
		pageSize: 2,
		calls:    make(map[string]int),
	}
}

func (f *fakeS3) count(op string) {
	f.calls[op]++
}

func (f *fakeS3) store(key string, data []byte) {
	sum := md5.Sum(data)
	f.objects[key] = fakeObject{
		data:     data,
		modified: time.Now(),
		etag:     fmt.Sprintf(`"%x"`, sum),
	}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	var data []byte
	if in.Body != nil {
		var err error
		if data, err = io.ReadAll(in.Body); err != nil {
			return nil, err
		}
	}
	if data == nil {
		data = []byte{}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("PutObject")
	key := aws.ToString(in.Key)
	if aws.ToString(in.IfNoneMatch) == "*" {
		if _, ok := f.objects[key]; ok {
			return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}
		}
	}
	f.store(key, data)
	return &s3.PutObjectOutput{ETag: aws.String(f.objects[key].etag)}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("GetObject")
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}

	body := obj.data
	out := &s3.GetObjectOutput{
		LastModified: aws.Time(obj.modified),
		ETag:         aws.String(obj.etag),
	}
	if r := aws.ToString(in.Range); r != "" {
		var start, end int
		if _, err := fmt.Sscanf(r, "bytes=%d-%d", &start, &end); err != nil {
			return nil, fmt.Errorf("bad range %q: %w", r, err)
		}
		if start >= len(obj.data) {
			return nil, &smithy.GenericAPIError{Code: "InvalidRange", Message: "The requested range is not satisfiable"}
		}
		if end >= len(obj.data) {
			end = len(obj.data) - 1
		}
		body = obj.data[start : end+1]
		out.ContentRange = aws.String(fmt.Sprintf("bytes %d-%d/%d", start, end, len(obj.data)))
	}
	out.ContentLength = aws.Int64(int64(len(body)))
	out.Body = io.NopCloser(bytes.NewReader(bytes.Clone(body)))
	return out, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("HeadObject")
	if len(f.failHead) > 0 {
		err := f.failHead[0]
		f.failHead = f.failHead[1:]
		return nil, err
	}
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		LastModified:  aws.Time(obj.modified),
		ETag:          aws.String(obj.etag),
	}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("DeleteObject")
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) CopyObject(ctx context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("CopyObject")
	f.lastCopy = in

	source, err := url.PathUnescape(aws.ToString(in.CopySource))
	if err != nil {
		return nil, err
	}
	srcKey, ok := strings.CutPrefix(source, aws.ToString(in.Bucket)+"/")
	if !ok {
		return nil, fmt.Errorf("copy source %q outside bucket", source)
	}
	obj, ok := f.objects[srcKey]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	f.store(aws.ToString(in.Key), obj.data)
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("ListObjectsV2")
	f.lastList = in

	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)

	type item struct {
		name     string
		isPrefix bool
	}
	var items []item
	seen := map[string]bool{}
	for key := range f.objects {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok {
			continue
		}
		if delim != "" {
			if i := strings.Index(rest, delim); i >= 0 {
				cp := prefix + rest[:i+len(delim)]
				if !seen[cp] {
					seen[cp] = true
					items = append(items, item{cp, true})
				}
				continue
			}
		}
		items = append(items, item{key, false})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].name < items[j].name })

	start := 0
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		n, err := strconv.Atoi(tok)
		if err != nil {
			return nil, errors.New("bad continuation token")
		}
		start = n
	}
	end := min(start+f.pageSize, len(items))

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(items))}
	if end < len(items) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	for _, it := range items[start:end] {
		if it.isPrefix {
			out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(it.name)})
			continue
		}
		obj := f.objects[it.name]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(it.name),
			Size:         aws.Int64(int64(len(obj.data))),
			LastModified: aws.Time(obj.modified),
			ETag:         aws.String(obj.etag),
		})
	}
	return out, nil
}

var errMultipart = errors.New("multipart uploads are not supported by the fake")

func (f *fakeS3) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errMultipart
}

func (f *fakeS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errMultipart
}

func (f *fakeS3) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errMultipart
}

func (f *fakeS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return nil, errMultipart
}
