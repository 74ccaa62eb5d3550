// Package sqldb keeps objects as rows of a SQL table through gorm.
//
// Conditional copies insert with ON CONFLICT DO NOTHING and inspect the
// affected row count, so they are atomic with respect to other writers of
// the same database.
package sqldb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/yuya-takeyama/strict-object-store/internal/checksum"
	"github.com/yuya-takeyama/strict-object-store/pkg/objectstore"
)

// objectRecord is one stored object.
type objectRecord struct {
	Key        string `gorm:"column:object_key;primaryKey"`
	Data       []byte `gorm:"column:data"`
	Size       int64  `gorm:"column:size"`
	ETag       string `gorm:"column:etag"`
	Revision   int64  `gorm:"column:revision"`
	ModifiedAt time.Time
}

func (objectRecord) TableName() string { return "objects" }

func (r objectRecord) entry() objectstore.Entry {
	return objectstore.Entry{
		Key:          r.Key,
		Size:         uint64(r.Size),
		LastModified: r.ModifiedAt,
		ETag:         r.ETag,
		Version:      strconv.FormatInt(r.Revision, 10),
	}
}

var metaColumns = []string{"object_key", "size", "etag", "revision", "modified_at"}

// Driver stores objects in the "objects" table.
type Driver struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to the SQLite database at dsn and migrates the schema.
// Use ":memory:" for a private in-memory database.
func Open(dsn string) (*Driver, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	// :memory: databases are private to a connection
	sqlDB.SetMaxOpenConns(1)

	return New(db)
}

// New uses an existing gorm connection and migrates the schema.
func New(db *gorm.DB) (*Driver, error) {
	if err := db.AutoMigrate(&objectRecord{}); err != nil {
		return nil, fmt.Errorf("migrate objects table: %w", err)
	}
	return &Driver{db: db, now: time.Now}, nil
}

func (d *Driver) Capabilities() objectstore.Capabilities {
	return objectstore.Capabilities{ConditionalCopy: true}
}

// Close closes the underlying connection pool.
func (d *Driver) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(key string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", key, objectstore.ErrNotFound)
	}
	return fmt.Errorf("query %s: %w", key, err)
}

func head(tx *gorm.DB, key string) (objectRecord, error) {
	var rec objectRecord
	if err := tx.Select(metaColumns).Where("object_key = ?", key).Take(&rec).Error; err != nil {
		return objectRecord{}, notFound(key, err)
	}
	return rec, nil
}

func (d *Driver) Get(ctx context.Context, key string, rng *objectstore.ByteRange) (*objectstore.GetResult, error) {
	var (
		rec  objectRecord
		data []byte
	)
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if rng == nil {
			if err := tx.Where("object_key = ?", key).Take(&rec).Error; err != nil {
				return notFound(key, err)
			}
			data = rec.Data
			return nil
		}

		var err error
		if rec, err = head(tx, key); err != nil {
			return err
		}
		if rng.End() > uint64(rec.Size) || rng.End() < rng.Start {
			return fmt.Errorf("%s: range %d+%d: %w", key, rng.Start, rng.Length, objectstore.ErrOutOfRange)
		}
		// substr is 1-indexed and returns a blob for blob input
		row := tx.Raw("SELECT substr(data, ?, ?) FROM objects WHERE object_key = ?", rng.Start+1, rng.Length, key).Row()
		if err := row.Scan(&data); err != nil {
			return fmt.Errorf("read range of %s: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &objectstore.GetResult{Entry: rec.entry(), Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (d *Driver) Head(ctx context.Context, key string) (objectstore.Entry, error) {
	rec, err := head(d.db.WithContext(ctx), key)
	if err != nil {
		return objectstore.Entry{}, err
	}
	return rec.entry(), nil
}

func (d *Driver) record(key string, data []byte) objectRecord {
	if data == nil {
		data = []byte{}
	}
	now := d.now().UTC()
	return objectRecord{
		Key:        key,
		Data:       data,
		Size:       int64(len(data)),
		ETag:       checksum.Sum(data),
		Revision:   now.UnixNano(),
		ModifiedAt: now,
	}
}

func (d *Driver) Put(ctx context.Context, key string, data []byte) error {
	rec := d.record(key, data)
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "object_key"}},
		UpdateAll: true,
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

func (d *Driver) Delete(ctx context.Context, key string) error {
	res := d.db.WithContext(ctx).Where("object_key = ?", key).Delete(&objectRecord{})
	if res.Error != nil {
		return fmt.Errorf("delete %s: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s: %w", key, objectstore.ErrNotFound)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (d *Driver) List(ctx context.Context, prefix string) ([]objectstore.Entry, error) {
	var recs []objectRecord
	err := d.db.WithContext(ctx).
		Select(metaColumns).
		Where(`object_key LIKE ? ESCAPE '\'`, likeEscaper.Replace(prefix)+"%").
		Order("object_key").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}

	entries := make([]objectstore.Entry, 0, len(recs))
	for _, rec := range recs {
		// LIKE is case-insensitive for ASCII in SQLite
		if strings.HasPrefix(rec.Key, prefix) {
			entries = append(entries, rec.entry())
		}
	}
	return entries, nil
}

func (d *Driver) Copy(ctx context.Context, src, dst string, conditional bool) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return d.copy(tx, src, dst, conditional)
	})
}

func (d *Driver) copy(tx *gorm.DB, src, dst string, conditional bool) error {
	var rec objectRecord
	if err := tx.Where("object_key = ?", src).Take(&rec).Error; err != nil {
		return notFound(src, err)
	}

	rec = d.record(dst, rec.Data)
	onConflict := clause.OnConflict{Columns: []clause.Column{{Name: "object_key"}}, UpdateAll: true}
	if conditional {
		onConflict = clause.OnConflict{Columns: []clause.Column{{Name: "object_key"}}, DoNothing: true}
	}

	res := tx.Clauses(onConflict).Create(&rec)
	if res.Error != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, res.Error)
	}
	if conditional && res.RowsAffected == 0 {
		return fmt.Errorf("%s: %w", dst, objectstore.ErrAlreadyExists)
	}
	return nil
}

// Rename copies and deletes in one transaction.
func (d *Driver) Rename(ctx context.Context, src, dst string, conditional bool) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := d.copy(tx, src, dst, conditional); err != nil {
			return err
		}
		if err := tx.Where("object_key = ?", src).Delete(&objectRecord{}).Error; err != nil {
			return fmt.Errorf("delete %s: %w", src, err)
		}
		return nil
	})
}
