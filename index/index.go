package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.etcd.io/bbolt"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("index: not found")

// DB is the shared persistent index. It is owned by the storage manager and
// shared by reference with each sub-store; sub-stores never outlive it.
type DB struct {
	db     *bbolt.DB
	path   string
	codec  *codec
	logger *slog.Logger
	noSync bool // disables fsync per transaction (for testing only)
}

// Option configures a DB instance.
type Option func(*DB)

// WithLogger sets the logger for the database.
func WithLogger(logger *slog.Logger) Option {
	return func(d *DB) {
		d.logger = logger
	}
}

// WithNoSync disables fsync per transaction.
// WARNING: This improves write performance but risks data loss on crash.
// Use only for testing or benchmarking, never in production.
func WithNoSync(noSync bool) Option {
	return func(d *DB) {
		d.noSync = noSync
	}
}

// New creates a new DB instance with options. Call Open before use.
func New(opts ...Option) *DB {
	d := &DB{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open opens the index file at the given path and bootstraps the schema.
// Bucket creation is idempotent, so Open is safe to call on every start.
// A failure here is fatal for storage initialization.
func (d *DB) Open(path string) error {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  d.noSync,
	})
	if err != nil {
		return fmt.Errorf("opening index: %w", err)
	}
	d.db = db
	d.path = path

	if err := d.createBuckets(); err != nil {
		_ = db.Close()
		return err
	}

	codec, err := newCodec()
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("creating codec: %w", err)
	}
	d.codec = codec

	d.logger.Debug("opened index", "path", path, "noSync", d.noSync)
	return nil
}

func (d *DB) createBuckets() error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets() {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close closes the index and releases resources.
func (d *DB) Close() error {
	if d.codec != nil {
		d.codec.close()
		d.codec = nil
	}
	if d.db == nil {
		return nil
	}
	d.logger.Debug("closing index")
	return d.db.Close()
}

// Path returns the index file path.
func (d *DB) Path() string {
	return d.path
}

// FileSize returns the on-disk size of the index file.
func (d *DB) FileSize() (int64, error) {
	info, err := os.Stat(d.path)
	if err != nil {
		return 0, fmt.Errorf("stat index file: %w", err)
	}
	return info.Size(), nil
}

// marshalRecord encodes a record for storage.
func (d *DB) marshalRecord(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling record: %w", err)
	}
	return d.codec.encode(data)
}

// unmarshalRecord decodes a stored record.
func (d *DB) unmarshalRecord(data []byte, v any) error {
	decoded, err := d.codec.decode(data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(decoded, v); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return nil
}
