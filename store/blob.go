package store

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/jacentio/ddblob/backend"
	"github.com/jacentio/ddblob/table"
	"github.com/jacentio/ddblob/task"
)

var _ backend.Blob = (*Blob)(nil)

// Field names one payload of a row.
type Field string

const (
	FieldHeader Field = "header"
	FieldMeta   Field = "meta"
	FieldValue  Field = "value"
)

var allFields = []Field{FieldHeader, FieldMeta, FieldValue}

// Blob is a handle on one key. Writes are staged locally until Sync; the
// stored row is fetched at most once and then served from memory.
type Blob struct {
	store *Store
	key   string

	mu      sync.Mutex
	staged  map[Field][]byte
	fetched bool
	row     *table.Row
}

func newBlob(s *Store, key string) *Blob {
	return &Blob{
		store:  s,
		key:    key,
		staged: make(map[Field][]byte, len(allFields)),
	}
}

// newFetchedBlob returns a blob whose row is already known.
func newFetchedBlob(s *Store, row table.Row) *Blob {
	b := newBlob(s, row.Key)
	b.fetched = true
	b.row = &row
	return b
}

// Key returns the key the blob is bound to.
func (b *Blob) Key() string {
	return b.key
}

func (b *Blob) stage(f Field, p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.staged[f] = append([]byte{}, p...)
}

// WriteHeader stages p as the header.
func (b *Blob) WriteHeader(p []byte) { b.stage(FieldHeader, p) }

// WriteMeta stages p as the meta payload.
func (b *Blob) WriteMeta(p []byte) { b.stage(FieldMeta, p) }

// WriteValue stages p as the value.
func (b *Blob) WriteValue(p []byte) { b.stage(FieldValue, p) }

// WriteBinary stages p as the value.
func (b *Blob) WriteBinary(p []byte) { b.stage(FieldValue, p) }

// Sync writes the staged header, meta and value as one row. All three must
// be staged; otherwise nothing is sent and the staged state is kept.
func (b *Blob) Sync(ctx context.Context, opts task.Options) *task.Future[struct{}] {
	return run(b.store, ctx, opts, "sync", func(ctx context.Context) (struct{}, error) {
		b.mu.Lock()
		defer b.mu.Unlock()

		var missing []string
		for _, f := range allFields {
			if _, ok := b.staged[f]; !ok {
				missing = append(missing, string(f))
			}
		}
		if len(missing) > 0 {
			return struct{}{}, newError(KindRowIncomplete, "sync", b.key+" missing "+strings.Join(missing, ", "))
		}

		row := table.Row{
			Key:    b.key,
			Header: b.staged[FieldHeader],
			Meta:   b.staged[FieldMeta],
			Value:  b.staged[FieldValue],
		}
		if err := b.store.client.Put(ctx, b.store.config.Table, row); err != nil {
			return struct{}{}, classify("sync", err)
		}
		clear(b.staged)
		b.fetched = true
		b.row = &row
		b.store.logger.Debug("blob written", "key", b.key)
		return struct{}{}, nil
	})
}

// fetch returns the stored row, reading it on first use. Callers hold b.mu.
func (b *Blob) fetch(ctx context.Context, op string) (*table.Row, error) {
	if !b.fetched {
		row, err := b.store.client.Get(ctx, b.store.config.Table, b.key, b.store.config.ConsistentRead)
		if err != nil {
			return nil, classify(op, err)
		}
		b.fetched = true
		b.row = row
	}
	if b.row == nil {
		return nil, newError(KindFieldNotPresent, op, "no row for key "+b.key)
	}
	return b.row, nil
}

func (b *Blob) read(ctx context.Context, opts task.Options, f Field) *task.Future[[]byte] {
	op := "read-" + string(f)
	return run(b.store, ctx, opts, op, func(ctx context.Context) ([]byte, error) {
		b.mu.Lock()
		defer b.mu.Unlock()

		row, err := b.fetch(ctx, op)
		if err != nil {
			return nil, err
		}
		var p []byte
		switch f {
		case FieldHeader:
			p = row.Header
		case FieldMeta:
			p = row.Meta
		default:
			p = row.Value
		}
		if p == nil {
			return nil, newError(KindFieldNotPresent, op, string(f)+" missing for key "+b.key)
		}
		return p, nil
	})
}

// ReadHeader returns the stored header.
func (b *Blob) ReadHeader(ctx context.Context, opts task.Options) *task.Future[[]byte] {
	return b.read(ctx, opts, FieldHeader)
}

// ReadMeta returns the stored meta payload.
func (b *Blob) ReadMeta(ctx context.Context, opts task.Options) *task.Future[[]byte] {
	return b.read(ctx, opts, FieldMeta)
}

// ReadValue returns the stored value.
func (b *Blob) ReadValue(ctx context.Context, opts task.Options) *task.Future[[]byte] {
	return b.read(ctx, opts, FieldValue)
}

// ReadBinary calls fn once with a reader over the value and its length.
// The error returned by fn is the operation's error.
func (b *Blob) ReadBinary(ctx context.Context, opts task.Options, fn func(r io.Reader, size int64) error) *task.Future[struct{}] {
	return run(b.store, ctx, opts, "read-binary", func(ctx context.Context) (struct{}, error) {
		b.mu.Lock()
		row, err := b.fetch(ctx, "read-binary")
		b.mu.Unlock()
		if err != nil {
			return struct{}{}, err
		}
		if row.Value == nil {
			return struct{}{}, newError(KindFieldNotPresent, "read-binary", "value missing for key "+b.key)
		}
		return struct{}{}, fn(bytes.NewReader(row.Value), int64(len(row.Value)))
	})
}

// AcquireLock returns a lock that excludes nothing. Concurrent writers to
// the same key race and the last write wins.
func (b *Blob) AcquireLock(ctx context.Context, opts task.Options) *task.Future[backend.Lock] {
	return run(b.store, ctx, opts, "lock", func(context.Context) (backend.Lock, error) {
		return nopLock{}, nil
	})
}

// Close releases nothing; a blob holds no remote resources.
func (b *Blob) Close() error {
	return nil
}

type nopLock struct{}

func (nopLock) Release() error { return nil }
