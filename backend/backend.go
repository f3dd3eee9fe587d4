// Package backend defines the capabilities a generic blob store layer requires
// from a storage backend. Backends implement these interfaces; the store layer
// above them handles keys, serialization and update semantics.
package backend

import (
	"context"
	"io"

	"github.com/jacentio/ddblob/task"
)

// Lock is held around a blob write. Release must be called once the write is done.
type Lock interface {
	Release() error
}

// Blob is one stored record split into header, meta and value payloads.
// Writes are staged locally and persisted together by Sync.
type Blob interface {
	// Key returns the key this blob is bound to.
	Key() string

	WriteHeader(p []byte)
	WriteMeta(p []byte)
	WriteValue(p []byte)
	// WriteBinary stages a raw binary value.
	WriteBinary(p []byte)

	// Sync persists the staged payloads as a single record.
	Sync(ctx context.Context, opts task.Options) *task.Future[struct{}]

	ReadHeader(ctx context.Context, opts task.Options) *task.Future[[]byte]
	ReadMeta(ctx context.Context, opts task.Options) *task.Future[[]byte]
	ReadValue(ctx context.Context, opts task.Options) *task.Future[[]byte]
	// ReadBinary hands the value to fn as a reader together with its length.
	ReadBinary(ctx context.Context, opts task.Options, fn func(r io.Reader, size int64) error) *task.Future[struct{}]

	AcquireLock(ctx context.Context, opts task.Options) *task.Future[Lock]
	Close() error
}

// Backend is the single-key capability set.
type Backend[B Blob] interface {
	CreateBlob(key string) B
	DeleteBlob(ctx context.Context, key string, opts task.Options) *task.Future[struct{}]
	BlobExists(ctx context.Context, key string, opts task.Options) *task.Future[bool]
	Copy(ctx context.Context, from, to string, opts task.Options) *task.Future[struct{}]
	AtomicMove(ctx context.Context, from, to string, opts task.Options) *task.Future[struct{}]
	ListKeys(ctx context.Context, opts task.Options) *task.Future[[]string]

	CreateStore(ctx context.Context, opts task.Options) *task.Future[struct{}]
	DeleteStore(ctx context.Context, opts task.Options) *task.Future[struct{}]

	// Migratable reports whether a record written in an older layout needs migrating.
	Migratable(key string, header []byte) bool
	Migrate(ctx context.Context, key string, header []byte, opts task.Options) *task.Future[struct{}]
}

// Fields are the three payloads of one record.
type Fields struct {
	Header []byte
	Meta   []byte
	Value  []byte
}

// MultiBackend is the optional multi-key extension.
type MultiBackend[B Blob] interface {
	// MultiWrite writes every record or none. The result maps each key to true.
	MultiWrite(ctx context.Context, records map[string]Fields, opts task.Options) *task.Future[map[string]bool]

	// MultiDelete deletes the existing keys or none. The result reports, per
	// key, whether it existed.
	MultiDelete(ctx context.Context, keys []string, opts task.Options) *task.Future[map[string]bool]

	// MultiRead returns a blob for every key that exists. Missing keys are
	// absent from the result.
	MultiRead(ctx context.Context, keys []string, opts task.Options) *task.Future[map[string]B]
}
