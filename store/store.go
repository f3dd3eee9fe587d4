package store

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/jacentio/ddblob/backend"
	"github.com/jacentio/ddblob/table"
	"github.com/jacentio/ddblob/task"
)

var (
	_ backend.Backend[*Blob]      = (*Store)(nil)
	_ backend.MultiBackend[*Blob] = (*Store)(nil)
)

// Store is a blob backend over a single DynamoDB table.
type Store struct {
	client *table.Client
	config Config
	logger *slog.Logger

	// transport is set when the store built its own DynamoDB client.
	transport *http.Transport
	released  atomic.Bool
}

// New creates a Store over api without touching the network.
// config.Client is ignored.
func New(api table.API, config Config) (*Store, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.Client = api
	return &Store{
		client: table.New(api, config.Logger),
		config: config,
		logger: config.Logger.With("table", config.Table),
	}, nil
}

// Connect builds a Store from config and makes sure its table exists,
// creating it when config.CreateTable is set. It runs in config.Options mode.
func Connect(ctx context.Context, config Config) *task.Future[*Store] {
	return task.Run(ctx, config.Options, func(ctx context.Context) (*Store, error) {
		if err := config.validate(); err != nil {
			return nil, err
		}

		api := config.Client
		var transport *http.Transport
		if api == nil {
			client, tr, err := config.loadClient(ctx)
			if err != nil {
				return nil, err
			}
			api, transport = client, tr
		}

		s, err := New(api, config)
		if err != nil {
			return nil, err
		}
		s.transport = transport

		start := time.Now()
		exists, err := s.client.Exists(ctx, s.config.Table)
		if err != nil {
			return nil, classify("connect", err)
		}
		if !exists {
			if !s.config.CreateTable {
				return nil, newError(KindTableNotFound, "connect", s.config.Table)
			}
			if err := s.client.Create(ctx, s.config.Table, s.config.capacity(), s.config.CreateTimeout); err != nil {
				return nil, classify("connect", err)
			}
		}

		s.logger.Info("store ready",
			"created", !exists,
			"consistentRead", s.config.ConsistentRead,
			"elapsed", time.Since(start),
		)
		return s, nil
	})
}

// Release marks the store released and drops idle connections.
// Every later operation fails with KindReleased.
func (s *Store) Release() {
	if s.released.Swap(true) {
		return
	}
	if s.transport != nil {
		s.transport.CloseIdleConnections()
	}
	s.logger.Info("store released")
}

// Table returns the name of the backing table.
func (s *Store) Table() string {
	return s.config.Table
}

// Options returns the configured default execution mode.
func (s *Store) Options() task.Options {
	return s.config.Options
}

// run executes fn through task.Run after checking that the store is live.
func run[T any](s *Store, ctx context.Context, opts task.Options, op string, fn func(context.Context) (T, error)) *task.Future[T] {
	return task.Run(ctx, opts, func(ctx context.Context) (T, error) {
		if s.released.Load() {
			var zero T
			return zero, newError(KindReleased, op, "")
		}
		return fn(ctx)
	})
}

// CreateBlob returns a blob bound to key. Nothing is read or written.
func (s *Store) CreateBlob(key string) *Blob {
	return newBlob(s, key)
}

// DeleteBlob removes the row for key. Deleting a missing key succeeds.
func (s *Store) DeleteBlob(ctx context.Context, key string, opts task.Options) *task.Future[struct{}] {
	return run(s, ctx, opts, "delete", func(ctx context.Context) (struct{}, error) {
		if err := s.client.Remove(ctx, s.config.Table, key); err != nil {
			return struct{}{}, classify("delete", err)
		}
		s.logger.Debug("blob deleted", "key", key)
		return struct{}{}, nil
	})
}

// BlobExists reports whether a row exists for key.
func (s *Store) BlobExists(ctx context.Context, key string, opts task.Options) *task.Future[bool] {
	return run(s, ctx, opts, "exists", func(ctx context.Context) (bool, error) {
		row, err := s.client.Get(ctx, s.config.Table, key, s.config.ConsistentRead)
		if err != nil {
			return false, classify("exists", err)
		}
		return row != nil, nil
	})
}

// Copy writes the row stored under from to to. A missing source is a
// no-op.
func (s *Store) Copy(ctx context.Context, from, to string, opts task.Options) *task.Future[struct{}] {
	return run(s, ctx, opts, "copy", func(ctx context.Context) (struct{}, error) {
		row, err := s.source(ctx, "copy", from)
		if err != nil || row == nil {
			return struct{}{}, err
		}
		if from == to {
			return struct{}{}, nil
		}
		row.Key = to
		if err := s.client.Put(ctx, s.config.Table, *row); err != nil {
			return struct{}{}, classify("copy", err)
		}
		s.logger.Debug("blob copied", "from", from, "to", to)
		return struct{}{}, nil
	})
}

// AtomicMove moves the row under from to to in one transaction, so either
// both the write of to and the delete of from happen or neither does.
// A missing source is a no-op.
func (s *Store) AtomicMove(ctx context.Context, from, to string, opts task.Options) *task.Future[struct{}] {
	return run(s, ctx, opts, "move", func(ctx context.Context) (struct{}, error) {
		row, err := s.source(ctx, "move", from)
		if err != nil || row == nil {
			return struct{}{}, err
		}
		if from == to {
			return struct{}{}, nil
		}
		row.Key = to
		ops := []table.Op{
			table.PutOp(s.config.Table, *row),
			table.DeleteOp(s.config.Table, from),
		}
		if err := s.client.TransactWrite(ctx, ops); err != nil {
			return struct{}{}, classifyTransact("move", len(ops), err)
		}
		s.logger.Debug("blob moved", "from", from, "to", to)
		return struct{}{}, nil
	})
}

// source reads the row a copy or move starts from. It returns nil when the
// key has no row.
func (s *Store) source(ctx context.Context, op, key string) (*table.Row, error) {
	row, err := s.client.Get(ctx, s.config.Table, key, s.config.ConsistentRead)
	if err != nil {
		return nil, classify(op, err)
	}
	if row == nil {
		s.logger.Debug("source missing, nothing to do", "op", op, "key", key)
	}
	return row, nil
}

// ListKeys returns every key in the table in ascending order.
func (s *Store) ListKeys(ctx context.Context, opts task.Options) *task.Future[[]string] {
	return run(s, ctx, opts, "list-keys", func(ctx context.Context) ([]string, error) {
		rows, err := s.client.Scan(ctx, s.config.Table, s.config.ConsistentRead, table.KeyAttr)
		if err != nil {
			return nil, classify("list-keys", err)
		}
		keys := make([]string, 0, len(rows))
		for _, row := range rows {
			keys = append(keys, row.Key)
		}
		slices.Sort(keys)
		return keys, nil
	})
}

// CreateStore creates the table if it does not exist and waits until it is
// active.
func (s *Store) CreateStore(ctx context.Context, opts task.Options) *task.Future[struct{}] {
	return run(s, ctx, opts, "create-store", func(ctx context.Context) (struct{}, error) {
		exists, err := s.client.Exists(ctx, s.config.Table)
		if err != nil {
			return struct{}{}, classify("create-store", err)
		}
		if exists {
			return struct{}{}, nil
		}
		if err := s.client.Create(ctx, s.config.Table, s.config.capacity(), s.config.CreateTimeout); err != nil {
			return struct{}{}, classify("create-store", err)
		}
		return struct{}{}, nil
	})
}

// DeleteStore deletes the table. Deleting a missing table succeeds.
func (s *Store) DeleteStore(ctx context.Context, opts task.Options) *task.Future[struct{}] {
	return run(s, ctx, opts, "delete-store", func(ctx context.Context) (struct{}, error) {
		if err := s.client.Delete(ctx, s.config.Table); err != nil {
			return struct{}{}, classify("delete-store", err)
		}
		return struct{}{}, nil
	})
}

// Migratable always reports false: there is a single row layout.
func (s *Store) Migratable(key string, header []byte) bool {
	return false
}

// Migrate does nothing.
func (s *Store) Migrate(ctx context.Context, key string, header []byte, opts task.Options) *task.Future[struct{}] {
	return run(s, ctx, opts, "migrate", func(context.Context) (struct{}, error) {
		return struct{}{}, nil
	})
}
