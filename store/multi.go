package store

import (
	"context"
	"slices"
	"strings"

	"github.com/jacentio/ddblob/backend"
	"github.com/jacentio/ddblob/table"
	"github.com/jacentio/ddblob/task"
)

// MultiWrite writes every record in one transaction. Either all rows land
// or none do. At most table.MaxBatchItems records are accepted.
func (s *Store) MultiWrite(ctx context.Context, records map[string]backend.Fields, opts task.Options) *task.Future[map[string]bool] {
	return run(s, ctx, opts, "multi-write", func(ctx context.Context) (map[string]bool, error) {
		result := make(map[string]bool, len(records))
		if len(records) == 0 {
			return result, nil
		}
		if len(records) > table.MaxBatchItems {
			return nil, limitError("multi-write", len(records))
		}

		keys := make([]string, 0, len(records))
		for key := range records {
			keys = append(keys, key)
		}
		slices.Sort(keys)

		ops := make([]table.Op, 0, len(keys))
		for _, key := range keys {
			f := records[key]
			if missing := missingFields(f); len(missing) > 0 {
				return nil, newError(KindRowIncomplete, "multi-write", key+" missing "+strings.Join(missing, ", "))
			}
			ops = append(ops, table.PutOp(s.config.Table, table.Row{
				Key:    key,
				Header: f.Header,
				Meta:   f.Meta,
				Value:  f.Value,
			}))
		}

		if err := s.client.TransactWrite(ctx, ops); err != nil {
			return nil, classifyTransact("multi-write", len(ops), err)
		}
		for _, key := range keys {
			result[key] = true
		}
		s.logger.Debug("multi-write committed", "count", len(keys))
		return result, nil
	})
}

// MultiDelete deletes the keys that exist in one transaction and reports,
// per key, whether it existed. At most table.MaxBatchItems keys are accepted.
func (s *Store) MultiDelete(ctx context.Context, keys []string, opts task.Options) *task.Future[map[string]bool] {
	return run(s, ctx, opts, "multi-delete", func(ctx context.Context) (map[string]bool, error) {
		result := make(map[string]bool, len(keys))
		if len(keys) == 0 {
			return result, nil
		}
		if len(keys) > table.MaxBatchItems {
			return nil, limitError("multi-delete", len(keys))
		}

		rows, err := s.client.BatchGet(ctx, s.config.Table, keys, true)
		if err != nil {
			return nil, classifyBatch("multi-delete", len(keys), err)
		}

		var ops []table.Op
		for _, key := range keys {
			_, exists := rows[key]
			if exists && !result[key] {
				ops = append(ops, table.DeleteOp(s.config.Table, key))
			}
			result[key] = exists
		}

		if len(ops) > 0 {
			if err := s.client.TransactWrite(ctx, ops); err != nil {
				return nil, classifyTransact("multi-delete", len(ops), err)
			}
		}
		s.logger.Debug("multi-delete committed", "requested", len(keys), "deleted", len(ops))
		return result, nil
	})
}

// MultiRead fetches the keys in one batch and returns a blob for each key
// that exists. The returned blobs already hold their rows. At most
// table.MaxBatchItems keys are accepted.
func (s *Store) MultiRead(ctx context.Context, keys []string, opts task.Options) *task.Future[map[string]*Blob] {
	return run(s, ctx, opts, "multi-read", func(ctx context.Context) (map[string]*Blob, error) {
		if len(keys) == 0 {
			return map[string]*Blob{}, nil
		}
		if len(keys) > table.MaxBatchItems {
			return nil, limitError("multi-read", len(keys))
		}

		rows, err := s.client.BatchGet(ctx, s.config.Table, keys, s.config.ConsistentRead)
		if err != nil {
			return nil, classifyBatch("multi-read", len(keys), err)
		}

		result := make(map[string]*Blob, len(rows))
		for key, row := range rows {
			result[key] = newFetchedBlob(s, row)
		}
		s.logger.Debug("multi-read", "requested", len(keys), "found", len(result))
		return result, nil
	})
}

func missingFields(f backend.Fields) []string {
	var missing []string
	if f.Header == nil {
		missing = append(missing, string(FieldHeader))
	}
	if f.Meta == nil {
		missing = append(missing, string(FieldMeta))
	}
	if f.Value == nil {
		missing = append(missing, string(FieldValue))
	}
	return missing
}
