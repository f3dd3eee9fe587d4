package stream

import (
	"context"

	"github.com/jacentio/ddblob/store"
	"github.com/jacentio/ddblob/task"
)

// Replicate returns a ChangeFunc that mirrors changes into s: puts are
// committed as whole rows and deletes remove the key.
func Replicate(s *store.Store) ChangeFunc {
	return func(ctx context.Context, c Change) error {
		switch c.Kind {
		case Put:
			b := s.CreateBlob(c.Key)
			b.WriteHeader(c.Row.Header)
			b.WriteMeta(c.Row.Meta)
			b.WriteValue(c.Row.Value)
			_, err := b.Sync(ctx, task.Sync).Get()
			return err
		case Delete:
			_, err := s.DeleteBlob(ctx, c.Key, task.Sync).Get()
			return err
		}
		return nil
	}
}
