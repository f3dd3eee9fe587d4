// Package store provides a blob backend on a single DynamoDB table.
//
// Every record is one row keyed by a string, carrying three binary payloads:
// a header, a meta section and a value. The generic store layer that
// serializes data into these payloads is not part of this package; it drives
// the backend through the interfaces in package backend.
//
// # Connecting
//
// Use [DefaultConfig] and [Connect]. The table is created when missing and
// Connect waits until it is active:
//
//	cfg := store.DefaultConfig()
//	cfg.Table = "my-blobs"
//	cfg.Region = "eu-west-1"
//	s, err := store.Connect(ctx, cfg).Get()
//
// [New] wraps an existing DynamoDB client without any network call.
//
// # Execution modes
//
// Every remote operation takes a [task.Options] and returns a [task.Future].
// With [task.Sync] the operation has finished when the call returns; with
// [task.Async] it runs on its own goroutine. Both modes share one
// implementation and produce the same results and errors.
//
// # Blobs
//
// [Store.CreateBlob] returns a handle on a key. Writes are staged locally
// and committed together by [Blob.Sync], which fails with [ErrRowIncomplete]
// unless header, meta and value are all staged. Reads fetch the row once.
//
// # Multi-key operations
//
// [Store.MultiWrite] and [Store.MultiDelete] are single DynamoDB
// transactions. [Store.MultiRead] is a single batch read and omits keys that
// do not exist. Each accepts at most 100 keys.
//
// # Errors
//
// Failures are returned as [*Error] values. Match them by kind with
// [IsKind] or by sentinel with errors.Is:
//
//   - [ErrTableNotFound] - the table does not exist
//   - [ErrRowIncomplete] - a commit was missing a payload
//   - [ErrLimitExceeded] - more than 100 keys in one request
//   - [ErrTransactionFailed] - a transactional write was rejected
//   - [ErrBatchFailed] - a batch read failed
//   - [ErrFieldNotPresent] - a read found no row
//   - [ErrReleased] - the store was released
//   - [ErrRemote] - any other DynamoDB failure
package store
