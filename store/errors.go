package store

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/jacentio/ddblob/table"
)

// Kind classifies a store failure.
type Kind string

const (
	KindTableNotFound     Kind = "table_not_found"
	KindRowIncomplete     Kind = "row_incomplete"
	KindLimitExceeded     Kind = "limit_exceeded"
	KindTransactionFailed Kind = "transaction_failed"
	KindBatchFailed       Kind = "batch_failed"
	KindFieldNotPresent   Kind = "field_not_present"
	KindReleased          Kind = "released"
	KindRemote            Kind = "remote"
)

var (
	// ErrTableNotFound is returned when the configured table does not exist.
	ErrTableNotFound = errors.New("ddblob: table not found")

	// ErrRowIncomplete is returned when a row is committed without all of
	// header, meta and value.
	ErrRowIncomplete = errors.New("ddblob: row incomplete")

	// ErrLimitExceeded is returned when a multi-key operation names more than
	// table.MaxBatchItems keys.
	ErrLimitExceeded = errors.New("ddblob: batch limit exceeded")

	// ErrTransactionFailed is returned when a transactional write is rejected.
	ErrTransactionFailed = errors.New("ddblob: transaction failed")

	// ErrBatchFailed is returned when a batch read fails.
	ErrBatchFailed = errors.New("ddblob: batch read failed")

	// ErrFieldNotPresent is returned when reading from a blob with no stored row.
	ErrFieldNotPresent = errors.New("ddblob: field not present")

	// ErrReleased is returned by every operation on a released store.
	ErrReleased = errors.New("ddblob: store released")

	// ErrRemote is returned for any other DynamoDB failure.
	ErrRemote = errors.New("ddblob: remote error")
)

var sentinels = map[Kind]error{
	KindTableNotFound:     ErrTableNotFound,
	KindRowIncomplete:     ErrRowIncomplete,
	KindLimitExceeded:     ErrLimitExceeded,
	KindTransactionFailed: ErrTransactionFailed,
	KindBatchFailed:       ErrBatchFailed,
	KindFieldNotPresent:   ErrFieldNotPresent,
	KindReleased:          ErrReleased,
	KindRemote:            ErrRemote,
}

// Error is the error type returned by Store and Blob operations.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "multi-write".
	Op string
	// Reason is a human readable detail, such as the service error message.
	Reason string
	// Count is the number of keys involved, where relevant.
	Count int
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("ddblob: %s", e.Kind)
	if e.Op != "" {
		msg += " (" + e.Op + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Count > 0 {
		msg += fmt.Sprintf(" [%d keys]", e.Count)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	return sentinels[e.Kind] == target
}

// IsKind reports whether err, or any error it wraps, is an *Error of kind.
func IsKind(err error, kind Kind) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == kind
}

func newError(kind Kind, op, reason string) *Error {
	return &Error{Kind: kind, Op: op, Reason: reason}
}

func limitError(op string, count int) *Error {
	return &Error{
		Kind:   KindLimitExceeded,
		Op:     op,
		Reason: fmt.Sprintf("at most %d keys per request", table.MaxBatchItems),
		Count:  count,
	}
}

// classify turns a table client error into an *Error. Errors that are
// already classified pass through unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}

	var nf *types.ResourceNotFoundException
	if errors.As(err, &nf) {
		return &Error{Kind: KindTableNotFound, Op: op, Reason: nf.ErrorMessage(), Err: err}
	}
	return &Error{Kind: KindRemote, Op: op, Reason: remoteReason(err), Err: err}
}

// classifyTransact classifies errors from a transactional write.
func classifyTransact(op string, count int, err error) error {
	if err == nil {
		return nil
	}
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		return &Error{Kind: KindTransactionFailed, Op: op, Reason: cancellationReason(canceled), Count: count, Err: err}
	}
	var conflict *types.TransactionConflictException
	if errors.As(err, &conflict) {
		return &Error{Kind: KindTransactionFailed, Op: op, Reason: conflict.ErrorMessage(), Count: count, Err: err}
	}
	return classify(op, err)
}

// classifyBatch classifies errors from a batch read.
func classifyBatch(op string, count int, err error) error {
	if err == nil {
		return nil
	}
	var nf *types.ResourceNotFoundException
	if errors.As(err, &nf) {
		return classify(op, err)
	}
	return &Error{Kind: KindBatchFailed, Op: op, Reason: remoteReason(err), Count: count, Err: err}
}

func remoteReason(err error) string {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return ae.ErrorCode() + ": " + ae.ErrorMessage()
	}
	if errors.Is(err, table.ErrUnprocessed) {
		return "keys left unprocessed"
	}
	return ""
}

func cancellationReason(err *types.TransactionCanceledException) string {
	for _, reason := range err.CancellationReasons {
		if reason.Code != nil && *reason.Code != "None" {
			if reason.Message != nil {
				return *reason.Code + ": " + *reason.Message
			}
			return *reason.Code
		}
	}
	return err.ErrorMessage()
}
