// Package txn runs reversible operations. A BatchOperation is all or
// nothing: when one step fails the steps already done are undone in reverse
// order. A Controller keeps every committed operation of a run so the whole
// run can be unwound on request.
package txn

import (
	"context"
	"fmt"
)

// Transaction is a reversible operation. Undo must tolerate a resource that
// never reached its final state.
type Transaction interface {
	Name() string
	Execute(ctx context.Context) error
	Undo(ctx context.Context) error
}

// BatchError reports the step that made a batch fail after the completed
// steps were rolled back.
type BatchError struct {
	Batch   string
	Command string
	Err     error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%s: %s failed: %v", e.Batch, e.Command, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// RollbackError is returned when undoing a completed step failed while
// recovering from Cause. Manual intervention is required.
type RollbackError struct {
	Command string
	Cause   error
	UndoErr error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback of %s failed: %v (while recovering from: %v)", e.Command, e.UndoErr, e.Cause)
}

// Unwrap exposes both the undo failure and the original error
func (e *RollbackError) Unwrap() []error {
	return []error{e.UndoErr, e.Cause}
}
