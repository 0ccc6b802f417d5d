package txn

import (
	"context"

	"github.com/sirupsen/logrus"
)

// BatchOperation composes commands into one all-or-nothing Transaction
type BatchOperation struct {
	name     string
	commands []Transaction
}

// NewBatch returns a batch running commands in the given order
func NewBatch(name string, commands ...Transaction) *BatchOperation {
	return &BatchOperation{name: name, commands: commands}
}

func (b *BatchOperation) Name() string {
	return b.name
}

// Commands returns the batch's commands in execution order
func (b *BatchOperation) Commands() []Transaction {
	return append([]Transaction(nil), b.commands...)
}

// Execute runs the commands in order. When command k fails, commands 1..k-1
// are undone newest first and the failure is returned. The failed command's
// own partial effects are its responsibility.
func (b *BatchOperation) Execute(ctx context.Context) error {
	log := logrus.WithField("batch", b.name)
	completed := make([]Transaction, 0, len(b.commands))

	for _, cmd := range b.commands {
		log.Debugf("Executing %s", cmd.Name())
		if err := cmd.Execute(ctx); err != nil {
			log.Errorf("%s failed: %v", cmd.Name(), err)
			if rbErr := rollback(ctx, log, completed, err); rbErr != nil {
				return rbErr
			}
			return &BatchError{Batch: b.name, Command: cmd.Name(), Err: err}
		}
		completed = append(completed, cmd)
	}

	log.Infof("Completed %d steps", len(completed))
	return nil
}

// Undo reverts every command of a batch that executed successfully
func (b *BatchOperation) Undo(ctx context.Context) error {
	log := logrus.WithField("batch", b.name)
	for i := len(b.commands) - 1; i >= 0; i-- {
		cmd := b.commands[i]
		log.Infof("Undoing %s", cmd.Name())
		if err := cmd.Undo(ctx); err != nil {
			return &BatchError{Batch: b.name, Command: cmd.Name(), Err: err}
		}
	}
	return nil
}

// rollback undoes completed newest first and stops at the first failure
func rollback(ctx context.Context, log *logrus.Entry, completed []Transaction, cause error) error {
	// Undo must run even when ctx was what made the step fail
	ctx = context.WithoutCancel(ctx)

	for i := len(completed) - 1; i >= 0; i-- {
		cmd := completed[i]
		log.Warnf("Rolling back %s", cmd.Name())
		if err := cmd.Undo(ctx); err != nil {
			log.Errorf("Rollback of %s failed: %v", cmd.Name(), err)
			return &RollbackError{Command: cmd.Name(), Cause: cause, UndoErr: err}
		}
	}
	return nil
}
