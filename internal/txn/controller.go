package txn

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrNothingToUndo is returned by Undo on an empty stack
var ErrNothingToUndo = errors.New("nothing to undo")

// Controller executes transactions and remembers the committed ones so a
// whole run can be unwound most recent first.
type Controller struct {
	mu    sync.Mutex
	runID string
	stack []Transaction
}

// NewController returns a controller with an empty undo stack
func NewController() *Controller {
	return &Controller{runID: uuid.NewString()}
}

// RunID identifies the run in logs
func (c *Controller) RunID() string {
	return c.runID
}

// Execute runs t and pushes it on the undo stack if it succeeded
func (c *Controller) Execute(ctx context.Context, t Transaction) error {
	log := logrus.WithFields(logrus.Fields{"run": c.runID, "transaction": t.Name()})
	log.Info("Executing")

	if err := t.Execute(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.stack = append(c.stack, t)
	c.mu.Unlock()
	return nil
}

// Undo pops the most recent transaction and undoes it. A transaction whose
// undo fails stays popped; it needs manual attention.
func (c *Controller) Undo(ctx context.Context) error {
	c.mu.Lock()
	if len(c.stack) == 0 {
		c.mu.Unlock()
		return ErrNothingToUndo
	}
	t := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{"run": c.runID, "transaction": t.Name()}).Warn("Undoing")
	return t.Undo(ctx)
}

// UndoAll unwinds the whole stack and stops at the first failing undo
func (c *Controller) UndoAll(ctx context.Context) error {
	for {
		err := c.Undo(ctx)
		if errors.Is(err, ErrNothingToUndo) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Len returns the number of committed transactions
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stack)
}
