package commands

import (
	"errors"

	"github.com/ralt/repoctl/internal/manager"
)

// ignoreNotFound treats an already missing resource as undone
func ignoreNotFound(err error) error {
	if errors.Is(err, manager.ErrNotFound) {
		return nil
	}
	return err
}
