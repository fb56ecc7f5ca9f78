package repo

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrExecutionNotFound = errors.New("execution not found")
	ErrTriggerNotFound   = errors.New("trigger not found")
)

// notFound maps gorm's missing-row error onto a domain error.
func notFound(err error, domain error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain
	}
	return err
}
