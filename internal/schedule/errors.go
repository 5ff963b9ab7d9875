package schedule

import "errors"

var (
	// ErrNilTask is returned when a schedule is built without a task.
	ErrNilTask = errors.New("schedule task is nil")

	// ErrNilSource is returned when a schedule is built without a parameter
	// source.
	ErrNilSource = errors.New("schedule parameter source is nil")
)
