package scheduler

import "errors"

// ErrSchedulerClosed is returned by queries after Shutdown.
var ErrSchedulerClosed = errors.New("scheduler is shut down")
