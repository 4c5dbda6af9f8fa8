package supervisor

import "git.home.luguber.info/inful/streamrec/internal/foundation/errors"

// Sentinels for errors.Is checks against supervisor results.
var (
	ErrAlreadyActive      = errors.Sentinel(errors.CategoryAlreadyActive)
	ErrNotActive          = errors.Sentinel(errors.CategoryNotActive)
	ErrLaunchFailure      = errors.Sentinel(errors.CategoryLaunch)
	ErrNoFramesDetected   = errors.Sentinel(errors.CategoryNoFrames)
	ErrStateWriteFailure  = errors.Sentinel(errors.CategoryStateWrite)
	ErrTerminationFailure = errors.Sentinel(errors.CategoryTermination)
	ErrHealthDegraded     = errors.Sentinel(errors.CategoryHealthDegraded)
	ErrCanceled           = errors.Sentinel(errors.CategoryCanceled)
)
