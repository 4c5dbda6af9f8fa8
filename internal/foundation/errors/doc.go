// Package errors provides the classified error primitives used across streamrec.
//
// Every failure a recording control action can produce is a ClassifiedError whose
// category identifies the outcome (already_active, no_frames, termination, ...).
// Callers test for an outcome with errors.Is against the sentinels exported by the
// supervisor, or with HasCategory.
//
// Example usage:
//
//	err := errors.WrapError(execErr, errors.CategoryLaunch, "capture process failed to start").
//		WithContext("binary", ffmpegPath).
//		Build()
//
// The CLI and HTTP adapters turn a classified error into an exit code or an HTTP
// status with a JSON body.
package errors
