// Package capture owns the mechanics of the external capture tool: building the
// ffmpeg invocation, launching it detached in its own process group, probing the
// output for frames, and terminating it through escalating signal phases.
//
// It holds no notion of sessions; the supervisor decides when each step runs.
package capture
