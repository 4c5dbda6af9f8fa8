package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeySessionID  = "session_id"
	KeyPID        = "pid"
	KeyScheduleID = "schedule_id"
	KeyRuleTitle  = "rule_title"
	KeyInitiator  = "initiator"
	KeyOutputPath = "output_path"
	KeyStreamURL  = "stream_url"
	KeySignal     = "signal"
	KeyPhase      = "phase"
	KeyAlive      = "alive"
	KeyDecision   = "decision"
	KeySeverity   = "severity"
	KeySizeBytes  = "size_bytes"
	KeyDurationMS = "duration_ms"
	KeyAttempt    = "attempt"
	KeyPath       = "path"
	KeyMethod     = "method"
	KeyRemoteAddr = "remote_addr"
	KeyStatus     = "status"
	KeyURL        = "url"
	KeyUserAgent  = "user_agent"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func SessionID(id string) slog.Attr   { return slog.String(KeySessionID, id) }
func PID(pid int) slog.Attr           { return slog.Int(KeyPID, pid) }
func ScheduleID(id string) slog.Attr  { return slog.String(KeyScheduleID, id) }
func RuleTitle(t string) slog.Attr    { return slog.String(KeyRuleTitle, t) }
func Initiator(who string) slog.Attr  { return slog.String(KeyInitiator, who) }
func OutputPath(p string) slog.Attr   { return slog.String(KeyOutputPath, p) }
func StreamURL(u string) slog.Attr    { return slog.String(KeyStreamURL, u) }
func Signal(name string) slog.Attr    { return slog.String(KeySignal, name) }
func Phase(name string) slog.Attr     { return slog.String(KeyPhase, name) }
func Alive(alive bool) slog.Attr      { return slog.Bool(KeyAlive, alive) }
func Decision(d string) slog.Attr     { return slog.String(KeyDecision, d) }
func Severity(s string) slog.Attr     { return slog.String(KeySeverity, s) }
func SizeBytes(n int64) slog.Attr     { return slog.Int64(KeySizeBytes, n) }
func Attempt(n int) slog.Attr         { return slog.Int(KeyAttempt, n) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Method(m string) slog.Attr       { return slog.String(KeyMethod, m) }
func RemoteAddr(a string) slog.Attr   { return slog.String(KeyRemoteAddr, a) }
func Status(code int) slog.Attr       { return slog.Int(KeyStatus, code) }
func URL(u string) slog.Attr          { return slog.String(KeyURL, u) }
func UserAgent(ua string) slog.Attr   { return slog.String(KeyUserAgent, ua) }
func Duration(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d)/float64(time.Millisecond))
}

// OptionalScheduleID renders a nullable schedule id, empty when absent.
func OptionalScheduleID(id *string) slog.Attr {
	if id == nil {
		return ScheduleID("")
	}
	return ScheduleID(*id)
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
