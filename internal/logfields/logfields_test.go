package logfields

import (
	"errors"
	"log/slog"
	"testing"
	"time"
)

// TestHelperKeyNames verifies string-based helper key/value stability.
func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    slog.Attr
	}{
		{"SessionID", KeySessionID, "abc", SessionID("abc")},
		{"ScheduleID", KeyScheduleID, "morning", ScheduleID("morning")},
		{"RuleTitle", KeyRuleTitle, "Morning show", RuleTitle("Morning show")},
		{"Initiator", KeyInitiator, "scheduler", Initiator("scheduler")},
		{"OutputPath", KeyOutputPath, "/rec/a.mp4", OutputPath("/rec/a.mp4")},
		{"StreamURL", KeyStreamURL, "rtmp://x", StreamURL("rtmp://x")},
		{"Signal", KeySignal, "SIGINT", Signal("SIGINT")},
		{"Phase", KeyPhase, "terminate", Phase("terminate")},
		{"Decision", KeyDecision, "handoff", Decision("handoff")},
		{"Severity", KeySeverity, "fatal", Severity("fatal")},
		{"Path", KeyPath, "/api", Path("/api")},
		{"Method", KeyMethod, "GET", Method("GET")},
		{"RemoteAddr", KeyRemoteAddr, "1.2.3.4", RemoteAddr("1.2.3.4")},
		{"URL", KeyURL, "http://example", URL("http://example")},
	}

	for _, tc := range cases {
		if tc.attr.Key != tc.attrKey {
			// Key drift would break log ingestion schemas.
			t.Fatalf("%s: expected key %s, got %s", tc.name, tc.attrKey, tc.attr.Key)
		}
		if tc.attr.Value.String() != tc.attrVal {
			t.Fatalf("%s: expected value %s, got %s", tc.name, tc.attrVal, tc.attr.Value.String())
		}
	}
}

func TestTypedHelpers(t *testing.T) {
	if a := PID(42); a.Key != KeyPID || a.Value.Int64() != 42 {
		t.Fatalf("unexpected pid attr %v", a)
	}
	if a := Alive(true); a.Key != KeyAlive || !a.Value.Bool() {
		t.Fatalf("unexpected alive attr %v", a)
	}
	if a := SizeBytes(1024); a.Value.Int64() != 1024 {
		t.Fatalf("unexpected size attr %v", a)
	}
	if a := Duration(1500 * time.Millisecond); a.Key != KeyDurationMS || a.Value.Float64() != 1500 {
		t.Fatalf("unexpected duration attr %v", a)
	}
}

func TestOptionalScheduleID(t *testing.T) {
	if a := OptionalScheduleID(nil); a.Value.String() != "" {
		t.Fatalf("expected empty schedule id, got %q", a.Value.String())
	}
	id := "evening"
	if a := OptionalScheduleID(&id); a.Value.String() != "evening" {
		t.Fatalf("expected evening, got %q", a.Value.String())
	}
}

func TestErrorHelper(t *testing.T) {
	if a := Error(nil); a.Value.String() != "" {
		t.Fatalf("expected empty error value")
	}
	if a := Error(errors.New("boom")); a.Value.String() != "boom" {
		t.Fatalf("expected boom, got %s", a.Value.String())
	}
}
