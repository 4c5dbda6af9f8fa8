package state

import "time"

// Initiator identifies which control surface started a session.
type Initiator string

const (
	InitiatorManual    Initiator = "manual"
	InitiatorAPI       Initiator = "api"
	InitiatorScheduler Initiator = "scheduler"
)

// Valid reports whether i is a known initiator.
func (i Initiator) Valid() bool {
	switch i {
	case InitiatorManual, InitiatorAPI, InitiatorScheduler:
		return true
	default:
		return false
	}
}

// Session is the record of one confirmed, running capture.
type Session struct {
	ID         string    `json:"id"`
	PID        int       `json:"pid"`
	OutputPath string    `json:"output_path"`
	StreamURL  string    `json:"stream_url,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	StartedBy  Initiator `json:"started_by"`
	ScheduleID *string   `json:"schedule_id"`
	Adopted    bool      `json:"adopted,omitempty"`
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.ScheduleID = CloneID(s.ScheduleID)
	return &c
}

// SchedulerState records which rule, if any, owns the active session.
type SchedulerState struct {
	LastAction        string    `json:"last_action"`
	LastActionTime    time.Time `json:"last_action_time"`
	CurrentScheduleID *string   `json:"current_schedule_id"`
}

// Clone returns a deep copy.
func (s SchedulerState) Clone() SchedulerState {
	s.CurrentScheduleID = CloneID(s.CurrentScheduleID)
	return s
}

// Snapshot is the persisted document.
type Snapshot struct {
	Version   int            `json:"version"`
	Session   *Session       `json:"session"`
	Scheduler SchedulerState `json:"scheduler"`
	Change    int64          `json:"change"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (s Snapshot) clone() Snapshot {
	s.Session = s.Session.Clone()
	s.Scheduler = s.Scheduler.Clone()
	return s
}

// CloneID copies a nullable identifier.
func CloneID(id *string) *string {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

// ID returns a pointer to a copy of id, or nil when id is empty.
func ID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

// SameID compares two nullable identifiers.
func SameID(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
