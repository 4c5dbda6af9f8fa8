package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"git.home.luguber.info/inful/streamrec/internal/foundation"
)

// Type is the recurrence kind of a rule.
type Type string

const (
	TypeOnce    Type = "once"
	TypeDaily   Type = "daily"
	TypeWeekly  Type = "weekly"
	TypeMonthly Type = "monthly"
)

// DateLayout is the layout of Rule.Date.
const DateLayout = "2006-01-02"

// Rule is one recurrence definition with a local-time window.
type Rule struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Enabled   bool   `json:"enabled"`
	Type      Type   `json:"type"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Weekdays  []int  `json:"weekdays,omitempty"`
	Monthdays []int  `json:"monthdays,omitempty"`
	Date      string `json:"date,omitempty"`
}

// ParseClock converts "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 || len(m) != 2 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour*60 + minute, nil
}

// InWindow reports whether minute-of-day now falls in [start, end). Windows with
// end < start cross midnight.
func InWindow(start, end, now int) bool {
	if end < start {
		return now >= start || now < end
	}
	return start <= now && now < end
}

// ShouldBeActive reports whether rule demands recording at now. Disabled or
// malformed rules never match.
func ShouldBeActive(rule Rule, now time.Time) bool {
	if !rule.Enabled {
		return false
	}
	start, err := ParseClock(rule.StartTime)
	if err != nil {
		return false
	}
	end, err := ParseClock(rule.EndTime)
	if err != nil {
		return false
	}
	if !InWindow(start, end, now.Hour()*60+now.Minute()) {
		return false
	}

	switch rule.Type {
	case TypeDaily:
		return true
	case TypeWeekly:
		return lo.Contains(rule.Weekdays, int(now.Weekday()))
	case TypeMonthly:
		return lo.Contains(rule.Monthdays, now.Day())
	case TypeOnce:
		return rule.Date == now.Format(DateLayout)
	default:
		return false
	}
}

// ActiveRule returns the first enabled rule, in slice order, that matches now.
func ActiveRule(rules []Rule, now time.Time) (Rule, bool) {
	return lo.Find(rules, func(r Rule) bool { return ShouldBeActive(r, now) })
}

// Validate checks a single rule.
func (r Rule) Validate() foundation.ValidationResult {
	res := foundation.NewValidatorChain(
		foundation.Required("id"),
	).Validate(r.ID)

	res = res.Combine(foundation.OneOf("type", []Type{TypeOnce, TypeDaily, TypeWeekly, TypeMonthly})(r.Type))

	start, startErr := ParseClock(r.StartTime)
	if startErr != nil {
		res = res.Combine(foundation.Invalid(foundation.NewValidationError("start_time", "format", startErr.Error())))
	}
	end, endErr := ParseClock(r.EndTime)
	if endErr != nil {
		res = res.Combine(foundation.Invalid(foundation.NewValidationError("end_time", "format", endErr.Error())))
	}
	if startErr == nil && endErr == nil && start == end {
		res = res.Combine(foundation.Invalid(foundation.NewValidationError("end_time", "empty_window", "must differ from start_time")))
	}

	switch r.Type {
	case TypeWeekly:
		if len(r.Weekdays) == 0 {
			res = res.Combine(foundation.Invalid(foundation.NewValidationError("weekdays", "required", "weekly rules need at least one weekday")))
		}
		for i, d := range r.Weekdays {
			res = res.Combine(foundation.InRange(fmt.Sprintf("weekdays[%d]", i), 0, 6)(d))
		}
	case TypeMonthly:
		if len(r.Monthdays) == 0 {
			res = res.Combine(foundation.Invalid(foundation.NewValidationError("monthdays", "required", "monthly rules need at least one day")))
		}
		for i, d := range r.Monthdays {
			res = res.Combine(foundation.InRange(fmt.Sprintf("monthdays[%d]", i), 1, 31)(d))
		}
	case TypeOnce:
		if _, err := time.Parse(DateLayout, r.Date); err != nil {
			res = res.Combine(foundation.Invalid(foundation.NewValidationError("date", "format", "must be YYYY-MM-DD")))
		}
	}

	if !res.Valid && r.ID != "" {
		for i := range res.Errors {
			res.Errors[i].Field = r.ID + "." + res.Errors[i].Field
		}
	}
	return res
}

// ValidateRules checks every rule and rejects duplicate ids.
func ValidateRules(rules []Rule) error {
	res := foundation.Valid()
	for _, r := range rules {
		res = res.Combine(r.Validate())
	}
	dupes := lo.FindDuplicates(lo.Map(rules, func(r Rule, _ int) string { return r.ID }))
	for _, id := range dupes {
		if id == "" {
			continue
		}
		res = res.Combine(foundation.Invalid(foundation.NewValidationError(id, "duplicate", "rule id is used more than once")))
	}
	return res.ToError()
}

// NextTransition scans forward minute by minute, up to horizon, for the first
// instant at which the active rule differs from the one active at now.
func NextTransition(rules []Rule, now time.Time, horizon time.Duration) (time.Time, bool) {
	current, currentOK := ActiveRule(rules, now)
	t := now.Truncate(time.Minute)
	limit := now.Add(horizon)
	for t = t.Add(time.Minute); !t.After(limit); t = t.Add(time.Minute) {
		next, ok := ActiveRule(rules, t)
		if ok != currentOK || (ok && next.ID != current.ID) {
			return t, true
		}
	}
	return time.Time{}, false
}
