package schedule

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"git.home.luguber.info/inful/streamrec/internal/foundation/errors"
)

// LoadRules reads a JSON array of rules. A missing file yields no rules.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WrapError(err, errors.CategoryFileSystem, "failed to read schedule rules").
			WithContext("path", path).
			Build()
	}
	var rules []Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, errors.WrapError(err, errors.CategoryValidation, "failed to parse schedule rules").
			WithContext("path", path).
			Build()
	}
	if err := ValidateRules(rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// SaveRules writes rules atomically.
func SaveRules(path string, rules []Rule) error {
	if err := ValidateRules(rules); err != nil {
		return err
	}
	if rules == nil {
		rules = []Rule{}
	}
	data, err := json.MarshalIndent(rules, "", "  ")
	if err != nil {
		return errors.WrapError(err, errors.CategoryInternal, "failed to encode schedule rules").Build()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.FileSystemError("failed to create rules directory").WithCause(err).Build()
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.FileSystemError("failed to write schedule rules").WithCause(err).Build()
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.FileSystemError("failed to replace schedule rules").WithCause(err).Build()
	}
	return nil
}

// Set is the in-memory rule set shared between the watcher and the control loop.
type Set struct {
	mu       sync.RWMutex
	rules    []Rule
	loadedAt time.Time
}

// NewSet returns a set holding rules.
func NewSet(rules []Rule) *Set {
	return &Set{rules: slices.Clone(rules), loadedAt: time.Now()}
}

// Rules returns a copy of the current rules in file order.
func (s *Set) Rules() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.rules)
}

// Replace swaps in a new rule set.
func (s *Set) Replace(rules []Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = slices.Clone(rules)
	s.loadedAt = time.Now()
}

// LoadedAt reports when the set was last replaced.
func (s *Set) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

// Active returns the first enabled rule matching now.
func (s *Set) Active(now time.Time) (Rule, bool) {
	return ActiveRule(s.Rules(), now)
}
