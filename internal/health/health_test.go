package health

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/streamrec/internal/state"
)

type fixedSessions struct{ sess *state.Session }

func (f fixedSessions) Session() (*state.Session, bool) {
	if f.sess == nil {
		return nil, false
	}
	return f.sess.Clone(), true
}

func newTestChecker(t *testing.T, alive bool) (*Checker, *clockwork.FakeClock, string) {
	t.Helper()
	out := filepath.Join(t.TempDir(), "rec.mp4")
	require.NoError(t, os.WriteFile(out, []byte("0123456789"), 0o600))

	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC))
	c := NewChecker(fixedSessions{&state.Session{ID: "s1", PID: 4242, OutputPath: out}}, time.Second, clock)
	c.alive = func(int) bool { return alive }
	return c, clock, out
}

// runCheck runs a pass, calling between once the first sample is taken.
func runCheck(t *testing.T, c *Checker, clock *clockwork.FakeClock, between func()) Record {
	t.Helper()
	type result struct {
		rec Record
		err error
	}
	done := make(chan result, 1)
	go func() {
		rec, err := c.Check(t.Context())
		done <- result{rec, err}
	}()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	between()
	clock.Advance(time.Second)

	r := <-done
	require.NoError(t, r.err)
	return r.rec
}

func TestCheck_Idle(t *testing.T) {
	c := NewChecker(fixedSessions{}, time.Second, clockwork.NewFakeClock())
	rec, err := c.Check(t.Context())
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, rec.Status)
}

func TestCheck_Healthy(t *testing.T) {
	c, clock, out := newTestChecker(t, true)
	rec := runCheck(t, c, clock, func() {
		f, err := os.OpenFile(out, os.O_APPEND|os.O_WRONLY, 0)
		require.NoError(t, err)
		_, _ = f.WriteString("more frames")
		require.NoError(t, f.Close())
	})

	assert.Equal(t, StatusHealthy, rec.Status)
	assert.True(t, rec.Growing)
	assert.True(t, rec.ProcessAlive)
	assert.Equal(t, []int64{10, 21}, rec.FileSizeSamples)
	assert.Equal(t, 4242, rec.PID)
}

func TestCheck_NotGrowing(t *testing.T) {
	c, clock, _ := newTestChecker(t, true)
	rec := runCheck(t, c, clock, func() {})

	assert.Equal(t, StatusDegraded, rec.Status)
	assert.False(t, rec.Growing)
	assert.Contains(t, rec.Message, "not growing")
}

func TestCheck_Canceled(t *testing.T) {
	c, _, _ := newTestChecker(t, true)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := c.Check(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMonitor_DeadProcessTriggersRepair(t *testing.T) {
	c, clock, _ := newTestChecker(t, false)
	var repaired atomic.Int64
	m := NewMonitor(c, nil, func(_ context.Context, pid int) { repaired.Store(int64(pid)) })

	done := make(chan Record, 1)
	go func() {
		rec, _ := m.Run(t.Context())
		done <- rec
	}()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)

	rec := <-done
	assert.Equal(t, StatusDegraded, rec.Status)
	assert.False(t, rec.ProcessAlive)
	assert.Equal(t, int64(4242), repaired.Load())

	last, ok := m.Last()
	require.True(t, ok)
	assert.Equal(t, rec, last)
	// Cached for the same session.
	assert.Equal(t, rec, m.Current(t.Context()))
}
