package provider

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTable(t *testing.T, clk *fakeClock, specs ...Spec) *Table {
	t.Helper()
	tbl := NewTable(WithClock(clk.Now))
	for _, s := range specs {
		require.NoError(t, tbl.Register(s))
	}
	return tbl
}

func TestTable_FailureTransitions(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	tbl := newTestTable(t, clk, Spec{Name: "gemini", Priority: 1, MaxFailures: 3, Configured: true})

	h, err := tbl.RecordFailure("gemini", errors.New("boom"))
	require.NoError(t, err)
	assert.Equal(t, Degraded, h)

	h, _ = tbl.RecordFailure("gemini", errors.New("boom"))
	assert.Equal(t, Degraded, h)

	h, _ = tbl.RecordFailure("gemini", errors.New("boom"))
	assert.Equal(t, Disabled, h)

	s, ok := tbl.Get("gemini")
	require.True(t, ok)
	assert.Equal(t, 3, s.ConsecutiveFailures)
	assert.Equal(t, clk.Now(), s.DisabledAt)
	assert.Equal(t, "boom", s.LastError)
	assert.False(t, s.Eligible())
}

func TestTable_SuccessResets(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	tbl := newTestTable(t, clk, Spec{Name: "groq", Priority: 2, MaxFailures: 3, Configured: true})

	tbl.RecordFailure("groq", nil)
	tbl.RecordFailure("groq", nil)
	require.NoError(t, tbl.RecordSuccess("groq"))

	s, _ := tbl.Get("groq")
	assert.Equal(t, 0, s.ConsecutiveFailures)
	assert.Equal(t, Healthy, s.Health)
	assert.Equal(t, clk.Now(), s.LastSuccess)
	assert.True(t, s.Eligible())
}

func TestTable_UnknownProvider(t *testing.T) {
	tbl := NewTable()
	assert.ErrorIs(t, tbl.RecordSuccess("nope"), ErrUnknown)
	_, err := tbl.RecordFailure("nope", nil)
	assert.ErrorIs(t, err, ErrUnknown)
	assert.ErrorIs(t, tbl.Reset("nope"), ErrUnknown)
}

func TestTable_RegisterRejectsDuplicates(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Register(Spec{Name: "a", Configured: true}))
	assert.Error(t, tbl.Register(Spec{Name: "a"}))
	assert.Error(t, tbl.Register(Spec{}))

	s, _ := tbl.Get("a")
	assert.Equal(t, 1, s.MaxFailures, "max failures floor")
}

func TestTable_CandidatesOrdering(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	tbl := newTestTable(t, clk,
		Spec{Name: "c", Priority: 2, MaxFailures: 3, Configured: true},
		Spec{Name: "a", Priority: 1, MaxFailures: 3, Configured: true},
		Spec{Name: "b", Priority: 1, MaxFailures: 3, Configured: true},
		Spec{Name: "unconfigured", Priority: 0, MaxFailures: 3, Configured: false},
	)

	names := func(states []State) []string {
		var out []string
		for _, s := range states {
			out = append(out, s.Name)
		}
		return out
	}

	assert.Equal(t, []string{"a", "b", "c"}, names(tbl.Candidates(nil)))

	// A failure on "a" pushes it behind "b" at the same priority.
	tbl.RecordFailure("a", nil)
	assert.Equal(t, []string{"b", "a", "c"}, names(tbl.Candidates(nil)))

	assert.Equal(t, []string{"a", "c"}, names(tbl.Candidates(map[string]bool{"b": true})))
}

func TestTable_ReenableAfterCooldown(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	tbl := newTestTable(t, clk,
		Spec{Name: "p1", Priority: 1, MaxFailures: 2, Configured: true},
		Spec{Name: "p2", Priority: 2, MaxFailures: 2, Configured: false},
	)
	require.NoError(t, tbl.RecordSuccess("p1"))

	tbl.RecordFailure("p1", nil)
	tbl.RecordFailure("p1", nil)
	tbl.RecordFailure("p2", nil)
	tbl.RecordFailure("p2", nil)

	assert.Empty(t, tbl.Reenable(5*time.Minute), "cooldown not yet elapsed")

	clk.Advance(5 * time.Minute)
	assert.Equal(t, []string{"p1"}, tbl.Reenable(5*time.Minute))

	s, _ := tbl.Get("p1")
	assert.True(t, s.Eligible())
	assert.Equal(t, 1, s.ConsecutiveFailures, "trial sits one below threshold")

	// The last success is still older than the cooldown, so a failed trial
	// is followed by another trial.
	h, _ := tbl.RecordFailure("p1", nil)
	assert.Equal(t, Disabled, h)
	assert.Equal(t, []string{"p1"}, tbl.Reenable(5*time.Minute))

	p2, _ := tbl.Get("p2")
	assert.Equal(t, Disabled, p2.Health, "unconfigured providers stay disabled")
}

func TestTable_ReenableMeasuresFromLastSuccess(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	tbl := newTestTable(t, clk, Spec{Name: "p1", MaxFailures: 2, Configured: true})
	require.NoError(t, tbl.RecordSuccess("p1"))

	clk.Advance(400 * time.Second)
	tbl.RecordFailure("p1", nil)
	tbl.RecordFailure("p1", nil)

	s, _ := tbl.Get("p1")
	require.Equal(t, Disabled, s.Health)
	assert.Equal(t, []string{"p1"}, tbl.Reenable(300*time.Second), "disabled just now but last success is stale")
}

func TestTable_ReenableWithoutSuccessUsesDisabledAt(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	tbl := newTestTable(t, clk, Spec{Name: "p1", MaxFailures: 1, Configured: true})

	clk.Advance(time.Hour)
	tbl.RecordFailure("p1", nil)
	assert.Empty(t, tbl.Reenable(5*time.Minute))

	clk.Advance(5 * time.Minute)
	assert.Equal(t, []string{"p1"}, tbl.Reenable(5*time.Minute))

	// A failed trial restarts the window.
	tbl.RecordFailure("p1", nil)
	assert.Empty(t, tbl.Reenable(5*time.Minute))
}

func TestTable_ReenableZeroCooldown(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	tbl := newTestTable(t, clk, Spec{Name: "p", MaxFailures: 1, Configured: true})
	tbl.RecordFailure("p", nil)
	clk.Advance(24 * time.Hour)
	assert.Nil(t, tbl.Reenable(0))
}

func TestTable_ResetAll(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	tbl := newTestTable(t, clk,
		Spec{Name: "a", MaxFailures: 1, Configured: true},
		Spec{Name: "b", MaxFailures: 1, Configured: true},
	)
	tbl.RecordFailure("a", nil)
	tbl.RecordFailure("b", nil)
	require.Empty(t, tbl.Candidates(nil))

	tbl.ResetAll()
	assert.Len(t, tbl.Candidates(nil), 2)
}

func TestTable_ConcurrentFailuresNotLost(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Register(Spec{Name: "p", MaxFailures: 1000, Configured: true}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				tbl.RecordFailure("p", nil)
			}
		}()
	}
	wg.Wait()

	s, _ := tbl.Get("p")
	assert.Equal(t, 500, s.ConsecutiveFailures)
}

func TestHealth_MarshalText(t *testing.T) {
	b, err := Disabled.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "disabled", string(b))
	assert.Equal(t, "health(9)", Health(9).String())
}

func TestHealth_UnmarshalText(t *testing.T) {
	for _, want := range []Health{Healthy, Degraded, Disabled} {
		b, err := want.MarshalText()
		require.NoError(t, err)
		var got Health
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, want, got)
	}

	var h Health
	assert.Error(t, h.UnmarshalText([]byte("sleepy")))
}
