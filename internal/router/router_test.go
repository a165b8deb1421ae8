package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allaspectsdev/scoutman/internal/provider"
)

// fakeGen is a scriptable generator that records every call it receives.
type fakeGen struct {
	mu      sync.Mutex
	calls   []Call
	content string
	err     error
	fail    bool
}

func (f *fakeGen) Generate(ctx context.Context, call Call) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if f.fail {
		if f.err != nil {
			return "", f.err
		}
		return "", errors.New("provider down")
	}
	return f.content, nil
}

func (f *fakeGen) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRouter(t *testing.T, providers []Provider, opts ...Option) *Router {
	t.Helper()
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	r, err := New(providers, opts...)
	require.NoError(t, err)
	return r
}

func TestNew_RequiresProviders(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestNew_RejectsDuplicateNames(t *testing.T) {
	_, err := New([]Provider{
		{Name: "gemini", Client: &fakeGen{}},
		{Name: "gemini", Client: &fakeGen{}},
	}, WithLogger(zerolog.Nop()))
	assert.Error(t, err)
}

func TestSelectProvider_PriorityOrdering(t *testing.T) {
	r := newTestRouter(t, []Provider{
		{Name: "p2", Priority: 2, MaxFailures: 3, Client: &fakeGen{content: "x"}},
		{Name: "p1", Priority: 1, MaxFailures: 3, Client: &fakeGen{content: "x"}},
	})

	for i := 0; i < 5; i++ {
		name, ok := r.SelectProvider()
		require.True(t, ok)
		assert.Equal(t, "p1", name)
	}
}

func TestSelectProvider_FailureDemotion(t *testing.T) {
	r := newTestRouter(t, []Provider{
		{Name: "p1", Priority: 1, MaxFailures: 3, Client: &fakeGen{}},
		{Name: "p2", Priority: 2, MaxFailures: 3, Client: &fakeGen{}},
	})

	for i := 0; i < 3; i++ {
		r.RecordFailure("p1", errors.New("timeout"))
	}

	name, ok := r.SelectProvider()
	require.True(t, ok)
	assert.Equal(t, "p2", name)

	states := r.Providers()
	require.Len(t, states, 2)
	assert.Equal(t, "p1", states[0].Name)
	assert.Equal(t, provider.Disabled, states[0].Health)
}

func TestSelectProvider_SuccessResetsFailures(t *testing.T) {
	r := newTestRouter(t, []Provider{
		{Name: "p1", Priority: 1, MaxFailures: 3, Client: &fakeGen{}},
		{Name: "p2", Priority: 2, MaxFailures: 3, Client: &fakeGen{}},
	})

	r.RecordFailure("p1", nil)
	r.RecordFailure("p1", nil)
	r.RecordSuccess("p1")

	s := r.Providers()[0]
	assert.Equal(t, 0, s.ConsecutiveFailures)
	assert.Equal(t, provider.Healthy, s.Health)

	name, _ := r.SelectProvider()
	assert.Equal(t, "p1", name)
}

func TestSelectProvider_EqualPriorityPrefersFewerFailures(t *testing.T) {
	r := newTestRouter(t, []Provider{
		{Name: "a", Priority: 1, MaxFailures: 5, Client: &fakeGen{}},
		{Name: "b", Priority: 1, MaxFailures: 5, Client: &fakeGen{}},
	})

	name, _ := r.SelectProvider()
	assert.Equal(t, "a", name, "registration order breaks ties")

	r.RecordFailure("a", nil)
	name, _ = r.SelectProvider()
	assert.Equal(t, "b", name)
}

func TestSelectProvider_CooldownReenable(t *testing.T) {
	clk := &testClock{now: time.Unix(1_700_000_000, 0)}
	r := newTestRouter(t, []Provider{
		{Name: "p1", Priority: 1, MaxFailures: 2, Client: &fakeGen{}},
		{Name: "p2", Priority: 2, MaxFailures: 2, Client: &fakeGen{}},
	}, WithClock(clk.Now), WithCooldown(300*time.Second))

	r.RecordSuccess("p1")
	r.RecordFailure("p1", nil)
	r.RecordFailure("p1", nil)

	name, _ := r.SelectProvider()
	assert.Equal(t, "p2", name, "p1 disabled inside cooldown")

	clk.Advance(301 * time.Second)
	name, _ = r.SelectProvider()
	assert.Equal(t, "p1", name, "p1 re-enabled for trial after cooldown")
}

func TestSelectProvider_StaleSuccessReenablesImmediately(t *testing.T) {
	clk := &testClock{now: time.Unix(1_700_000_000, 0)}
	r := newTestRouter(t, []Provider{
		{Name: "p1", Priority: 1, MaxFailures: 2, Client: &fakeGen{}},
		{Name: "p2", Priority: 2, MaxFailures: 2, Client: &fakeGen{}},
	}, WithClock(clk.Now), WithCooldown(300*time.Second))

	r.RecordSuccess("p1")
	clk.Advance(400 * time.Second)
	r.RecordFailure("p1", nil)
	r.RecordFailure("p1", nil)

	name, ok := r.SelectProvider()
	require.True(t, ok)
	assert.Equal(t, "p1", name, "last success older than cooldown")
	s := r.Providers()[0]
	assert.Equal(t, provider.Degraded, s.Health)
	assert.Equal(t, 1, s.ConsecutiveFailures)
}

func TestSelectProvider_GlobalResetOnExhaustion(t *testing.T) {
	r := newTestRouter(t, []Provider{
		{Name: "p1", Priority: 1, MaxFailures: 1, Client: &fakeGen{}},
		{Name: "p2", Priority: 2, MaxFailures: 1, Client: &fakeGen{}},
	}, WithCooldown(0))

	r.RecordFailure("p1", nil)
	r.RecordFailure("p2", nil)

	name, ok := r.SelectProvider()
	require.True(t, ok)
	assert.Equal(t, "p1", name)
	for _, s := range r.Providers() {
		assert.Equal(t, 0, s.ConsecutiveFailures, s.Name)
	}
}

func TestSelectProvider_NoneConfigured(t *testing.T) {
	r := newTestRouter(t, []Provider{
		{Name: "p1", Priority: 1, MaxFailures: 1},
		{Name: "p2", Priority: 2, MaxFailures: 1},
	})
	_, ok := r.SelectProvider()
	assert.False(t, ok)

	resp := r.Generate(context.Background(), Request{Prompt: "hi"})
	assert.False(t, resp.Success)
	assert.Equal(t, ErrAllFailed, resp.Error)
	assert.Empty(t, resp.Attempts)
}

func TestSelectProvider_SkipsUnconfigured(t *testing.T) {
	r := newTestRouter(t, []Provider{
		{Name: "p1", Priority: 1, MaxFailures: 1},
		{Name: "p2", Priority: 2, MaxFailures: 1, Client: &fakeGen{}},
	})
	name, ok := r.SelectProvider()
	require.True(t, ok)
	assert.Equal(t, "p2", name)
}

func TestGenerate_FallsBackOnFailure(t *testing.T) {
	p1 := &fakeGen{fail: true}
	p2 := &fakeGen{content: "from p2"}
	r := newTestRouter(t, []Provider{
		{Name: "p1", Priority: 1, MaxFailures: 3, Client: p1},
		{Name: "p2", Priority: 2, MaxFailures: 3, Client: p2},
	})

	resp := r.Generate(context.Background(), Request{Prompt: "write a tagline"})
	require.True(t, resp.Success)
	assert.Equal(t, "from p2", resp.Content)
	assert.Equal(t, "p2", resp.ProviderUsed)
	require.Len(t, resp.Attempts, 2)
	assert.Equal(t, "p1", resp.Attempts[0].Provider)
	assert.Equal(t, string(provider.KindTransport), resp.Attempts[0].ErrorKind)
	assert.Equal(t, 1, p1.count())
}

func TestGenerate_NeverRaises(t *testing.T) {
	r := newTestRouter(t, []Provider{
		{Name: "p1", Priority: 1, MaxFailures: 3, Client: &fakeGen{fail: true}},
		{Name: "p2", Priority: 2, MaxFailures: 3, Client: &fakeGen{fail: true}},
		{Name: "p3", Priority: 3, MaxFailures: 3, Client: GeneratorFunc(func(context.Context, Call) (string, error) {
			panic("adapter bug")
		})},
	})

	resp := r.Generate(context.Background(), Request{Prompt: "x"})
	assert.False(t, resp.Success)
	assert.Empty(t, resp.Content)
	assert.Equal(t, ErrAllFailed, resp.Error)
	require.Len(t, resp.Attempts, 3)
	assert.Equal(t, string(provider.KindPanic), resp.Attempts[2].ErrorKind)
}

func TestGenerate_EmptyContentIsFailure(t *testing.T) {
	r := newTestRouter(t, []Provider{
		{Name: "p1", Priority: 1, MaxFailures: 3, Client: &fakeGen{content: "   "}},
		{Name: "p2", Priority: 2, MaxFailures: 3, Client: &fakeGen{content: "ok"}},
	})

	resp := r.Generate(context.Background(), Request{Prompt: "x"})
	require.True(t, resp.Success)
	assert.Equal(t, "p2", resp.ProviderUsed)
	assert.Equal(t, string(provider.KindEmpty), resp.Attempts[0].ErrorKind)
	assert.Equal(t, 1, r.Providers()[0].ConsecutiveFailures)
}

// Gemini fails every time with max_failures=2. After the second failure it
// is disabled and the third call goes straight to groq.
func TestGenerate_GeminiGroqScenario(t *testing.T) {
	gemini := &fakeGen{fail: true}
	groq := &fakeGen{content: "groq says hi"}
	r := newTestRouter(t, []Provider{
		{Name: "gemini", Priority: 1, MaxFailures: 2, Client: gemini},
		{Name: "groq", Priority: 2, MaxFailures: 2, Client: groq},
	})

	for i := 0; i < 2; i++ {
		resp := r.Generate(context.Background(), Request{Prompt: "x"})
		require.True(t, resp.Success)
		assert.Equal(t, "groq", resp.ProviderUsed)
	}
	assert.Equal(t, 2, gemini.count())

	st, _ := r.table.Get("gemini")
	assert.Equal(t, provider.Disabled, st.Health)

	resp := r.Generate(context.Background(), Request{Prompt: "x"})
	require.True(t, resp.Success)
	assert.Equal(t, "groq", resp.ProviderUsed)
	require.Len(t, resp.Attempts, 1)
	assert.Equal(t, 2, gemini.count(), "gemini not attempted on third call")
	assert.Equal(t, 3, groq.count())
}

func TestGenerate_HardTimeoutAbandonsCall(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	slow := GeneratorFunc(func(ctx context.Context, call Call) (string, error) {
		<-block // ignores ctx on purpose
		return "late", nil
	})
	r := newTestRouter(t, []Provider{
		{Name: "slow", Priority: 1, MaxFailures: 3, Timeout: 20 * time.Millisecond, Client: slow},
		{Name: "fast", Priority: 2, MaxFailures: 3, Client: &fakeGen{content: "fast"}},
	})

	start := time.Now()
	resp := r.Generate(context.Background(), Request{Prompt: "x"})
	assert.Less(t, time.Since(start), 2*time.Second)
	require.True(t, resp.Success)
	assert.Equal(t, "fast", resp.ProviderUsed)
	assert.Equal(t, string(provider.KindTimeout), resp.Attempts[0].ErrorKind)
}

func TestGenerate_CallerDeadlineStopsChain(t *testing.T) {
	p2 := &fakeGen{content: "unused"}
	r := newTestRouter(t, []Provider{
		{Name: "p1", Priority: 1, MaxFailures: 3, Client: GeneratorFunc(func(ctx context.Context, _ Call) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})},
		{Name: "p2", Priority: 2, MaxFailures: 3, Client: p2},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	resp := r.Generate(ctx, Request{Prompt: "x"})
	assert.False(t, resp.Success)
	assert.Equal(t, 0, p2.count())

	st, _ := r.table.Get("p1")
	assert.Equal(t, 0, st.ConsecutiveFailures, "caller deadline is not a provider failure")
}

func TestGenerate_ClampsMaxTokensPerProvider(t *testing.T) {
	p1 := &fakeGen{fail: true}
	p2 := &fakeGen{content: "ok"}
	r := newTestRouter(t, []Provider{
		{Name: "p1", Priority: 1, MaxFailures: 3, Limits: Limits{Model: "gemini-1.5-flash", MaxTokens: 8192}, Client: p1},
		{Name: "p2", Priority: 2, MaxFailures: 3, Limits: Limits{Model: "llama-3.3-70b", MaxTokens: 4096, MaxTemperature: 1}, Client: p2},
	})

	resp := r.Generate(context.Background(), Request{Prompt: "x", MaxTokens: 6000, Temperature: 1.5, SystemPrompt: "be brief"})
	require.True(t, resp.Success)

	require.Len(t, p1.calls, 1)
	assert.Equal(t, 6000, p1.calls[0].MaxTokens)
	assert.Equal(t, 1.5, p1.calls[0].Temperature)
	assert.Equal(t, "gemini-1.5-flash", p1.calls[0].Model)

	require.Len(t, p2.calls, 1)
	assert.Equal(t, 4096, p2.calls[0].MaxTokens)
	assert.Equal(t, 1.0, p2.calls[0].Temperature)
	assert.Equal(t, "be brief", p2.calls[0].SystemPrompt)
}

type fixedCounter int

func (c fixedCounter) CountPrompt(model, system, prompt string) int { return int(c) }

func TestGenerate_ContextWindowBudget(t *testing.T) {
	small := &fakeGen{content: "small"}
	r := newTestRouter(t, []Provider{
		{Name: "tiny", Priority: 1, MaxFailures: 3, Limits: Limits{ContextWindow: 1000}, Client: &fakeGen{content: "tiny"}},
		{Name: "small", Priority: 2, MaxFailures: 3, Limits: Limits{ContextWindow: 8000, MaxTokens: 4096}, Client: small},
	}, WithTokenCounter(fixedCounter(1500)))

	resp := r.Generate(context.Background(), Request{Prompt: "long", MaxTokens: 10000})
	require.True(t, resp.Success)
	assert.Equal(t, "small", resp.ProviderUsed)
	assert.True(t, resp.Attempts[0].Skipped)
	assert.Equal(t, 4096, small.calls[0].MaxTokens)

	st, _ := r.table.Get("tiny")
	assert.Equal(t, 0, st.ConsecutiveFailures, "oversized prompt is not a provider failure")
}

func TestGenerate_RateLimitedProviderSkipped(t *testing.T) {
	p1 := &fakeGen{content: "p1"}
	p2 := &fakeGen{content: "p2"}
	rl := provider.NewRateLimiter(map[string]provider.Limit{"p1": {Rate: 0.001, Burst: 1}})
	r := newTestRouter(t, []Provider{
		{Name: "p1", Priority: 1, MaxFailures: 3, Client: p1},
		{Name: "p2", Priority: 2, MaxFailures: 3, Client: p2},
	}, WithRateLimiter(rl))

	first := r.Generate(context.Background(), Request{Prompt: "x"})
	second := r.Generate(context.Background(), Request{Prompt: "x"})

	assert.Equal(t, "p1", first.ProviderUsed)
	assert.Equal(t, "p2", second.ProviderUsed)
	st, _ := r.table.Get("p1")
	assert.Equal(t, provider.Healthy, st.Health)
}

func TestGenerate_ObserverSeesEveryAttempt(t *testing.T) {
	var mu sync.Mutex
	var events []provider.Event
	obs := provider.ObserverFunc(func(ev provider.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	r := newTestRouter(t, []Provider{
		{Name: "p1", Priority: 1, MaxFailures: 1, Client: &fakeGen{fail: true}},
		{Name: "p2", Priority: 2, MaxFailures: 1, Client: &fakeGen{content: "ok"}},
	}, WithObserver(obs))

	r.Generate(context.Background(), Request{Prompt: "hello"})

	require.Len(t, events, 2)
	assert.Equal(t, provider.OpGenerate, events[0].Op)
	assert.False(t, events[0].Success)
	assert.Equal(t, provider.Disabled, events[0].Health)
	assert.Equal(t, provider.Digest("hello"), events[0].Digest)
	assert.True(t, events[1].Success)
	assert.Equal(t, "p2", events[1].Provider)
}

func TestReset(t *testing.T) {
	r := newTestRouter(t, []Provider{{Name: "p1", MaxFailures: 1, Client: &fakeGen{}}})
	r.RecordFailure("p1", nil)
	require.NoError(t, r.Reset("p1"))
	assert.Equal(t, provider.Healthy, r.Providers()[0].Health)
	assert.ErrorIs(t, r.Reset("missing"), provider.ErrUnknown)
}
