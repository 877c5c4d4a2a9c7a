package swarm

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nidhogg/nuka-swarm/internal/events"
	"github.com/nidhogg/nuka-swarm/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePool struct {
	state  State
	added  int
	addErr error
	panic  bool
}

func (p *fakePool) State() State {
	if p.panic {
		panic("state exploded")
	}
	return p.state
}

func (p *fakePool) AddAgent(specs []string) (int, error) {
	if p.addErr != nil {
		return 0, p.addErr
	}
	p.added++
	p.state.ActiveAgents++
	return p.state.ActiveAgents, nil
}

func TestAutoscalerTick(t *testing.T) {
	tests := []struct {
		name      string
		pool      *fakePool
		cfg       AutoscaleConfig
		wantAdded bool
		wantErr   bool
		outcome   string
	}{
		{
			name:    "backlog within capacity",
			pool:    &fakePool{state: State{ActiveAgents: 2, PendingTasks: 4}},
			outcome: "idle",
		},
		{
			name:      "backlog exceeds capacity",
			pool:      &fakePool{state: State{ActiveAgents: 2, PendingTasks: 5}},
			wantAdded: true,
			outcome:   "scaled",
		},
		{
			name:      "empty pool with pending work",
			pool:      &fakePool{state: State{PendingTasks: 1}},
			wantAdded: true,
			outcome:   "scaled",
		},
		{
			name:    "at cap",
			pool:    &fakePool{state: State{ActiveAgents: 3, PendingTasks: 50}},
			cfg:     AutoscaleConfig{MaxAgents: 3},
			outcome: "capped",
		},
		{
			name:    "add agent fails",
			pool:    &fakePool{state: State{ActiveAgents: 1, PendingTasks: 10}, addErr: ErrClosed},
			wantErr: true,
			outcome: "error",
		},
		{
			name:    "panic is recovered",
			pool:    &fakePool{panic: true},
			wantErr: true,
			outcome: "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New(prometheus.NewRegistry())
			rec := &eventRecorder{}
			a := NewAutoscaler(tt.pool, tt.cfg, rec, m, zap.NewNop())

			added, err := a.Tick(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantAdded, added)
			assert.Equal(t, 1.0, testutil.ToFloat64(m.AutoscaleDecisions.WithLabelValues(tt.outcome)))

			wantEvents := 0
			if tt.wantAdded {
				wantEvents = 1
			}
			assert.Equal(t, wantEvents, rec.count(events.PoolScaled))
		})
	}
}

func TestAutoscalerAddsOneAgentPerTick(t *testing.T) {
	pool := &fakePool{state: State{ActiveAgents: 1, PendingTasks: 100}}
	a := NewAutoscaler(pool, AutoscaleConfig{}, nil, nil, zap.NewNop())

	for i := 0; i < 3; i++ {
		added, err := a.Tick(context.Background())
		require.NoError(t, err)
		require.True(t, added)
	}
	assert.Equal(t, 3, pool.added)
	assert.Equal(t, 4, pool.state.ActiveAgents)
}

func TestAutoscalerGrowsRealSwarm(t *testing.T) {
	s, _ := newTestSwarm(t, Options{IdleInterval: time.Hour})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		s.AddTask(ctx, "queued", WithSpecialization("nobody"))
	}
	a := NewAutoscaler(s, DefaultAutoscaleConfig(), nil, nil, zap.NewNop())

	added, err := a.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, 1, s.State().ActiveAgents)

	added, err = a.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, 2, s.State().ActiveAgents)

	added, err = a.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, added)
}

func TestAutoscalerRunStopsOnCancel(t *testing.T) {
	pool := &fakePool{state: State{}}
	a := NewAutoscaler(pool, AutoscaleConfig{Interval: time.Millisecond}, nil, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("autoscaler did not stop")
	}
}

type countingExpirer struct {
	calls atomic.Int32
	panic bool
}

func (e *countingExpirer) ReapExpired(context.Context) int {
	e.calls.Add(1)
	if e.panic {
		panic("boom")
	}
	return 1
}

func TestReaperTicks(t *testing.T) {
	for _, panics := range []bool{false, true} {
		exp := &countingExpirer{panic: panics}
		r := NewReaper(exp, time.Millisecond, zap.NewNop())
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			r.Run(ctx)
			close(done)
		}()
		require.Eventually(t, func() bool { return exp.calls.Load() >= 3 }, time.Second, time.Millisecond)
		cancel()
		<-done
	}
}

func TestReaperRequeuesThroughSwarm(t *testing.T) {
	s, clock := newTestSwarm(t, Options{})
	ctx := context.Background()
	a := s.RegisterAgent(nil)
	id, _ := s.AddTask(ctx, "slow", WithTimeout(1))
	s.Claim(a)
	clock.Advance(5 * time.Second)

	NewReaper(s, time.Second, zap.NewNop()).tick(ctx)

	got, err := s.GetTaskStatus(id)
	require.NoError(t, err)
	assert.Equal(t, "pending", string(got.Status))
}
