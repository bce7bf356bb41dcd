package scanner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMonitor(prober Prober, clk *clock) *ConnectivityMonitor {
	monitor := NewConnectivityMonitor(prober, MonitorConfig{
		ProbeInterval: 10 * time.Millisecond,
		SyncInterval:  30 * time.Second,
	}, nil)
	monitor.now = clk.Now
	return monitor
}

func drain(ch <-chan ConnectivityEvent) []ConnectivityEvent {
	var events []ConnectivityEvent
	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, event)
		default:
			return events
		}
	}
}

func TestConnectivityMonitorTransitions(t *testing.T) {
	prober := &fakeProber{err: errors.New("dial tcp: connection refused")}
	clk := newClock()
	monitor := newTestMonitor(prober, clk)
	events := monitor.Subscribe(8)
	ctx := context.Background()

	assert.False(t, monitor.Online())

	monitor.Poll(ctx)
	monitor.Poll(ctx)
	got := drain(events)
	require.Len(t, got, 1, "repeated offline probes publish once")
	assert.False(t, got[0].Online)
	assert.Equal(t, ReasonTransition, got[0].Reason)

	prober.set(nil)
	monitor.Poll(ctx)
	got = drain(events)
	require.Len(t, got, 1)
	assert.True(t, got[0].Online)
	assert.Equal(t, ReasonTransition, got[0].Reason)
	assert.True(t, monitor.Online())

	prober.set(errors.New("timeout"))
	monitor.Poll(ctx)
	got = drain(events)
	require.Len(t, got, 1)
	assert.False(t, got[0].Online)
	assert.False(t, monitor.Online())
}

func TestConnectivityMonitorTicksWhileOnline(t *testing.T) {
	clk := newClock()
	monitor := newTestMonitor(&fakeProber{}, clk)
	events := monitor.Subscribe(8)

	monitor.Notify(true)
	clk.Advance(10 * time.Second)
	monitor.Notify(true)
	assert.Len(t, drain(events), 1, "no tick before the sync interval")

	clk.Advance(25 * time.Second)
	monitor.Notify(true)
	got := drain(events)
	require.Len(t, got, 1)
	assert.Equal(t, ReasonTick, got[0].Reason)
	assert.True(t, got[0].Online)
	assert.Equal(t, clk.Now(), got[0].At)

	monitor.Notify(false)
	clk.Advance(time.Minute)
	monitor.Notify(false)
	got = drain(events)
	require.Len(t, got, 1, "offline state never ticks")
	assert.Equal(t, ReasonTransition, got[0].Reason)
}

func TestConnectivityMonitorNudgeOnlyWhenOnline(t *testing.T) {
	monitor := newTestMonitor(&fakeProber{}, newClock())
	events := monitor.Subscribe(8)

	monitor.Nudge()
	assert.Empty(t, drain(events), "unknown state")

	monitor.Notify(false)
	drain(events)
	monitor.Nudge()
	assert.Empty(t, drain(events))

	monitor.Notify(true)
	drain(events)
	monitor.Nudge()
	got := drain(events)
	require.Len(t, got, 1)
	assert.Equal(t, ReasonNudge, got[0].Reason)
}

func TestConnectivityMonitorCoalescesForSlowSubscriber(t *testing.T) {
	monitor := newTestMonitor(&fakeProber{}, newClock())
	events := monitor.Subscribe(1)

	monitor.Notify(true)
	monitor.Notify(false)
	monitor.Notify(true)

	got := drain(events)
	require.Len(t, got, 1)
	assert.True(t, got[0].Online, "the newest state wins")
}

func TestConnectivityMonitorRunClosesSubscriptions(t *testing.T) {
	monitor := newTestMonitor(&fakeProber{}, newClock())
	events := monitor.Subscribe(4)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		monitor.Run(ctx)
	}()

	select {
	case event := <-events:
		assert.True(t, event.Online)
		assert.Equal(t, ReasonTransition, event.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("no event from the first probe")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
	for range events {
	}

	late := monitor.Subscribe(1)
	_, open := <-late
	assert.False(t, open, "subscribing after shutdown yields a closed channel")
}
