package poller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skrattaren/onex-track/internal/integrations/onex"
)

func TestPoller_Run_StopsOnContextCancel(t *testing.T) {
	client := &fakeOnex{snaps: map[string]*onex.Snapshot{
		"T1": receivedSnap("2025-01-12 14:00:00"),
	}}
	p := New(client, nil, nil, testLogger()).
		WithSettings(1, 5*time.Millisecond, false)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(25 * time.Millisecond)
		cancel()
	}()

	err := p.Run(ctx, reqs("T1"))
	require.ErrorIs(t, err, context.Canceled)
	// первый цикл стартует сразу, дальше по тикеру
	require.GreaterOrEqual(t, client.probeCalls.Load(), int64(2))
}

func TestPoller_Run_TriggerForcesCycle(t *testing.T) {
	client := &fakeOnex{snaps: map[string]*onex.Snapshot{
		"T1": receivedSnap("2025-01-12 14:00:00"),
	}}
	p := New(client, nil, nil, testLogger()).
		WithSettings(1, time.Hour, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, reqs("T1")) }()

	require.Eventually(t, func() bool {
		return client.probeCalls.Load() >= 1
	}, time.Second, 5*time.Millisecond)

	p.Trigger()
	require.Eventually(t, func() bool {
		return client.probeCalls.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	st := p.Stats()
	require.NotNil(t, st.LastTriggerAt)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestPoller_Run_SurvivesProbeFailure(t *testing.T) {
	client := &fakeOnex{probeErr: &onex.TransportError{Op: "probe", Err: context.DeadlineExceeded}}
	p := New(client, nil, nil, testLogger()).
		WithSettings(1, 5*time.Millisecond, false)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(25 * time.Millisecond)
		cancel()
	}()

	// в watch-режиме неудачный цикл логируется, но не валит процесс
	err := p.Run(ctx, reqs("T1"))
	require.ErrorIs(t, err, context.Canceled)
	require.GreaterOrEqual(t, client.probeCalls.Load(), int64(2))
}
