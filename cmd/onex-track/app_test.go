package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/skrattaren/onex-track/config"
	"github.com/skrattaren/onex-track/internal/integrations/onex"
	"github.com/skrattaren/onex-track/internal/models"
	"github.com/skrattaren/onex-track/internal/notify"
	"github.com/skrattaren/onex-track/internal/services/poller"
	"github.com/skrattaren/onex-track/internal/statestore"
	"github.com/skrattaren/onex-track/internal/statestore/filestate"
	"github.com/skrattaren/onex-track/internal/statestore/redisstate"
)

type fakeFetcher struct {
	probeErr error
	snap     *onex.Snapshot
}

func (f *fakeFetcher) Probe(ctx context.Context) error { return f.probeErr }

func (f *fakeFetcher) FindTrackingCode(ctx context.Context, number string) (*onex.Snapshot, error) {
	if f.snap == nil {
		return nil, fmt.Errorf("no snapshot for %s", number)
	}
	snap := *f.snap
	snap.Number = number
	return &snap, nil
}

func (f *fakeFetcher) ParcelHub(ctx context.Context, parcelID, idbox string) ([]models.Checkpoint, error) {
	return nil, nil
}

type memStore struct {
	state map[string]string
}

func (m *memStore) Load(ctx context.Context) (map[string]string, error) {
	out := map[string]string{}
	for k, v := range m.state {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) Save(ctx context.Context, state map[string]string) error {
	m.state = state
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefaultAppFactories_SelectStateBackend(t *testing.T) {
	f := defaultAppFactories()
	ctx := context.Background()

	st, _, err := f.newStateStore(ctx, &config.Config{
		State: config.StateConfig{Backend: "file", Path: filepath.Join(t.TempDir(), "state.json")},
	})
	require.NoError(t, err)
	_, ok := st.(*filestate.Store)
	require.True(t, ok)

	// пустой backend означает файл
	st, _, err = f.newStateStore(ctx, &config.Config{})
	require.NoError(t, err)
	_, ok = st.(*filestate.Store)
	require.True(t, ok)

	st, _, err = f.newStateStore(ctx, &config.Config{
		State: config.StateConfig{Backend: "redis"},
		Redis: config.RedisConfig{Host: "localhost", Port: 6379},
	})
	require.NoError(t, err)
	_, ok = st.(*redisstate.Store)
	require.True(t, ok)

	_, _, err = f.newStateStore(ctx, &config.Config{State: config.StateConfig{Backend: "etcd"}})
	require.Error(t, err)
}

func TestDefaultAppFactories_Sinks(t *testing.T) {
	f := defaultAppFactories()

	cfg := &config.Config{Kafka: config.KafkaConfig{Host: "localhost", Port: 9092}}
	require.Len(t, f.newSinks(cfg, "parcels"), 2)
	require.Len(t, f.newSinks(&config.Config{}, "parcels"), 1)
	require.Empty(t, f.newSinks(&config.Config{}, ""))
}

func TestRunOnexTrack_WatchContextCanceled(t *testing.T) {
	calledClose := false

	f := appFactories{
		newOnexClient: func(cfg *config.Config) poller.Fetcher { return &fakeFetcher{} },
		newStateStore: func(ctx context.Context, cfg *config.Config) (statestore.Store, func(), error) {
			return &memStore{}, func() { calledClose = true }, nil
		},
		newSinks: func(cfg *config.Config, ntfyTopic string) []notify.Notifier { return nil },
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := runOpts{watch: true, useState: true, notify: true, topic: "t"}
	err := runOnexTrack(ctx, &config.Config{}, opts, f, discardLogger())
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, calledClose)
}

func TestRunOnexTrack_StateStoreFailureIsFatal(t *testing.T) {
	f := appFactories{
		newOnexClient: func(cfg *config.Config) poller.Fetcher { return &fakeFetcher{} },
		newStateStore: func(ctx context.Context, cfg *config.Config) (statestore.Store, func(), error) {
			return nil, nil, fmt.Errorf("dial tcp: connection refused")
		},
		newSinks: func(cfg *config.Config, ntfyTopic string) []notify.Notifier { return nil },
	}

	opts := runOpts{reqs: models.ParseTrackingArgs([]string{"X1"}), useState: true}
	err := runOnexTrack(context.Background(), &config.Config{}, opts, f, discardLogger())
	require.ErrorIs(t, err, poller.ErrState)
}

func TestRunOnexTrack_OneShot(t *testing.T) {
	store := &memStore{}
	fetcher := &fakeFetcher{snap: &onex.Snapshot{
		Track: &onex.TrackRecord{
			Courier: onex.Courier{Name: "USPS"},
			Checkpoints: []onex.TrackCheckpoint{
				{Location: "Нью-Йорк", Status: "Accepted", Time: "2024-05-01 10:00:00"},
			},
		},
	}}

	f := appFactories{
		newOnexClient: func(cfg *config.Config) poller.Fetcher { return fetcher },
		newStateStore: func(ctx context.Context, cfg *config.Config) (statestore.Store, func(), error) {
			return store, nil, nil
		},
		newSinks: func(cfg *config.Config, ntfyTopic string) []notify.Notifier { return nil },
	}

	opts := runOpts{reqs: models.ParseTrackingArgs([]string{"X1:подарок"}), useState: true}
	err := runOnexTrack(context.Background(), &config.Config{}, opts, f, discardLogger())
	require.NoError(t, err)
	require.Equal(t, "2024-05-01 10:00:00", store.state["X1"])
}

func TestRunOnexTrack_FailOnError(t *testing.T) {
	f := appFactories{
		newOnexClient: func(cfg *config.Config) poller.Fetcher { return &fakeFetcher{} },
		newStateStore: func(ctx context.Context, cfg *config.Config) (statestore.Store, func(), error) {
			return &memStore{}, nil, nil
		},
		newSinks: func(cfg *config.Config, ntfyTopic string) []notify.Notifier { return nil },
	}

	opts := runOpts{reqs: models.ParseTrackingArgs([]string{"X1"}), useState: true, failOnError: true}
	err := runOnexTrack(context.Background(), &config.Config{}, opts, f, discardLogger())
	require.ErrorIs(t, err, errShipmentsFailed)

	// без -fail-on-error частичные сбои не фатальны
	opts.failOnError = false
	require.NoError(t, runOnexTrack(context.Background(), &config.Config{}, opts, f, discardLogger()))
}

func TestExitCode(t *testing.T) {
	require.Equal(t, 2, exitCode(poller.ErrConnectivity))
	require.Equal(t, 2, exitCode(errors.Wrap(poller.ErrConnectivity, "probe")))
	require.Equal(t, 1, exitCode(poller.ErrState))
	require.Equal(t, 1, exitCode(errShipmentsFailed))
}

func TestAdminHTTPServer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := poller.New(&fakeFetcher{}, nil, nil, discardLogger())

	addrCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runAdminHTTPServer(ctx, adminHTTPOpts{
			httpAddr: "127.0.0.1:0",
			onListen: func(a string) { addrCh <- a },
			poller:   p,
			cfg:      &config.Config{},
		})
	}()

	addr := <-addrCh

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)
	require.JSONEq(t, `{"status":"ok"}`, string(body))

	resp, err = http.Get("http://" + addr + "/stats")
	require.NoError(t, err)
	var st poller.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()
	require.False(t, st.StartedAt.IsZero())

	resp, err = http.Post("http://"+addr+"/trigger", "application/json", nil)
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.JSONEq(t, `{"triggered":true}`, string(body))

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting server to stop")
	}
}
