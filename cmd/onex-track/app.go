package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/skrattaren/onex-track/config"
	"github.com/skrattaren/onex-track/internal/integrations/onex"
	"github.com/skrattaren/onex-track/internal/models"
	"github.com/skrattaren/onex-track/internal/notify"
	"github.com/skrattaren/onex-track/internal/notify/kafkasink"
	"github.com/skrattaren/onex-track/internal/notify/ntfy"
	"github.com/skrattaren/onex-track/internal/services/poller"
	"github.com/skrattaren/onex-track/internal/statestore"
	"github.com/skrattaren/onex-track/internal/statestore/dynamostate"
	"github.com/skrattaren/onex-track/internal/statestore/filestate"
	"github.com/skrattaren/onex-track/internal/statestore/pgstate"
	"github.com/skrattaren/onex-track/internal/statestore/redisstate"
)

var errShipmentsFailed = errors.New("some shipments failed")

type runOpts struct {
	reqs        []models.TrackingRequest
	topic       string
	notify      bool
	useState    bool
	watch       bool
	interval    time.Duration
	failOnError bool
}

type appFactories struct {
	newOnexClient func(cfg *config.Config) poller.Fetcher
	newStateStore func(ctx context.Context, cfg *config.Config) (store statestore.Store, closeFn func(), err error)
	newSinks      func(cfg *config.Config, ntfyTopic string) []notify.Notifier
}

func defaultAppFactories() appFactories {
	return appFactories{
		newOnexClient: func(cfg *config.Config) poller.Fetcher {
			return onex.New(cfg.Onex.BaseURL,
				time.Duration(cfg.Onex.InfoTimeoutSeconds)*time.Second,
				time.Duration(cfg.Onex.HubTimeoutSeconds)*time.Second)
		},
		newStateStore: func(ctx context.Context, cfg *config.Config) (statestore.Store, func(), error) {
			switch cfg.State.Backend {
			case "", "file":
				path := cfg.State.Path
				if path == "" {
					path = filestate.DefaultPath()
				}
				return filestate.New(path), nil, nil
			case "redis":
				key := cfg.Redis.Key
				if key == "" {
					key = redisstate.DefaultKey
				}
				return redisstate.New(cfg.Redis.Addr(), key), nil, nil
			case "postgres":
				st, err := pgstate.New(cfg.Database.ConnString())
				if err != nil {
					return nil, nil, err
				}
				return st, st.Close, nil
			case "dynamo":
				table := cfg.Dynamo.Table
				if table == "" {
					table = dynamostate.DefaultTable
				}
				st, err := dynamostate.Connect(ctx, table)
				if err != nil {
					return nil, nil, err
				}
				return st, nil, nil
			default:
				return nil, nil, fmt.Errorf("unknown state backend %q", cfg.State.Backend)
			}
		},
		newSinks: func(cfg *config.Config, ntfyTopic string) []notify.Notifier {
			var sinks []notify.Notifier
			if ntfyTopic != "" {
				sinks = append(sinks, ntfy.New(cfg.Ntfy.BaseURL, ntfyTopic))
			}
			if cfg.Kafka.Host != "" {
				topic := cfg.Kafka.StatusTopicName
				if topic == "" {
					topic = "shipment.status"
				}
				sinks = append(sinks, kafkasink.New([]string{cfg.Kafka.Addr()}, topic))
			}
			return sinks
		},
	}
}

func runOnexTrack(ctx context.Context, cfg *config.Config, opts runOpts, f appFactories, log *slog.Logger) error {
	client := f.newOnexClient(cfg)

	var store statestore.Store
	if opts.useState {
		st, closeFn, err := f.newStateStore(ctx, cfg)
		if err != nil {
			return errors.Wrapf(poller.ErrState, "%v", err)
		}
		if closeFn != nil {
			defer closeFn()
		}
		store = st
	}

	var sinks []notify.Notifier
	if opts.notify {
		sinks = f.newSinks(cfg, opts.topic)
	}

	interval := opts.interval
	if interval <= 0 {
		interval = time.Duration(cfg.Poll.WatchIntervalSeconds) * time.Second
	}

	p := poller.New(client, store, sinks, log).
		WithSettings(cfg.Poll.Concurrency, interval, cfg.State.IgnoreLoadErrors)

	if opts.watch {
		if addr := cfg.Poll.AdminHTTPAddr; addr != "" {
			go func() {
				err := runAdminHTTPServer(ctx, adminHTTPOpts{httpAddr: addr, poller: p, cfg: cfg})
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("admin http server", "error", err.Error())
				}
			}()
		}
		return p.Run(ctx, opts.reqs)
	}

	rep, err := p.RunBatch(ctx, opts.reqs)
	if err != nil {
		return err
	}
	for i := range rep.Results {
		r := &rep.Results[i]
		if r.Err != nil || r.Duplicate {
			continue
		}
		log.Info("status update", "track_number", r.Event.Number, "message", r.Message)
	}
	log.Info("run done",
		"run_id", rep.RunID,
		"checked", len(rep.Results),
		"new_events", rep.NewEvents,
		"failed", rep.Failed)

	if opts.failOnError && rep.Failed > 0 {
		return errors.Wrapf(errShipmentsFailed, "%d of %d", rep.Failed, len(rep.Results))
	}
	return nil
}
