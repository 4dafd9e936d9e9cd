// Package poller orchestrates one polling run: probe, concurrent per-shipment
// pipelines, sequential dedup against the saved state, then best-effort
// notification fan-out.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/skrattaren/onex-track/internal/dedup"
	"github.com/skrattaren/onex-track/internal/integrations/onex"
	"github.com/skrattaren/onex-track/internal/models"
	"github.com/skrattaren/onex-track/internal/notify"
	"github.com/skrattaren/onex-track/internal/render"
	"github.com/skrattaren/onex-track/internal/resolve"
	"github.com/skrattaren/onex-track/internal/statestore"
)

// Run-level failures. Per-shipment errors never abort a run; these two do.
var (
	ErrConnectivity = errors.New("onex is unreachable")
	ErrState        = errors.New("dedup state unavailable")
)

// Fetcher is the Onex client surface the poller drives.
type Fetcher interface {
	Probe(ctx context.Context) error
	FindTrackingCode(ctx context.Context, number string) (*onex.Snapshot, error)
	ParcelHub(ctx context.Context, parcelID, idbox string) ([]models.Checkpoint, error)
}

// Result is one shipment's outcome within a run. Exactly one of Err or Event
// is meaningful.
type Result struct {
	Request   models.TrackingRequest
	Event     models.StatusEvent
	Message   string
	Duplicate bool
	Notified  bool
	Err       error
}

// Report summarizes one run.
type Report struct {
	RunID     string
	Results   []Result
	NewEvents int
	Failed    int
	Saved     bool
}

type Poller struct {
	client   Fetcher
	store    statestore.Store // nil отключает дедупликацию целиком
	resolver *resolve.Resolver
	renderer *render.Renderer
	sinks    []notify.Notifier
	log      *slog.Logger

	concurrency      int
	interval         time.Duration
	ignoreLoadErrors bool

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalChecked        atomic.Int64
	totalNewEvents      atomic.Int64
	totalErrors         atomic.Int64
	totalNotified       atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

const (
	defaultConcurrency = 4
	defaultInterval    = 15 * time.Minute
)

func New(client Fetcher, store statestore.Store, sinks []notify.Notifier, log *slog.Logger) *Poller {
	if log == nil {
		log = slog.Default()
	}
	return &Poller{
		client:            client,
		store:             store,
		resolver:          resolve.New(client, log),
		renderer:          render.New(),
		sinks:             sinks,
		log:               log,
		concurrency:       defaultConcurrency,
		interval:          defaultInterval,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (p *Poller) WithSettings(concurrency int, interval time.Duration, ignoreLoadErrors bool) *Poller {
	if concurrency > 0 {
		p.concurrency = concurrency
	}
	if interval > 0 {
		p.interval = interval
	}
	p.ignoreLoadErrors = ignoreLoadErrors
	return p
}

// Trigger forces an immediate poll cycle in watch mode (best-effort,
// non-blocking).
func (p *Poller) Trigger() {
	p.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalChecked   int64      `json:"totalChecked"`
	TotalNewEvents int64      `json:"totalNewEvents"`
	TotalErrors    int64      `json:"totalErrors"`
	TotalNotified  int64      `json:"totalNotified"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (p *Poller) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, p.startedAtUnixNano).UTC(),
		TotalChecked:   p.totalChecked.Load(),
		TotalNewEvents: p.totalNewEvents.Load(),
		TotalErrors:    p.totalErrors.Load(),
		TotalNotified:  p.totalNotified.Load(),
		InFlight:       p.inFlight.Load(),
	}
	if n := p.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := p.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	p.lastErrorMu.Lock()
	st.LastError = p.lastError
	p.lastErrorMu.Unlock()
	return st
}

func (p *Poller) setLastError(err error) {
	p.lastErrorMu.Lock()
	p.lastError = err.Error()
	p.lastErrorMu.Unlock()
}

// Run polls the same set of shipments until the context is canceled: once
// immediately, then on every tick or Trigger call. Run-level failures of a
// single cycle are logged, not returned, so a flaky network does not kill
// watch mode.
func (p *Poller) Run(ctx context.Context, reqs []models.TrackingRequest) error {
	t := time.NewTicker(p.interval)
	defer t.Stop()

	p.cycle(ctx, reqs)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.cycle(ctx, reqs)
		case <-p.triggerCh:
			p.cycle(ctx, reqs)
		}
	}
}

func (p *Poller) cycle(ctx context.Context, reqs []models.TrackingRequest) {
	rep, err := p.RunBatch(ctx, reqs)
	if err != nil {
		p.log.Error("poll cycle", "run_id", rep.RunID, "error", err.Error())
		return
	}
	p.log.Info("poll cycle done",
		"run_id", rep.RunID,
		"checked", len(rep.Results),
		"new_events", rep.NewEvents,
		"failed", rep.Failed)
}

// RunBatch executes one full run. The returned error is non-nil only for
// run-level failures (ErrConnectivity, ErrState); individual shipment errors
// live in Report.Results.
func (p *Poller) RunBatch(ctx context.Context, reqs []models.TrackingRequest) (Report, error) {
	runID := uuid.NewString()
	p.lastCycleUnixNano.Store(time.Now().UTC().UnixNano())
	log := p.log.With("run_id", runID)

	rep := Report{RunID: runID, Results: make([]Result, len(reqs))}

	if err := p.client.Probe(ctx); err != nil {
		p.setLastError(err)
		return rep, errors.Wrapf(ErrConnectivity, "%v", err)
	}

	var state map[string]string
	if p.store != nil {
		st, err := p.store.Load(ctx)
		if err != nil {
			if !p.ignoreLoadErrors {
				p.setLastError(err)
				return rep, errors.Wrapf(ErrState, "load: %v", err)
			}
			log.Warn("state load failed, continuing with empty state", "error", err.Error())
			st = map[string]string{}
		}
		state = st
	}

	// Конвейеры изолированы: падение одного не трогает остальные.
	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup
	for i, req := range reqs {
		sem <- struct{}{}
		wg.Add(1)
		p.inFlight.Add(1)
		go func(i int, req models.TrackingRequest) {
			defer func() {
				p.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			ev, msg, err := p.processOne(ctx, req)
			if err != nil {
				p.totalErrors.Add(1)
				p.setLastError(err)
				log.Error("process shipment", "track_number", req.Number, "error", err.Error())
			}
			rep.Results[i] = Result{Request: req, Event: ev, Message: msg, Err: err}
			p.totalChecked.Add(1)
		}(i, req)
	}
	wg.Wait()

	// Дедуп строго последовательный: состоянием владеет только коллектор.
	coll := dedup.NewCollector(state)
	fresh := make([]int, 0, len(reqs))
	for i := range rep.Results {
		r := &rep.Results[i]
		if r.Err != nil {
			rep.Failed++
			continue
		}
		if p.store != nil && coll.IsDuplicate(r.Event.Number, r.Event.Date) {
			r.Duplicate = true
			log.Debug("event already recorded",
				"track_number", r.Event.Number, "date", r.Event.Date)
			continue
		}
		fresh = append(fresh, i)
	}
	rep.NewEvents = len(fresh)
	p.totalNewEvents.Add(int64(len(fresh)))

	// Состояние коммитится до рассылки: лучше потерять уведомление, чем
	// слать его заново на каждом прогоне.
	if p.store != nil && coll.Dirty() {
		if err := p.store.Save(ctx, coll.State()); err != nil {
			p.setLastError(err)
			return rep, errors.Wrapf(ErrState, "save: %v", err)
		}
		rep.Saved = true
	}

	if len(p.sinks) == 0 || len(fresh) == 0 {
		return rep, nil
	}

	var nwg sync.WaitGroup
	for _, i := range fresh {
		r := &rep.Results[i]
		nwg.Add(1)
		go func(r *Result) {
			defer nwg.Done()
			ok := true
			for _, sink := range p.sinks {
				if err := sink.Notify(ctx, r.Event, r.Message); err != nil {
					ok = false
					p.setLastError(err)
					log.Error("notify", "track_number", r.Event.Number, "error", err.Error())
				}
			}
			r.Notified = ok
			if ok {
				p.totalNotified.Add(1)
			}
		}(r)
	}
	nwg.Wait()

	return rep, nil
}

func (p *Poller) processOne(ctx context.Context, req models.TrackingRequest) (models.StatusEvent, string, error) {
	snap, err := p.client.FindTrackingCode(ctx, req.Number)
	if err != nil {
		return models.StatusEvent{}, "", err
	}
	ev, err := p.resolver.Resolve(ctx, snap, req)
	if err != nil {
		return models.StatusEvent{}, "", err
	}
	msg, err := p.renderer.Message(ev)
	if err != nil {
		return models.StatusEvent{}, "", err
	}
	return ev, msg, nil
}
