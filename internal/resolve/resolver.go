// Package resolve maps raw Onex snapshots onto the parcel lifecycle and
// produces the status event for the stage the shipment is in.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/skrattaren/onex-track/internal/integrations/onex"
	"github.com/skrattaren/onex-track/internal/models"
)

// Шаблоны сообщений (liquid). Подстановку делает internal/render.
const (
	tplPreArrivalEmpty = "{{ courier }} пока не предоставил(а) информацию о посылке {{ label }}"
	tplPreArrival      = "{{ label }}: {{ status }} ({{ place }})"
	tplWarehouse       = "Посылка «{{ label }}» получена складом ONEX"
	tplInTransit       = "Посылка «{{ label }}» {{ dir }} {{ hub }}"
	tplAtUSWarehouse   = "Посылка «{{ label }}» доставлена на склад Onex"
	tplInCountry       = "Посылка «{{ label }}» прибыла в Армению и готовится к доставке"
	tplReceived        = "Посылка «{{ label }}» доставлена и получена"

	// Хвост добавляется к каждому сообщению.
	tplDateSuffix = "\n({{ date }}, № заказа {{ no }})"
	tplEstimated  = "\nОриентировочная дата доставки: {{ estimated }}"
)

// Order status values as the Onex backend reports them.
const (
	statusInMyWay    = "in my way"
	statusInMyWayNum = "3" // тот же статус из другой версии их бэкенда
	statusInUSA      = "in USA"
	statusInArmenia  = "in Armenia"
	statusReceived   = "received"
)

// transitFallbackHub is substituted when the hub endpoint has no transitions
// recorded yet for an in-transit parcel.
const transitFallbackHub = "склад Onex"

var directionVerbs = map[string]string{
	models.DirectionIn:  "прибыла в",
	models.DirectionOut: "покинула",
}

// ResolutionError means the carrier payload could not be mapped onto a known
// lifecycle stage: an unrecognized order status, an unknown hub direction
// code or a snapshot with no usable sections. It fails one shipment, never
// the whole run, and is never silently defaulted.
type ResolutionError struct {
	Number string
	Reason string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s: %s", e.Number, e.Reason)
}

// Classify derives the lifecycle stage from which snapshot sections are
// present. It is pure: no I/O, no mutation.
func Classify(snap *onex.Snapshot) (models.Stage, error) {
	if snap.Import == nil {
		return models.StagePreArrival, nil
	}
	if snap.Import.OrderStatus == nil {
		return models.StageWarehouseScanned, nil
	}
	switch *snap.Import.OrderStatus {
	case statusInMyWay, statusInMyWayNum:
		return models.StageInTransit, nil
	case statusInUSA:
		return models.StageAtUSWarehouse, nil
	case statusInArmenia:
		return models.StageInCountry, nil
	case statusReceived:
		return models.StageReceived, nil
	default:
		return 0, &ResolutionError{
			Number: snap.Number,
			Reason: fmt.Sprintf("unrecognized order status %q", *snap.Import.OrderStatus),
		}
	}
}

// HubFetcher is the slice of the Onex client the resolver needs: hub history
// is fetched only for in-transit parcels.
type HubFetcher interface {
	ParcelHub(ctx context.Context, parcelID, idbox string) ([]models.Checkpoint, error)
}

type Resolver struct {
	hub HubFetcher
	log *slog.Logger
}

func New(hub HubFetcher, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{hub: hub, log: log}
}

// Resolve turns one snapshot into its StatusEvent. Every event carries the
// date-and-order-number suffix; the estimated delivery line is appended
// whenever the warehouse reported one.
func (r *Resolver) Resolve(ctx context.Context, snap *onex.Snapshot, req models.TrackingRequest) (models.StatusEvent, error) {
	stage, err := Classify(snap)
	if err != nil {
		return models.StatusEvent{}, err
	}
	r.log.Debug("stage classified", "track_number", req.Number, "stage", stage.String())

	var (
		tpl    string
		fields map[string]string
	)
	switch stage {
	case models.StagePreArrival:
		tpl, fields, err = preArrival(snap)
	case models.StageWarehouseScanned:
		tpl = tplWarehouse
		fields = map[string]string{"date": snap.Import.WOScannedDate}
	case models.StageInTransit:
		tpl, fields, err = r.inTransit(ctx, snap)
	case models.StageAtUSWarehouse:
		tpl = tplAtUSWarehouse
		fields = map[string]string{"date": snap.Import.InUSADate}
	case models.StageInCountry:
		tpl = tplInCountry
		fields = map[string]string{"status": statusInArmenia, "date": snap.Import.InArmeniaDate}
	case models.StageReceived:
		tpl = tplReceived
		fields = map[string]string{"status": statusReceived, "date": snap.Import.ReceivedDate}
	}
	if err != nil {
		return models.StatusEvent{}, err
	}

	fields["label"] = req.Label
	fields["no"] = req.Number
	tpl += tplDateSuffix
	if snap.Import != nil && snap.Import.EstimatedDate != "" {
		tpl += tplEstimated
		fields["estimated"] = snap.Import.EstimatedDate
	}

	return models.StatusEvent{
		Number:   req.Number,
		Label:    req.Label,
		Template: tpl,
		Fields:   fields,
		Date:     fields["date"],
	}, nil
}

func preArrival(snap *onex.Snapshot) (string, map[string]string, error) {
	if snap.Track == nil {
		return "", nil, &ResolutionError{Number: snap.Number, Reason: "no data collected"}
	}
	if len(snap.Track.Checkpoints) == 0 {
		return tplPreArrivalEmpty, map[string]string{
			"courier": snap.Track.Courier.Name,
			"date":    snap.Track.LastCheck,
		}, nil
	}

	cps := make([]models.Checkpoint, 0, len(snap.Track.Checkpoints))
	for _, c := range snap.Track.Checkpoints {
		cps = append(cps, models.Checkpoint{
			When:    models.ParseCarrierTime(c.Time),
			RawDate: c.Time,
			Place:   c.Location,
			Status:  c.Status,
		})
	}
	last := latest(cps)

	return tplPreArrival, map[string]string{
		"place":  last.Place,
		"status": strings.ToLower(last.Status),
		"date":   last.RawDate,
	}, nil
}

func (r *Resolver) inTransit(ctx context.Context, snap *onex.Snapshot) (string, map[string]string, error) {
	imp := snap.Import
	r.log.Debug("fetching hub transitions",
		"track_number", snap.Number, "parcel_id", imp.ParcelID.String())

	cps, err := r.hub.ParcelHub(ctx, imp.ParcelID.String(), imp.IDBox.String())
	if err != nil {
		return "", nil, err
	}

	// Пустая история: посылка уже в пути, но хабы ещё не отчитались.
	last := models.Checkpoint{
		When:      models.ParseCarrierTime(imp.InMyWayDate),
		RawDate:   imp.InMyWayDate,
		Place:     transitFallbackHub,
		Direction: models.DirectionOut,
	}
	if len(cps) > 0 {
		last = latest(cps)
	}

	verb, ok := directionVerbs[last.Direction]
	if !ok {
		return "", nil, &ResolutionError{
			Number: snap.Number,
			Reason: fmt.Sprintf("unknown hub direction %q", last.Direction),
		}
	}

	return tplInTransit, map[string]string{
		"hub":  last.Place,
		"dir":  verb,
		"date": last.RawDate,
	}, nil
}

// latest picks the checkpoint with the greatest parsed timestamp. Unparsed
// stamps (zero When) lose to any parsed one; on equal stamps the later list
// position wins, so feeds without usable dates keep the carrier's own order.
func latest(cps []models.Checkpoint) models.Checkpoint {
	best := cps[0]
	for _, cp := range cps[1:] {
		if !cp.When.Before(best.When) {
			best = cp
		}
	}
	return best
}
