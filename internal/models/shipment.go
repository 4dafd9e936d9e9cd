package models

import (
	"strings"
	"time"
)

// UnknownLabel is assigned to tracking numbers passed without a ":label" suffix.
const UnknownLabel = "*UNKNOWN*"

// TrackingRequest is one shipment to check during a run.
type TrackingRequest struct {
	Number string
	Label  string
}

// ParseTrackingArg splits a "NUMBER[:LABEL]" token. Only the first colon is
// significant, so labels may contain colons themselves.
func ParseTrackingArg(tok string) TrackingRequest {
	if i := strings.IndexByte(tok, ':'); i >= 0 {
		return TrackingRequest{Number: tok[:i], Label: tok[i+1:]}
	}
	return TrackingRequest{Number: tok, Label: UnknownLabel}
}

func ParseTrackingArgs(toks []string) []TrackingRequest {
	out := make([]TrackingRequest, 0, len(toks))
	for _, t := range toks {
		out = append(out, ParseTrackingArg(t))
	}
	return out
}

// Checkpoint is one timestamped record in a shipment's history, either from
// the pre-warehouse courier track or from the Onex hub detail.
type Checkpoint struct {
	// When is the parsed timestamp used for ordering; zero when the carrier
	// string did not parse (such entries lose against any parsed one).
	When time.Time
	// RawDate is the carrier-supplied date string, carried into the event
	// verbatim (it is also the dedup value, so it is never reformatted).
	RawDate string

	Place     string
	Status    string
	Direction string // "in" | "out" for hub records, empty otherwise
}

// Hub direction codes as Onex reports them.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// carrierTimeLayouts covers the date shapes observed in Onex responses.
var carrierTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseCarrierTime parses an Onex date string, returning the zero time when no
// known layout matches.
func ParseCarrierTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, l := range carrierTimeLayouts {
		if t, err := time.ParseInLocation(l, s, time.UTC); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Stage is the shipment's lifecycle phase, derived once per run from which
// optional snapshot fields are present.
type Stage int

const (
	StagePreArrival Stage = iota
	StageWarehouseScanned
	StageInTransit
	StageAtUSWarehouse
	StageInCountry
	StageReceived
)

func (s Stage) String() string {
	switch s {
	case StagePreArrival:
		return "PRE_ARRIVAL"
	case StageWarehouseScanned:
		return "WAREHOUSE_SCANNED"
	case StageInTransit:
		return "IN_TRANSIT"
	case StageAtUSWarehouse:
		return "AT_US_WAREHOUSE"
	case StageInCountry:
		return "IN_COUNTRY"
	case StageReceived:
		return "RECEIVED"
	default:
		return "UNKNOWN"
	}
}

// StatusEvent is the normalized outcome of one shipment's pipeline: a message
// template plus its field values. Date is the carrier-supplied string the
// dedup state keys on; it is compared by exact equality, never reparsed.
type StatusEvent struct {
	Number   string
	Label    string
	Template string
	Fields   map[string]string
	Date     string
}
