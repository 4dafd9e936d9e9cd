// Package onex is the HTTP client for the onex.am parcel service: the
// tracking-code lookup, the per-parcel hub history and the connectivity probe.
package onex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/skrattaren/onex-track/internal/models"
)

const (
	DefaultBaseURL = "https://onex.am"

	infoPath = "/onextrack/findtrackingcodeimport"
	hubPath  = "/parcel/hub"

	// Lookup answers quickly; the hub endpoint is known to hang for a while
	// when the warehouse side is busy.
	defaultInfoTimeout = 30 * time.Second
	defaultHubTimeout  = 2 * time.Minute
	probeTimeout       = 10 * time.Second
)

// Без этих заголовков onex.am отдаёт HTML-страницу вместо JSON.
var onexHeaders = map[string]string{
	"X-Requested-With": "XMLHttpRequest",
	"User-Agent":       "Opera/13.666 (Linux amd64) Presto",
}

// TransportError is any failure to obtain a decoded carrier response:
// network, HTTP status or JSON decoding. It fails only the shipment whose
// request raised it.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("onex %s: http %d", e.Op, e.Status)
	}
	return fmt.Sprintf("onex %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Snapshot is the decoded payload of the tracking-code lookup. Track and
// Import are both optional; which of them is present determines the
// shipment's lifecycle stage.
type Snapshot struct {
	Number string        `json:"-"`
	Track  *TrackRecord  `json:"track"`
	Import *ImportRecord `json:"import"`
}

type TrackRecord struct {
	Checkpoints []TrackCheckpoint `json:"checkpoints"`
	Courier     Courier           `json:"courier"`
	LastCheck   string            `json:"last_check"`
}

type Courier struct {
	Name string `json:"name"`
}

type TrackCheckpoint struct {
	Location string `json:"location_translated"`
	Status   string `json:"status_name"`
	Time     string `json:"time"`
}

// ImportRecord mirrors the "import" section of the lookup payload. The date
// fields are warehouse-local strings and are passed through untouched.
// OrderStatus is a pointer because "absent" and "present" pick different
// lifecycle stages.
type ImportRecord struct {
	OrderStatus   *string     `json:"orderstatus"`
	ParcelID      json.Number `json:"parcelid"`
	IDBox         json.Number `json:"idbox"`
	WOScannedDate string      `json:"wo_scanneddate"`
	InUSADate     string      `json:"inusadate"`
	InMyWayDate   string      `json:"inmywaydate"`
	InArmeniaDate string      `json:"inarmeniadate"`
	ReceivedDate  string      `json:"receiveddate"`
	EstimatedDate string      `json:"estimateddate"`
}

type Client struct {
	baseURL     string
	infoTimeout time.Duration
	hubTimeout  time.Duration
	httpc       *http.Client
}

func New(baseURL string, infoTimeout, hubTimeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if infoTimeout <= 0 {
		infoTimeout = defaultInfoTimeout
	}
	if hubTimeout <= 0 {
		hubTimeout = defaultHubTimeout
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		infoTimeout: infoTimeout,
		hubTimeout:  hubTimeout,
		httpc:       &http.Client{},
	}
}

// Probe checks that the Onex endpoint is reachable at all. The response code
// is ignored: callers only need to tell "host unreachable" apart from
// everything else before spawning per-shipment work.
func (c *Client) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return &TransportError{Op: "probe", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// FindTrackingCode fetches the combined track/import snapshot for one
// tracking number. A null payload comes back as an empty Snapshot; deciding
// whether that is an error belongs to the resolver.
func (c *Client) FindTrackingCode(ctx context.Context, number string) (*Snapshot, error) {
	var payload struct {
		Data *Snapshot `json:"data"`
	}
	form := url.Values{"tcode": {number}}
	if err := c.postForm(ctx, "findtrackingcodeimport", infoPath, c.infoTimeout, form, &payload); err != nil {
		return nil, err
	}
	snap := payload.Data
	if snap == nil {
		snap = &Snapshot{}
	}
	snap.Number = number
	return snap, nil
}

// ParcelHub fetches the hub transition history for a parcel already scanned
// by Onex. The carrier's order is preserved.
func (c *Client) ParcelHub(ctx context.Context, parcelID, idbox string) ([]models.Checkpoint, error) {
	var payload struct {
		Data []hubRecord `json:"data"`
	}
	form := url.Values{
		"parcel_id": {parcelID},
		"idbox":     {idbox},
	}
	if err := c.postForm(ctx, "hub", hubPath, c.hubTimeout, form, &payload); err != nil {
		return nil, err
	}
	cps := make([]models.Checkpoint, 0, len(payload.Data))
	for _, r := range payload.Data {
		cps = append(cps, models.Checkpoint{
			When:      models.ParseCarrierTime(r.Date),
			RawDate:   r.Date,
			Place:     r.Hub,
			Direction: r.Type,
		})
	}
	return cps, nil
}

type hubRecord struct {
	Hub  string `json:"hub"`
	Type string `json:"type"`
	Date string `json:"date"`
}

func (c *Client) postForm(ctx context.Context, op, path string, timeout time.Duration, form url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range onexHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return &TransportError{Op: op, Status: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Op: op, Err: errors.Wrap(err, "decode")}
	}
	return nil
}
