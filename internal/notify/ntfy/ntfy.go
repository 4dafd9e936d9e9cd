// Package ntfy posts status messages to an ntfy.sh topic.
package ntfy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/skrattaren/onex-track/internal/models"
)

const (
	DefaultBaseURL = "https://ntfy.sh"

	// ntfy рисует по тегу эмодзи-посылку в пуше
	messageTag = "package"

	requestTimeout = 10 * time.Second
)

type Client struct {
	baseURL string
	topic   string
	httpc   *http.Client
}

func New(baseURL, topic string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		topic:   topic,
		httpc: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// Notify posts the message body with the shipment label as the title.
func (c *Client) Notify(ctx context.Context, ev models.StatusEvent, message string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+c.topic, strings.NewReader(message))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Title", ev.Label)
	req.Header.Set("Tag", messageTag)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "ntfy post")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("ntfy http %d", resp.StatusCode)
	}
	return nil
}
