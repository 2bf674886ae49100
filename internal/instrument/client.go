package instrument

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// defaultRequestTimeout bounds a single read from an instrument's
// embedded HTTP server. These servers answer from RAM; anything slower
// than this means the instrument is effectively unreachable.
const defaultRequestTimeout = 10 * time.Second

// maxResponseBytes caps how much of an instrument response is read.
// Timing and sensor_info payloads are a few hundred bytes at most.
const maxResponseBytes = 1 << 16

// Client reads timing configuration and sensor state from an
// instrument's embedded HTTP server.
//
// The client is deliberately simple: no retries, no auth refresh. Timing
// reads are fail-soft at the caller (stale cache beats no cache) and
// sensor_info is a one-shot reconciliation read.
//
// Thread Safety: safe for concurrent use from multiple goroutines.
type Client struct {
	httpClient *http.Client
}

// NewClient creates an instrument HTTP client. A non-positive timeout
// selects the default.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchTiming reads the instrument's timing configuration
// (GET /devices/{serial}/timing).
func (c *Client) FetchTiming(ctx context.Context, inst *Instrument) (*TimingInfo, error) {
	var timing TimingInfo
	if err := c.getJSON(ctx, inst, "timing", &timing); err != nil {
		return nil, err
	}
	return &timing, nil
}

// FetchSensorInfo reads the instrument's self-reported sensor state
// (GET /devices/{serial}/sensor_info).
func (c *Client) FetchSensorInfo(ctx context.Context, inst *Instrument) (*SensorInfo, error) {
	var info SensorInfo
	if err := c.getJSON(ctx, inst, "sensor_info", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// getJSON performs a GET against the instrument and decodes the JSON body.
func (c *Client) getJSON(ctx context.Context, inst *Instrument, resource string, out any) error {
	endpoint := instrumentURL(inst, resource)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: building request: %w", ErrRequestFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: reading body: %w", ErrRequestFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned status %d", ErrBadResponse, resource, resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decoding %s: %w", ErrBadResponse, resource, err)
	}

	return nil
}

// instrumentURL builds the URL for a resource on the instrument's
// embedded server.
func instrumentURL(inst *Instrument, resource string) string {
	host := inst.Host
	if inst.Port > 0 && inst.Port != 80 {
		host = host + ":" + strconv.Itoa(inst.Port)
	}
	u := url.URL{
		Scheme: "http",
		Host:   host,
		Path:   "/devices/" + inst.Serial + "/" + resource,
	}
	return u.String()
}
