package relay

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/fxamacker/cbor/v2"

	"ecliptix/internal/domain"
)

// Client talks to a relay server over HTTP with CBOR bodies.
type Client struct {
	Base string
	HTTP *http.Client
}

var _ domain.RelayClient = (*Client)(nil)

// NewClient returns a client for the relay at base.
func NewClient(base string) *Client {
	return &Client{Base: base, HTTP: http.DefaultClient}
}

// Post queues env for its recipient. The relay assigns the envelope id.
func (c *Client) Post(ctx context.Context, env domain.RelayEnvelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/envelopes", &env, nil)
}

// Collect lists queued envelopes for me, oldest first, without removing
// them. A non-positive limit leaves the count to the relay.
func (c *Client) Collect(ctx context.Context, me domain.Username, limit int) ([]domain.RelayEnvelope, error) {
	path := "/envelopes/" + url.PathEscape(string(me))
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []domain.RelayEnvelope
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Ack discards the oldest count envelopes for me.
func (c *Client) Ack(ctx context.Context, me domain.Username, count int) error {
	path := "/envelopes/" + url.PathEscape(string(me)) + "/ack"
	return c.do(ctx, http.MethodPost, path, ackRequest{Count: count}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body *bytes.Buffer
	if in != nil {
		body = new(bytes.Buffer)
		if err := cbor.NewEncoder(body).Encode(in); err != nil {
			return err
		}
	} else {
		body = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("relay %s %s: %s", method, path, resp.Status)
	}
	if out != nil {
		return cbor.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
