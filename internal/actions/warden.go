package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/solatis/ideafilter/internal/types"
)

const wardenTimeout = 30 * time.Second

// Submitter delivers records to a Warden hub.
type Submitter interface {
	Submit(ctx context.Context, record types.Record) error
}

// WardenClient submits records to the sendEvents endpoint of a Warden hub.
type WardenClient struct {
	endpoint string
	client   *http.Client
}

// NewWardenClient targets baseURL/sendEvents, identifying as clientName.
// httpClient carries the TLS client certificate; nil selects a default
// client with a timeout.
func NewWardenClient(baseURL, clientName string, httpClient *http.Client) (*WardenClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid warden url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid warden url %q: expected http or https", baseURL)
	}
	u = u.JoinPath("sendEvents")
	if clientName != "" {
		q := u.Query()
		q.Set("client", clientName)
		u.RawQuery = q.Encode()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: wardenTimeout}
	}
	return &WardenClient{endpoint: u.String(), client: httpClient}, nil
}

func (w *WardenClient) Submit(ctx context.Context, record types.Record) error {
	body, err := json.Marshal([]types.Record{record})
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("warden returned %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	return nil
}

type wardenAction struct {
	base
	submitter Submitter
}

func newWarden(b base, env Env) (*wardenAction, error) {
	if env.Warden == nil {
		return nil, invalid("warden action requires a Warden client")
	}
	return &wardenAction{base: b, submitter: env.Warden}, nil
}

func (w *wardenAction) Run(ctx context.Context, record types.Record) error {
	if err := w.submitter.Submit(ctx, record); err != nil {
		return transport(err, "submit to warden")
	}
	return nil
}
