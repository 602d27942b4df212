// Package adapters connects the decision coordinator to external collaborators.
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"contramind/internal/kernel"
	"contramind/pkg/platform/circuit"
)

const worldcheckCheckType = "issuer_verify"

// WorldcheckClient asks the one-bit service whether a NEED_ONE_BIT request may
// pass. Calls go through a circuit breaker; while it is open Query returns
// circuit.ErrOpen without touching the network.
type WorldcheckClient struct {
	baseURL string
	client  *http.Client
	breaker *circuit.Breaker
	logger  *slog.Logger
}

type WorldcheckOption func(*WorldcheckClient)

func WithHTTPClient(c *http.Client) WorldcheckOption {
	return func(w *WorldcheckClient) {
		w.client = c
	}
}

func WithBreaker(b *circuit.Breaker) WorldcheckOption {
	return func(w *WorldcheckClient) {
		w.breaker = b
	}
}

func WithWorldcheckLogger(logger *slog.Logger) WorldcheckOption {
	return func(w *WorldcheckClient) {
		w.logger = logger
	}
}

func NewWorldcheckClient(baseURL string, timeout time.Duration, opts ...WorldcheckOption) *WorldcheckClient {
	w := &WorldcheckClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		breaker: circuit.New("worldcheck"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type worldcheckRequest struct {
	Type      string `json:"type"`
	Country   string `json:"country"`
	ContextID string `json:"context_id,omitempty"`
}

type worldcheckResponse struct {
	Bit *bool `json:"bit"`
}

func (w *WorldcheckClient) Query(ctx context.Context, req kernel.Request) (bool, error) {
	if !w.breaker.Allow() {
		return false, circuit.ErrOpen
	}
	bit, err := w.query(ctx, req)
	if err != nil {
		if _, change := w.breaker.RecordFailure(); change.Opened {
			w.logger.WarnContext(ctx, "worldcheck circuit opened", "error", err)
		}
		return false, err
	}
	if _, change := w.breaker.RecordSuccess(); change.Closed {
		w.logger.InfoContext(ctx, "worldcheck circuit closed")
	}
	return bit, nil
}

func (w *WorldcheckClient) query(ctx context.Context, req kernel.Request) (bool, error) {
	body, err := json.Marshal(worldcheckRequest{
		Type:      worldcheckCheckType,
		Country:   req.Country,
		ContextID: req.ContextID,
	})
	if err != nil {
		return false, fmt.Errorf("encode worldcheck request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build worldcheck request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("worldcheck request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return false, fmt.Errorf("worldcheck returned status %d", resp.StatusCode)
	}
	var out worldcheckResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return false, fmt.Errorf("decode worldcheck response: %w", err)
	}
	if out.Bit == nil {
		return false, errors.New("worldcheck response has no bit")
	}
	return *out.Bit, nil
}
