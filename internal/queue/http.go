package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTP is a client for a remote job queue exposing
//
//	GET  {base}/jobs?status=PENDING        → []Job
//	POST {base}/jobs/{id}/status           ← {"status": "...", "error": "..."}
//
// The server answers 404 for unknown jobs and 409 when the job is not in the
// state the update expects; a 409 on a PRINTING update is a lost claim.
type HTTP struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewHTTP creates a client with a bounded request timeout.
func NewHTTP(baseURL, apiKey string) *HTTP {
	return &HTTP{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type statusUpdate struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// FetchPending implements Queue.
func (h *HTTP) FetchPending(ctx context.Context) ([]Job, error) {
	req, err := h.request(ctx, http.MethodGet, "/jobs?status="+url.QueryEscape(string(StatusPending)), nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch pending jobs: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch pending jobs: %s", responseError(resp))
	}
	var jobs []Job
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		return nil, fmt.Errorf("fetch pending jobs: decode: %w", err)
	}
	return jobs, nil
}

// MarkPrinting implements Queue.
func (h *HTTP) MarkPrinting(ctx context.Context, id string) error {
	return h.update(ctx, id, statusUpdate{Status: StatusPrinting})
}

// MarkCompleted implements Queue.
func (h *HTTP) MarkCompleted(ctx context.Context, id string) error {
	return h.update(ctx, id, statusUpdate{Status: StatusCompleted})
}

// MarkFailed implements Queue.
func (h *HTTP) MarkFailed(ctx context.Context, id string, reason string) error {
	return h.update(ctx, id, statusUpdate{Status: StatusFailed, Error: reason})
}

func (h *HTTP) update(ctx context.Context, id string, body statusUpdate) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return updateErr(id, body.Status, err)
	}
	req, err := h.request(ctx, http.MethodPost, "/jobs/"+url.PathEscape(id)+"/status", raw)
	if err != nil {
		return updateErr(id, body.Status, err)
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return updateErr(id, body.Status, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return updateErr(id, body.Status, ErrNotFound)
	case http.StatusConflict:
		if body.Status == StatusPrinting {
			return updateErr(id, body.Status, ErrAlreadyClaimed)
		}
		return updateErr(id, body.Status, fmt.Errorf("%w: %s", ErrInvalidTransition, responseError(resp)))
	default:
		return updateErr(id, body.Status, errors.New(responseError(resp)))
	}
}

func (h *HTTP) request(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.BaseURL+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.APIKey != "" {
		req.Header.Set("X-Api-Key", h.APIKey)
	}
	return req, nil
}

func responseError(resp *http.Response) string {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if s := strings.TrimSpace(string(msg)); s != "" {
		return fmt.Sprintf("HTTP %d: %s", resp.StatusCode, s)
	}
	return fmt.Sprintf("HTTP %d", resp.StatusCode)
}
