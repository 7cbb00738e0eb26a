// Package sync reconciles the local durable store with the remote API.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ledgersync/internal/errors"
	"ledgersync/internal/models"
)

// TokenSource supplies the bearer credential attached to outgoing requests.
// Token acquisition itself belongs to the auth collaborator; the sync core
// only needs something attachable.
type TokenSource interface {
	Token() (string, bool)
}

// TokenFunc adapts a function to the TokenSource interface.
type TokenFunc func() (string, bool)

// Token implements TokenSource.
func (f TokenFunc) Token() (string, bool) {
	return f()
}

// RemoteError is a non-2xx response from the remote API.
type RemoteError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote returned %d: %s", e.StatusCode, e.Body)
}

// Client talks to the remote API. Timeouts are per call; a sync pass as a
// whole is never cancelled once started.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
}

// NewClient creates a Client for the given API base URL.
func NewClient(baseURL string, timeout time.Duration, tokens TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
	}
}

// endpoint returns the mutation collection endpoint for a kind.
func endpoint(kind models.Kind) string {
	return "/api/" + kind.Table()
}

// Upload replays one queued mutation against the remote API:
// INSERT posts to the collection, UPDATE puts to the record, DELETE deletes
// the record. The queue entry's event ID rides along as an idempotency key
// so a retried request cannot double-apply.
func (c *Client) Upload(ctx context.Context, entry *models.SyncQueueEntry) error {
	kind, ok := entry.Kind()
	if !ok {
		return errors.New(errors.ErrInvalid, fmt.Sprintf("queue entry for unknown table %q", entry.TableName))
	}

	var method, url string
	var body io.Reader
	switch entry.Operation {
	case models.OpInsert:
		method, url = http.MethodPost, c.baseURL+endpoint(kind)
		body = bytes.NewReader(entry.Payload)
	case models.OpUpdate:
		method, url = http.MethodPut, fmt.Sprintf("%s%s/%d", c.baseURL, endpoint(kind), entry.RecordID)
		body = bytes.NewReader(entry.Payload)
	case models.OpDelete:
		method, url = http.MethodDelete, fmt.Sprintf("%s%s/%d", c.baseURL, endpoint(kind), entry.RecordID)
	default:
		return errors.New(errors.ErrInvalid, fmt.Sprintf("queue entry with unknown operation %q", entry.Operation))
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to build upload request", err)
	}
	c.setHeaders(req)
	req.Header.Set("X-Event-ID", entry.EventID)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrSyncTransport, "upload request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RemoteError{StatusCode: resp.StatusCode, Body: readSnippet(resp.Body)}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// Changes pulls the records of one table changed since the given time.
func (c *Client) Changes(ctx context.Context, kind models.Kind, since time.Time) ([]json.RawMessage, error) {
	url := fmt.Sprintf("%s/api/sync/%s?since=%s", c.baseURL, kind.Table(), since.UTC().Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to build changes request", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrSyncTransport, "changes request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RemoteError{StatusCode: resp.StatusCode, Body: readSnippet(resp.Body)}
	}

	var envelope struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, errors.Wrap(errors.ErrSyncTransport, "failed to decode changes response", err)
	}
	return envelope.Data, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.tokens != nil {
		if token, ok := c.tokens.Token(); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
}

func readSnippet(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 256))
	return string(data)
}
