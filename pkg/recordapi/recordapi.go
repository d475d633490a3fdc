// Package recordapi writes records to the remote record store: log batches
// to the logs view and heartbeats and preferences to the account view.
package recordapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/wndlink/wndlink/pkg/logger"
)

// Record is the store's view of a written record.
type Record struct {
	ID     string                 `json:"id"`
	Fields map[string]interface{} `json:"-"`
}

// Writer creates or updates one record. An empty recordID creates; an empty
// method is derived from recordID.
type Writer interface {
	Write(ctx context.Context, target, recordID string, fields map[string]interface{}, method string) (Record, error)
}

// Error is a non-2xx answer from the record store.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("record API error (status %d): %s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying later may succeed.
func (e *Error) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// MethodFor picks POST for creates and PUT for updates.
func MethodFor(recordID, method string) string {
	if method != "" {
		return strings.ToUpper(method)
	}
	if recordID == "" {
		return http.MethodPost
	}
	return http.MethodPut
}

// Client is the REST Writer.
type Client struct {
	http *resty.Client
}

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewClient builds a client for the store at opts.BaseURL.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	if opts.APIKey != "" {
		rc.SetAuthToken(opts.APIKey)
	}
	return &Client{http: rc}
}

// Write sends fields to <base>/<target>/records[/<recordID>].
func (c *Client) Write(ctx context.Context, target, recordID string, fields map[string]interface{}, method string) (Record, error) {
	if target == "" {
		return Record{}, fmt.Errorf("record write: empty target")
	}
	path := recordPath(target, recordID)
	method = MethodFor(recordID, method)

	var out map[string]interface{}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(fields).
		SetResult(&out).
		Execute(method, path)
	if err != nil {
		return Record{}, fmt.Errorf("record write %s %s: %w", method, path, err)
	}
	if resp.IsError() {
		apiErr := &Error{StatusCode: resp.StatusCode(), Body: strings.TrimSpace(resp.String())}
		logger.WarnCF("recordapi", "Record write rejected", map[string]interface{}{
			"method": method,
			"path":   path,
			"status": apiErr.StatusCode,
		})
		return Record{}, apiErr
	}

	rec := Record{ID: recordID, Fields: out}
	if id, ok := out["id"].(string); ok && id != "" {
		rec.ID = id
	}
	logger.DebugCF("recordapi", "Record written", map[string]interface{}{
		"method": method,
		"path":   path,
		"id":     rec.ID,
	})
	return rec, nil
}

// recordPath escapes each segment of target and the record id.
func recordPath(target, recordID string) string {
	var b strings.Builder
	for _, seg := range strings.Split(strings.Trim(target, "/"), "/") {
		if seg == "" {
			continue
		}
		b.WriteString("/" + url.PathEscape(seg))
	}
	b.WriteString("/records")
	if recordID != "" {
		b.WriteString("/" + url.PathEscape(recordID))
	}
	return b.String()
}

var _ Writer = (*Client)(nil)
