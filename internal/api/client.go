package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Guizzs26/go-datasync/internal/models"
	"github.com/Guizzs26/go-datasync/internal/query"
	"github.com/Guizzs26/go-datasync/internal/service"
)

// StatusError is an unexpected HTTP answer. It is treated as transient by the
// sync driver.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote returned %d: %s", e.Code, e.Body)
}

// Client talks to a table server. Its errors are the same values the
// TableService returns, so callers handle both sides alike.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger
}

// NewClient builds a client for baseURL. A nil httpClient gets a 30s timeout.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid remote url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{base: u, http: httpClient, logger: logger}, nil
}

func (c *Client) resolve(ref string) (string, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid link %q: %w", ref, err)
	}
	if r.IsAbs() {
		return r.String(), nil
	}
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + r.Path
	u.RawPath = ""
	if r.RawPath != "" {
		u.RawPath = strings.TrimRight(c.base.EscapedPath(), "/") + r.RawPath
	}
	u.RawQuery = r.RawQuery
	return u.String(), nil
}

// List fetches the first page of a query.
func (c *Client) List(ctx context.Context, table string, d *query.Description) (*models.Page, error) {
	qs, err := d.QueryString()
	if err != nil {
		return nil, err
	}
	ref := TablePath(table)
	if qs != "" {
		ref += "?" + qs
	}
	return c.NextPage(ctx, ref)
}

// NextPage follows a nextLink returned by the server.
func (c *Client) NextPage(ctx context.Context, nextLink string) (*models.Page, error) {
	var page models.Page
	if err := c.do(ctx, http.MethodGet, nextLink, nil, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Read fetches one record.
func (c *Client) Read(ctx context.Context, table, id string, includeDeleted bool) (*models.Record, error) {
	ref := itemPath(table, id)
	if includeDeleted {
		ref += "?" + query.ParamIncludeDeleted + "=true"
	}
	var rec models.Record
	if err := c.do(ctx, http.MethodGet, ref, nil, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) Create(ctx context.Context, table string, rec *models.Record) (*models.Record, error) {
	var out models.Record
	if err := c.do(ctx, http.MethodPost, TablePath(table), nil, rec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Replace overwrites a record; a non-empty expected version makes it
// conditional.
func (c *Client) Replace(ctx context.Context, table string, rec *models.Record, expected models.Version) (*models.Record, error) {
	return c.replace(ctx, itemPath(table, rec.ID), rec, expected)
}

// Undelete replaces a soft-deleted record, bringing it back.
func (c *Client) Undelete(ctx context.Context, table string, rec *models.Record, expected models.Version) (*models.Record, error) {
	restored := rec.Clone()
	restored.Deleted = false
	return c.replace(ctx, itemPath(table, rec.ID)+"?"+query.ParamIncludeDeleted+"=true", restored, expected)
}

func (c *Client) replace(ctx context.Context, ref string, rec *models.Record, expected models.Version) (*models.Record, error) {
	var out models.Record
	if err := c.do(ctx, http.MethodPut, ref, ifMatch(expected), rec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes a record. Deleting an absent record succeeds.
func (c *Client) Delete(ctx context.Context, table, id string, expected models.Version) error {
	return c.do(ctx, http.MethodDelete, itemPath(table, id), ifMatch(expected), nil, nil)
}

func itemPath(table, id string) string {
	return TablePath(table) + "/" + url.PathEscape(id)
}

func ifMatch(v models.Version) http.Header {
	if v.IsZero() {
		return nil
	}
	return http.Header{"If-Match": []string{v.ETag()}}
}

func (c *Client) do(ctx context.Context, method, ref string, header http.Header, in, out any) error {
	target, err := c.resolve(ref)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, ref, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, ref, err)
	}
	c.logger.Debug("Remote call", "method", method, "ref", ref, "status", resp.StatusCode)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("%s %s: decode: %w", method, ref, err)
		}
		return nil
	}
	return c.errorFrom(method, ref, resp.StatusCode, payload)
}

// errorFrom rebuilds the service error behind a failed response.
func (c *Client) errorFrom(method, ref string, status int, payload []byte) error {
	var kind service.ConflictKind
	switch status {
	case http.StatusConflict:
		kind = service.AlreadyExists
	case http.StatusPreconditionFailed:
		kind = service.VersionMismatch
	case http.StatusGone:
		kind = service.Gone
	}
	if kind != 0 {
		var current models.Record
		if err := json.Unmarshal(payload, &current); err != nil {
			return fmt.Errorf("%s %s: decode conflict: %w", method, ref, err)
		}
		return &service.ConflictError{Kind: kind, Table: tableOf(ref), ID: current.ID, Current: &current}
	}

	var msg struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(payload, &msg) != nil || msg.Error == "" {
		msg.Error = strings.TrimSpace(string(payload))
	}
	switch status {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", service.ErrNotFound, msg.Error)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", service.ErrForbidden, msg.Error)
	case http.StatusBadRequest:
		if method == http.MethodGet {
			return fmt.Errorf("%w: %s", service.ErrInvalidQuery, msg.Error)
		}
		return fmt.Errorf("%w: %s", service.ErrInvalidRecord, msg.Error)
	}
	return &StatusError{Code: status, Body: msg.Error}
}

// tableOf extracts the table segment of a /tables/<t>/... reference.
func tableOf(ref string) string {
	rest, ok := strings.CutPrefix(ref, "/tables/")
	if !ok {
		return ""
	}
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		rest = rest[:i]
	}
	t, err := url.PathUnescape(rest)
	if err != nil {
		return rest
	}
	return t
}
