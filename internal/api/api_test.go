package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-datasync/internal/db"
	"github.com/Guizzs26/go-datasync/internal/models"
	"github.com/Guizzs26/go-datasync/internal/query"
	"github.com/Guizzs26/go-datasync/internal/query/ast"
	"github.com/Guizzs26/go-datasync/internal/service"
)

func newTestServer(t *testing.T, opts service.TableOptions) (*httptest.Server, *Client) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	svc := service.NewTableService(db.NewMemoryRepository(), opts, logger)
	srv := httptest.NewServer(NewRouter(NewTableHandler(svc, logger), logger))
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL, srv.Client(), logger)
	require.NoError(t, err)
	return srv, client
}

func TestClientRoundTrip(t *testing.T) {
	_, client := newTestServer(t, service.TableOptions{SoftDelete: true})
	ctx := context.Background()

	created, err := client.Create(ctx, "todos", &models.Record{ID: "a", Data: map[string]any{"title": "milk"}})
	require.NoError(t, err)
	assert.Equal(t, "a", created.ID)
	assert.False(t, created.Version.IsZero())

	got, err := client.Read(ctx, "todos", "a", false)
	require.NoError(t, err)
	assert.True(t, got.Version.Equal(created.Version))
	assert.Equal(t, "milk", got.Data["title"])

	got.Data["title"] = "oat milk"
	replaced, err := client.Replace(ctx, "todos", got, got.Version)
	require.NoError(t, err)
	assert.False(t, replaced.Version.Equal(created.Version))

	require.NoError(t, client.Delete(ctx, "todos", "a", replaced.Version))
	require.NoError(t, client.Delete(ctx, "todos", "never-existed", nil))

	deleted, err := client.Read(ctx, "todos", "a", true)
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)

	restored, err := client.Undelete(ctx, "todos", deleted, deleted.Version)
	require.NoError(t, err)
	assert.False(t, restored.Deleted)
}

func TestClientConflictsCarryServerRecord(t *testing.T) {
	_, client := newTestServer(t, service.TableOptions{SoftDelete: true})
	ctx := context.Background()

	first, err := client.Create(ctx, "todos", &models.Record{ID: "a", Data: map[string]any{"n": 1}})
	require.NoError(t, err)

	_, err = client.Create(ctx, "todos", &models.Record{ID: "a"})
	ce, ok := service.AsConflict(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, service.AlreadyExists, ce.Kind)
	assert.Equal(t, "todos", ce.Table)
	assert.True(t, ce.Current.Version.Equal(first.Version))

	second, err := client.Replace(ctx, "todos", &models.Record{ID: "a", Data: map[string]any{"n": 2}}, nil)
	require.NoError(t, err)

	_, err = client.Replace(ctx, "todos", &models.Record{ID: "a", Data: map[string]any{"n": 3}}, first.Version)
	ce, ok = service.AsConflict(err)
	require.True(t, ok)
	assert.Equal(t, service.VersionMismatch, ce.Kind)
	assert.True(t, ce.Current.Version.Equal(second.Version))
	assert.Equal(t, json.Number("2"), ce.Current.Data["n"])

	require.NoError(t, client.Delete(ctx, "todos", "a", nil))
	_, err = client.Read(ctx, "todos", "a", false)
	ce, ok = service.AsConflict(err)
	require.True(t, ok)
	assert.Equal(t, service.Gone, ce.Kind)
	assert.True(t, ce.Current.Deleted)

	_, err = client.Read(ctx, "todos", "zzz", false)
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestClientListFollowsNextLinks(t *testing.T) {
	_, client := newTestServer(t, service.TableOptions{MaxPageSize: 2})
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		_, err := client.Create(ctx, "todos", &models.Record{ID: id, Data: map[string]any{"title": "t " + id}})
		require.NoError(t, err)
	}

	d, err := query.NewBuilder().
		Where(ast.Ne(ast.Field(models.FieldID, ast.KindString), ast.Const("c"))).
		OrderBy(ast.Field(models.FieldUpdatedAt, ast.KindDateTimeOffset)).
		ThenBy(ast.Field(models.FieldID, ast.KindString)).
		IncludeTotalCount().
		Build()
	require.NoError(t, err)

	page, err := client.List(ctx, "todos", d)
	require.NoError(t, err)
	require.NotNil(t, page.Count)
	assert.Equal(t, int64(4), *page.Count)

	var ids []string
	for {
		for _, it := range page.Items {
			ids = append(ids, it.ID)
		}
		if page.NextLink == "" {
			break
		}
		assert.Contains(t, page.NextLink, query.ParamCursor+"=")
		page, err = client.NextPage(ctx, page.NextLink)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b", "d", "e"}, ids)
}

func TestListRejectsMalformedQueries(t *testing.T) {
	srv, client := newTestServer(t, service.TableOptions{})

	_, err := client.NextPage(context.Background(), "/tables/todos?$filter=(age%20gt")
	assert.ErrorIs(t, err, service.ErrInvalidQuery)

	resp, err := srv.Client().Get(srv.URL + "/tables/todos?$frobnicate=1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConditionalRead(t *testing.T) {
	srv, client := newTestServer(t, service.TableOptions{})
	ctx := context.Background()
	rec, err := client.Create(ctx, "todos", &models.Record{ID: "a"})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/tables/todos/a", nil)
	require.NoError(t, err)
	req.Header.Set("If-None-Match", rec.Version.ETag())
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotModified, resp.StatusCode)
	assert.Equal(t, rec.Version.ETag(), resp.Header.Get("ETag"))

	req.Header.Set("If-None-Match", models.NewVersion().ETag())
	resp, err = srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestInvalidIfMatch(t *testing.T) {
	srv, _ := newTestServer(t, service.TableOptions{})
	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/tables/todos/a", nil)
	require.NoError(t, err)
	req.Header.Set("If-Match", "not-quoted")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusOf(t *testing.T) {
	cases := map[error]int{
		&service.ConflictError{Kind: service.AlreadyExists}:   http.StatusConflict,
		&service.ConflictError{Kind: service.VersionMismatch}: http.StatusPreconditionFailed,
		&service.ConflictError{Kind: service.Gone}:            http.StatusGone,
		service.ErrNotFound:                                   http.StatusNotFound,
		service.ErrUnknownTable:                               http.StatusNotFound,
		service.ErrForbidden:                                  http.StatusForbidden,
		service.ErrInvalidQuery:                               http.StatusBadRequest,
		&query.SyntaxError{Param: "$filter"}:                  http.StatusBadRequest,
		errors.New("boom"):                                    http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, StatusOf(err), err.Error())
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, service.TableOptions{})
	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := srv.Client().Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
