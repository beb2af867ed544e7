package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Guizzs26/go-datasync/internal/models"
	"github.com/Guizzs26/go-datasync/internal/query"
	"github.com/Guizzs26/go-datasync/internal/service"
)

// TableHandler exposes a TableService over HTTP.
type TableHandler struct {
	svc    *service.TableService
	logger *slog.Logger
}

func NewTableHandler(svc *service.TableService, logger *slog.Logger) *TableHandler {
	return &TableHandler{svc: svc, logger: logger}
}

func includeDeleted(c *gin.Context) (bool, error) {
	v := c.Query(query.ParamIncludeDeleted)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &query.SyntaxError{Param: query.ParamIncludeDeleted, Offset: -1, Msg: "not a boolean"}
	}
	return b, nil
}

// List handles GET /tables/:table.
func (h *TableHandler) List(c *gin.Context) {
	table := c.Param("table")
	d, err := query.ParseQuery(c.Request.URL.RawQuery)
	if err != nil {
		h.fail(c, err)
		return
	}

	page, next, err := h.svc.List(c.Request.Context(), table, d)
	if err != nil {
		h.fail(c, err)
		return
	}
	if next != nil {
		qs, err := next.QueryString()
		if err != nil {
			h.fail(c, err)
			return
		}
		page.NextLink = TablePath(table) + "?" + qs
	}
	if page.Items == nil {
		page.Items = []*models.Record{}
	}
	c.JSON(http.StatusOK, page)
}

// Read handles GET /tables/:table/:id.
func (h *TableHandler) Read(c *gin.Context) {
	incl, err := includeDeleted(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	rec, err := h.svc.Read(c.Request.Context(), c.Param("table"), c.Param("id"), incl)
	if err != nil {
		h.fail(c, err)
		return
	}

	if inm := c.GetHeader("If-None-Match"); inm != "" {
		if v, err := models.ParseETag(inm); err == nil && v.Equal(rec.Version) {
			c.Header("ETag", rec.Version.ETag())
			c.Status(http.StatusNotModified)
			return
		}
	}
	h.record(c, http.StatusOK, rec)
}

// Create handles POST /tables/:table.
func (h *TableHandler) Create(c *gin.Context) {
	var in models.Record
	if err := c.ShouldBindJSON(&in); err != nil {
		h.fail(c, badBody(err))
		return
	}
	rec, err := h.svc.Create(c.Request.Context(), c.Param("table"), &in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Location", TablePath(c.Param("table"))+"/"+url.PathEscape(rec.ID))
	h.record(c, http.StatusCreated, rec)
}

// Replace handles PUT /tables/:table/:id.
func (h *TableHandler) Replace(c *gin.Context) {
	expected, err := models.ParseETag(c.GetHeader("If-Match"))
	if err != nil {
		h.fail(c, err)
		return
	}
	incl, err := includeDeleted(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var in models.Record
	if err := c.ShouldBindJSON(&in); err != nil {
		h.fail(c, badBody(err))
		return
	}
	id := c.Param("id")
	if in.ID != "" && in.ID != id {
		h.fail(c, &bodyError{msg: "id in body does not match the path"})
		return
	}
	in.ID = id

	rec, err := h.svc.Replace(c.Request.Context(), c.Param("table"), &in, expected, incl)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.record(c, http.StatusOK, rec)
}

// Delete handles DELETE /tables/:table/:id.
func (h *TableHandler) Delete(c *gin.Context) {
	expected, err := models.ParseETag(c.GetHeader("If-Match"))
	if err != nil {
		h.fail(c, err)
		return
	}
	incl, err := includeDeleted(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.svc.Delete(c.Request.Context(), c.Param("table"), c.Param("id"), expected, incl); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *TableHandler) record(c *gin.Context, status int, rec *models.Record) {
	c.Header("ETag", rec.Version.ETag())
	c.JSON(status, rec)
}

type bodyError struct{ msg string }

func (e *bodyError) Error() string { return e.msg }

func badBody(err error) error { return &bodyError{msg: "invalid request body: " + err.Error()} }

// fail writes err with its status. Conflicts carry the current server record
// as body so the client can reconcile without another round trip.
func (h *TableHandler) fail(c *gin.Context, err error) {
	if ce, ok := service.AsConflict(err); ok {
		c.Header("ETag", ce.Current.Version.ETag())
		c.JSON(StatusOf(err), ce.Current)
		return
	}

	status := StatusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// StatusOf maps a service error to its HTTP status.
func StatusOf(err error) int {
	if ce, ok := service.AsConflict(err); ok {
		switch ce.Kind {
		case service.AlreadyExists:
			return http.StatusConflict
		case service.VersionMismatch:
			return http.StatusPreconditionFailed
		case service.Gone:
			return http.StatusGone
		}
	}

	var (
		syntaxErr  *query.SyntaxError
		compileErr *query.CompileError
		bodyErr    *bodyError
	)
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrUnknownTable):
		return http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidQuery), errors.Is(err, service.ErrInvalidRecord),
		errors.Is(err, models.ErrInvalidETag),
		errors.As(err, &syntaxErr), errors.As(err, &compileErr), errors.As(err, &bodyErr):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
