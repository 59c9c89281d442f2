package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"remindd/internal/reminder"
	"remindd/internal/services/reminders"
	logx "remindd/pkg/logx"
)

type handlers struct {
	svc *reminders.Service
	log logx.Logger
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeErr maps the service error taxonomy onto HTTP statuses. Conflicts
// that survive the service-layer retry and invalid transitions both come
// back as 409: the caller raced someone and should re-read.
func (h *handlers) writeErr(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, reminder.ErrValidation):
		status, code = http.StatusBadRequest, "validation"
	case errors.Is(err, reminder.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, reminder.ErrInvalidTransition):
		status, code = http.StatusConflict, "invalid_transition"
	case errors.Is(err, reminder.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, reminder.ErrStore):
		status, code = http.StatusInternalServerError, "store"
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", logx.String("path", c.Request.URL.Path), logx.Err(err))
	}
	c.JSON(status, errorResponse{Error: err.Error(), Code: code})
}

type createRequest struct {
	EntityID    string                   `json:"entity_id"`
	ScheduledAt time.Time                `json:"scheduled_at"`
	Frequency   string                   `json:"frequency"`
	Priority    string                   `json:"priority"`
	Notes       string                   `json:"notes"`
	Client      *reminder.ClientSnapshot `json:"client"`
}

func (h *handlers) create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error(), Code: "validation"})
		return
	}
	rec, err := h.svc.Create(c.Request.Context(), reminders.CreateParams{
		EntityID:    req.EntityID,
		ScheduledAt: req.ScheduledAt,
		Frequency:   req.Frequency,
		Priority:    req.Priority,
		Notes:       req.Notes,
		Client:      req.Client,
	})
	if err != nil {
		h.writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

type updateRequest struct {
	ScheduledAt *time.Time               `json:"scheduled_at"`
	Frequency   *string                  `json:"frequency"`
	Priority    *string                  `json:"priority"`
	Notes       *string                  `json:"notes"`
	Client      *reminder.ClientSnapshot `json:"client"`
}

func (h *handlers) update(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error(), Code: "validation"})
		return
	}
	rec, err := h.svc.Update(c.Request.Context(), c.Param("id"), reminders.UpdateParams{
		ScheduledAt: req.ScheduledAt,
		Frequency:   req.Frequency,
		Priority:    req.Priority,
		Notes:       req.Notes,
		Client:      req.Client,
	})
	if err != nil {
		h.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *handlers) get(c *gin.Context) {
	rec, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *handlers) list(c *gin.Context) {
	p := reminders.ListParams{
		EntityID:   c.Query("entity_id"),
		ClientName: c.Query("client_name"),
	}
	if raw := c.Query("status"); raw != "" {
		p.Statuses = strings.Split(raw, ",")
	}
	var err error
	if p.From, err = parseTimeParam(c.Query("from")); err != nil {
		h.writeErr(c, err)
		return
	}
	if p.To, err = parseTimeParam(c.Query("to")); err != nil {
		h.writeErr(c, err)
		return
	}
	if p.Offset, err = parseIntParam(c.Query("offset")); err != nil {
		h.writeErr(c, err)
		return
	}
	if p.Limit, err = parseIntParam(c.Query("limit")); err != nil {
		h.writeErr(c, err)
		return
	}

	page, err := h.svc.List(c.Request.Context(), p)
	if err != nil {
		h.writeErr(c, err)
		return
	}
	if page.Items == nil {
		page.Items = []reminder.Reminder{}
	}
	c.JSON(http.StatusOK, page)
}

type transitionEntry struct {
	From  reminder.Status `json:"from"`
	To    reminder.Status `json:"to"`
	Actor string          `json:"actor"`
	At    time.Time       `json:"at"`
	Note  string          `json:"note,omitempty"`
}

func (h *handlers) history(c *gin.Context) {
	recs, err := h.svc.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeErr(c, err)
		return
	}
	out := make([]transitionEntry, 0, len(recs))
	for _, r := range recs {
		out = append(out, transitionEntry{From: r.From, To: r.To, Actor: r.Actor, At: r.At, Note: r.Note})
	}
	c.JSON(http.StatusOK, gin.H{"items": out})
}

func (h *handlers) cancel(c *gin.Context) {
	rec, err := h.svc.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *handlers) complete(c *gin.Context) {
	rec, err := h.svc.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *handlers) send(c *gin.Context) {
	rec, err := h.svc.SendNow(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *handlers) entityStats(c *gin.Context) {
	stats, err := h.svc.EntityStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *handlers) dashboardStats(c *gin.Context) {
	p := reminders.ListParams{
		EntityID:   c.Query("entity_id"),
		ClientName: c.Query("client_name"),
	}
	var err error
	if p.From, err = parseTimeParam(c.Query("from")); err != nil {
		h.writeErr(c, err)
		return
	}
	if p.To, err = parseTimeParam(c.Query("to")); err != nil {
		h.writeErr(c, err)
		return
	}
	stats, err := h.svc.DashboardStats(c.Request.Context(), p)
	if err != nil {
		h.writeErr(c, err)
		return
	}
	if stats.AwaitingResponse == nil {
		stats.AwaitingResponse = []string{}
	}
	c.JSON(http.StatusOK, stats)
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid time parameter %q (RFC 3339 expected)", reminder.ErrValidation, raw)
	}
	return t, nil
}

func parseIntParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid integer parameter %q", reminder.ErrValidation, raw)
	}
	return n, nil
}
