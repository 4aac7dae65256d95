package http

import (
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/imobflow/messaging-engine/internal/http/middleware"
	"github.com/imobflow/messaging-engine/internal/model"
	"github.com/imobflow/messaging-engine/internal/queue"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

type sendReq struct {
	Channel      string            `json:"channel"`
	Phone        string            `json:"phone"`
	Body         string            `json:"body,omitempty"`
	TemplateName string            `json:"template_name,omitempty"`
	TemplateVars map[string]string `json:"template_vars,omitempty"`
	Priority     string            `json:"priority,omitempty"`
	ScheduledFor *time.Time        `json:"scheduled_for,omitempty"`
	MaxRetries   int               `json:"max_retries,omitempty"`
}

func (r sendReq) toEnqueue(tenantID int64) (queue.EnqueueRequest, error) {
	channel, ok := model.ParseChannel(r.Channel)
	if !ok {
		return queue.EnqueueRequest{}, errors.New("invalid channel")
	}
	priority, ok := model.ParsePriority(r.Priority)
	if !ok {
		return queue.EnqueueRequest{}, errors.New("invalid priority")
	}
	if utf8.RuneCountInString(r.Body) > 4096 {
		return queue.EnqueueRequest{}, errors.New("body too long")
	}
	return queue.EnqueueRequest{
		TenantID:     tenantID,
		Channel:      channel,
		Phone:        strings.TrimSpace(r.Phone),
		Body:         strings.TrimSpace(r.Body),
		TemplateName: strings.TrimSpace(r.TemplateName),
		TemplateVars: r.TemplateVars,
		Priority:     priority,
		ScheduledFor: r.ScheduledFor,
		MaxRetries:   r.MaxRetries,
	}, nil
}

func sendMessageHandler(queueSvc *queue.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req sendReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		tenantID, ok := middleware.TenantIDFromCtx(c)
		if !ok || tenantID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		er, err := req.toEnqueue(tenantID)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}

		id, err := queueSvc.Enqueue(c.Request().Context(), er)
		if err != nil {
			if errors.Is(err, queue.ErrValidation) {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
			}
			log.Errorf("enqueue failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusAccepted, map[string]any{
			"enqueued": true,
			"id":       id,
		})
	}
}

type bulkSendReq struct {
	Messages []sendReq `json:"messages"`
}

const maxBulkSize = 500

func sendBulkHandler(queueSvc *queue.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req bulkSendReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if len(req.Messages) == 0 || len(req.Messages) > maxBulkSize {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "batch size out of range"})
		}

		tenantID, ok := middleware.TenantIDFromCtx(c)
		if !ok || tenantID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		reqs := make([]queue.EnqueueRequest, 0, len(req.Messages))
		results := make([]queue.BulkResult, len(req.Messages))
		indexes := make([]int, 0, len(req.Messages))
		for i, m := range req.Messages {
			er, err := m.toEnqueue(tenantID)
			if err != nil {
				results[i] = queue.BulkResult{Index: i, Error: err.Error()}
				continue
			}
			reqs = append(reqs, er)
			indexes = append(indexes, i)
		}

		for j, r := range queueSvc.EnqueueBulk(c.Request().Context(), reqs) {
			r.Index = indexes[j]
			results[r.Index] = r
		}

		return c.JSON(http.StatusMultiStatus, map[string]any{"results": results})
	}
}

func cancelMessageHandler(queueSvc *queue.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		if id == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing id"})
		}

		if err := queueSvc.Cancel(c.Request().Context(), id); err != nil {
			if errors.Is(err, queue.ErrNotFound) {
				return c.JSON(http.StatusNotFound, map[string]string{"error": "message not found or already final"})
			}
			log.Errorf("cancel failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusOK, map[string]any{"cancelled": true, "id": id})
	}
}
