package http

import (
	"net/http"
	"strconv"

	"github.com/imobflow/messaging-engine/internal/conversation"
	"github.com/imobflow/messaging-engine/internal/http/middleware"
	"github.com/imobflow/messaging-engine/internal/model"
	"github.com/imobflow/messaging-engine/internal/repository"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

// ownedConversation loads the conversation and enforces tenant scoping.
func ownedConversation(c echo.Context, convs *conversation.Manager) (*model.Conversation, int, map[string]string) {
	tenantID, ok := middleware.TenantIDFromCtx(c)
	if !ok || tenantID <= 0 {
		return nil, http.StatusUnauthorized, map[string]string{"error": "unauthorized"}
	}

	conv, err := convs.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		log.Errorf("conversation lookup failed: %v", err)
		return nil, http.StatusInternalServerError, map[string]string{"error": "db error"}
	}
	if conv == nil || conv.TenantID != tenantID {
		return nil, http.StatusNotFound, map[string]string{"error": "conversation not found"}
	}
	return conv, 0, nil
}

func getConversationHandler(convs *conversation.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		conv, code, errBody := ownedConversation(c, convs)
		if errBody != nil {
			return c.JSON(code, errBody)
		}
		return c.JSON(http.StatusOK, conv)
	}
}

func listThreadHandler(convs *conversation.Manager, threads repository.ThreadRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		conv, code, errBody := ownedConversation(c, convs)
		if errBody != nil {
			return c.JSON(code, errBody)
		}

		limit, _ := strconv.Atoi(c.QueryParam("limit"))
		offset, _ := strconv.Atoi(c.QueryParam("offset"))

		items, err := threads.ListByConversation(c.Request().Context(), conv.ID, limit, offset)
		if err != nil {
			log.Errorf("thread list failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusOK, map[string]any{"messages": items})
	}
}

func markReadHandler(convs *conversation.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		conv, code, errBody := ownedConversation(c, convs)
		if errBody != nil {
			return c.JSON(code, errBody)
		}
		if err := convs.MarkAsRead(c.Request().Context(), conv.ID); err != nil {
			log.Errorf("mark read failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusOK, map[string]any{"read": true})
	}
}

type assignReq struct {
	UserID int64 `json:"user_id"`
}

func assignHandler(convs *conversation.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		conv, code, errBody := ownedConversation(c, convs)
		if errBody != nil {
			return c.JSON(code, errBody)
		}

		var req assignReq
		if err := c.Bind(&req); err != nil || req.UserID <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if err := convs.Assign(c.Request().Context(), conv.ID, req.UserID); err != nil {
			log.Errorf("assign failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusOK, map[string]any{"assigned_to": req.UserID})
	}
}

func closeConversationHandler(convs *conversation.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		conv, code, errBody := ownedConversation(c, convs)
		if errBody != nil {
			return c.JSON(code, errBody)
		}
		if err := convs.Close(c.Request().Context(), conv.ID); err != nil {
			log.Errorf("close failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusOK, map[string]any{"status": "closed"})
	}
}

func reopenConversationHandler(convs *conversation.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		conv, code, errBody := ownedConversation(c, convs)
		if errBody != nil {
			return c.JSON(code, errBody)
		}
		if err := convs.Reopen(c.Request().Context(), conv.ID); err != nil {
			log.Errorf("reopen failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusOK, map[string]any{"status": "active"})
	}
}

func conversationStatsHandler(convs *conversation.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID, ok := middleware.TenantIDFromCtx(c)
		if !ok || tenantID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		stats, err := convs.Stats(c.Request().Context(), tenantID)
		if err != nil {
			log.Errorf("stats failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusOK, stats)
	}
}
