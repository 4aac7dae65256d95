package http

import (
	"net/http"
	"strconv"

	"github.com/imobflow/messaging-engine/internal/http/middleware"
	"github.com/imobflow/messaging-engine/internal/model"
	"github.com/imobflow/messaging-engine/internal/repository"
	"github.com/imobflow/messaging-engine/internal/util"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

// listDeliveriesHandler serves delivery reports from the ClickHouse read
// model (eventually consistent, minutes behind MySQL).
func listDeliveriesHandler(deliveries repository.CHDeliveriesRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID, ok := middleware.TenantIDFromCtx(c)
		if !ok || tenantID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var status model.DeliveryStatus
		if s := c.QueryParam("status"); s != "" {
			st, ok := model.ParseDeliveryStatus(s)
			if !ok {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid status"})
			}
			status = st
		}

		phone := c.QueryParam("phone")
		if phone != "" {
			phone = util.NormalizePhone(phone)
		}
		limit, _ := strconv.Atoi(c.QueryParam("limit"))
		offset, _ := strconv.Atoi(c.QueryParam("offset"))

		rows, err := deliveries.ListByTenant(c.Request().Context(), tenantID, phone, status, limit, offset)
		if err != nil {
			log.Errorf("delivery report failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		out := make([]map[string]any, 0, len(rows))
		for _, d := range rows {
			item := map[string]any{
				"id":         d.ID,
				"message_id": d.MessageID,
				"channel":    d.Channel.String(),
				"direction":  d.Direction.String(),
				"status":     d.Status.String(),
				"created_at": d.CreatedAt,
			}
			if d.ProviderMessageID.Valid {
				item["provider_message_id"] = d.ProviderMessageID.String
			}
			if d.SentAt.Valid {
				item["sent_at"] = d.SentAt.Time
			}
			if d.DeliveredAt.Valid {
				item["delivered_at"] = d.DeliveredAt.Time
			}
			if d.ReadAt.Valid {
				item["read_at"] = d.ReadAt.Time
			}
			if d.FailedAt.Valid {
				item["failed_at"] = d.FailedAt.Time
			}
			if d.ErrorCode.Valid {
				item["error_code"] = d.ErrorCode.String
			}
			if d.ErrorMessage.Valid {
				item["error_message"] = d.ErrorMessage.String
			}
			out = append(out, item)
		}

		return c.JSON(http.StatusOK, map[string]any{"deliveries": out, "count": len(out)})
	}
}
