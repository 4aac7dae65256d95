package http

import (
	"net/http"

	"github.com/imobflow/messaging-engine/internal/model"
	"github.com/imobflow/messaging-engine/internal/webhook"
	"github.com/labstack/echo/v4"
)

// webhookHandler receives normalized provider callbacks. Providers deliver
// at-least-once; the ingestor's idempotency keys make replays safe, so this
// endpoint always answers 200 for well-formed payloads to stop retries.
func webhookHandler(ingestor *webhook.Ingestor) echo.HandlerFunc {
	return func(c echo.Context) error {
		channel, ok := model.ParseChannel(c.Param("channel"))
		if !ok {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown channel"})
		}

		var p webhook.Payload
		if err := c.Bind(&p); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if p.TenantID <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing tenant_id"})
		}
		p.Channel = channel

		res := ingestor.Process(c.Request().Context(), p)
		return c.JSON(http.StatusOK, res)
	}
}
