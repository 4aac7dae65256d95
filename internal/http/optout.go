package http

import (
	"net/http"
	"strings"

	"github.com/imobflow/messaging-engine/internal/http/middleware"
	"github.com/imobflow/messaging-engine/internal/optout"
	"github.com/imobflow/messaging-engine/internal/util"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

type optOutReq struct {
	Phone   string `json:"phone"`
	OptedIn bool   `json:"opted_in"`
	Reason  string `json:"reason,omitempty"`
}

// setOptOutHandler is the manual compliance path: an operator records an
// opt-out (or restores an opt-in) on behalf of a contact.
func setOptOutHandler(registry *optout.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req optOutReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		tenantID, ok := middleware.TenantIDFromCtx(c)
		if !ok || tenantID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		phone := util.NormalizePhone(strings.TrimSpace(req.Phone))
		if !util.ValidE164(phone) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid phone"})
		}

		if err := registry.Set(c.Request().Context(), tenantID, phone, req.OptedIn, req.Reason, "api"); err != nil {
			log.Errorf("opt-out set failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusOK, map[string]any{"phone": phone, "opted_in": req.OptedIn})
	}
}

func getOptOutHandler(registry *optout.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID, ok := middleware.TenantIDFromCtx(c)
		if !ok || tenantID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		phone := util.NormalizePhone(c.Param("phone"))
		optedOut, err := registry.IsOptedOut(c.Request().Context(), tenantID, phone)
		if err != nil {
			log.Errorf("opt-out lookup failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "lookup error"})
		}
		return c.JSON(http.StatusOK, map[string]any{"phone": phone, "opted_out": optedOut})
	}
}
