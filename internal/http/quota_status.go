package http

import (
	"net/http"

	echo "github.com/labstack/echo/v4"

	"github.com/usagegate/usagegate/internal/governance"
)

// quotaStatusHandler reports current consumption against every ceiling of
// the caller's tier.
func quotaStatusHandler(g *governance.Governor) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID, _ := c.Get(governance.CtxTenantID).(string)
		if tenantID == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "tenant required"})
		}
		tierName, _ := c.Get(governance.CtxTier).(string)

		statuses := g.Quota().Status(c.Request().Context(), tenantID, g.Tier(tierName))

		return c.JSON(http.StatusOK, map[string]any{
			"tenant_id": tenantID,
			"tier":      tierName,
			"quotas":    statuses,
		})
	}
}
