package http

import (
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/usagegate/usagegate/internal/governance"
	"github.com/usagegate/usagegate/internal/model"
	"github.com/usagegate/usagegate/internal/repository"
	"github.com/usagegate/usagegate/internal/usage"
)

func listUsageRecordsHandler(repo repository.UsageRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID, _ := c.Get(governance.CtxTenantID).(string)
		if tenantID == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "tenant required"})
		}

		limit := 50
		offset := 0
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		var category model.ResourceCategory
		if raw := strings.TrimSpace(c.QueryParam("category")); raw != "" {
			if parsed, ok := model.ParseResourceCategory(raw); ok {
				category = parsed
			}
		}

		recs, err := repo.ListByTenant(c.Request().Context(), tenantID, category, limit, offset)
		if err != nil {
			log.Errorf("usage records list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		err = c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(recs),
			"results": recs,
		})

		// reporting traffic is itself metered bandwidth
		usage.Add(c, model.CategoryBandwidth, c.Response().Size, "byte")

		return err
	}
}
