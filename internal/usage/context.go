package usage

import (
	echo "github.com/labstack/echo/v4"

	"github.com/usagegate/usagegate/internal/model"
)

const metricsKey = "usage_metrics"

// Metric is one handler-reported consumption item (tokens, bytes, items)
// collected through the request side-channel.
type Metric struct {
	Category model.ResourceCategory
	Quantity int64
	Unit     string
}

// Add reports extra resource consumption for the current request. Handlers
// call it before returning; the recorder turns each entry into a usage
// record after the response is ready.
func Add(c echo.Context, cat model.ResourceCategory, qty int64, unit string) {
	if qty <= 0 || !cat.Valid() {
		return
	}
	collected, _ := c.Get(metricsKey).([]Metric)
	c.Set(metricsKey, append(collected, Metric{Category: cat, Quantity: qty, Unit: unit}))
}

// Collected returns the metrics reported so far for this request.
func Collected(c echo.Context) []Metric {
	collected, _ := c.Get(metricsKey).([]Metric)
	return collected
}
