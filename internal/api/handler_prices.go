package api

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/spotguard/spotguard/internal/pool"
	"github.com/spotguard/spotguard/internal/store"
)

// PriceHandler serves the consolidated pricing tier
type PriceHandler struct {
	store    *store.Store
	registry *pool.Registry
}

// NewPriceHandler creates a new price handler
func NewPriceHandler(s *store.Store, r *pool.Registry) *PriceHandler {
	return &PriceHandler{store: s, registry: r}
}

// Series handles GET /api/v1/pools/:id/prices?from=...&to=...
// Defaults to the trailing 24 hours.
func (h *PriceHandler) Series(c echo.Context) error {
	poolID := c.Param("id")
	if !h.registry.Exists(poolID) {
		return ErrorNotFound(c, "Unknown pool")
	}

	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)

	if raw := c.QueryParam("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return ErrorBadRequest(c, "from must be RFC3339")
		}
		from = parsed
	}
	if raw := c.QueryParam("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return ErrorBadRequest(c, "to must be RFC3339")
		}
		to = parsed
	}
	if !to.After(from) {
		return ErrorBadRequest(c, "to must be after from")
	}

	points, err := h.store.PricePoints.ListRange(c.Request().Context(), poolID, from, to)
	if err != nil {
		return ErrorFromStore(c, err)
	}

	return SuccessList(c, points, len(points))
}

// Latest handles GET /api/v1/pools/:id/prices/latest
func (h *PriceHandler) Latest(c echo.Context) error {
	poolID := c.Param("id")
	if !h.registry.Exists(poolID) {
		return ErrorNotFound(c, "Unknown pool")
	}

	point, err := h.store.PricePoints.Latest(c.Request().Context(), poolID)
	if err != nil {
		return ErrorFromStore(c, err)
	}

	return SuccessOK(c, point)
}

// Pools handles GET /api/v1/pools
func (h *PriceHandler) Pools(c echo.Context) error {
	pools := h.registry.List()
	return SuccessList(c, pools, len(pools))
}
