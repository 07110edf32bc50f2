// Package server provides HTTP handlers and server setup for the pricing
// analytics API. Read endpoints serve the current snapshot and never touch
// storage; quotes combine the snapshot's spot prices with the registry's
// structural rates.
package server

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"pricefeed/internal/core"
	"pricefeed/internal/pricing"
	"pricefeed/internal/registry"
	"pricefeed/internal/snapshot"
)

// Recomputer triggers one recomputation cycle on demand.
type Recomputer interface {
	Run(ctx context.Context) error
}

// Handler holds the HTTP handlers
type Handler struct {
	registry   *registry.Registry
	snapshots  *snapshot.Holder
	recomputer Recomputer
}

// NewHandler creates a new handler serving the given registry and snapshot
// holder. The recomputer may be nil; the admin trigger then returns 503.
func NewHandler(reg *registry.Registry, snapshots *snapshot.Holder, recomputer Recomputer) *Handler {
	return &Handler{
		registry:   reg,
		snapshots:  snapshots,
		recomputer: recomputer,
	}
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ListModels handles GET /v1/models
func (h *Handler) ListModels(c echo.Context) error {
	models := h.registry.Models()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"object": "list",
		"data":   models,
	})
}

// ModelPricing handles GET /v1/pricing/:model
func (h *Handler) ModelPricing(c echo.Context) error {
	mp, err := h.modelFromSnapshot(c.Param("model"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, mp)
}

// ForwardCurve handles GET /v1/forward/:model
func (h *Handler) ForwardCurve(c echo.Context) error {
	mp, err := h.modelFromSnapshot(c.Param("model"))
	if err != nil {
		return handleError(c, err)
	}
	if len(mp.ForwardCurve) == 0 {
		return handleError(c, core.NewUnavailableError("no forward curve for model "+mp.ModelID+": missing spot price or decay estimate"))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"model_id": mp.ModelID,
		"curve":    mp.ForwardCurve,
	})
}

// ListEstimates handles GET /v1/estimates
func (h *Handler) ListEstimates(c echo.Context) error {
	snap := h.snapshots.Current()
	if snap == nil {
		return handleError(c, core.NewUnavailableError("no pricing snapshot available yet"))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"computed_at": snap.ComputedAt,
		"estimates":   snap.Estimates,
	})
}

// ListEvents handles GET /v1/events
func (h *Handler) ListEvents(c echo.Context) error {
	snap := h.snapshots.Current()
	if snap == nil {
		return handleError(c, core.NewUnavailableError("no pricing snapshot available yet"))
	}

	events := snap.Events
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return handleError(c, core.NewInvalidRequestError("limit must be a positive integer", err))
		}
		if limit < len(events) {
			events = events[:limit]
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"events": events,
	})
}

// Quote handles POST /v1/quote
func (h *Handler) Quote(c echo.Context) error {
	var profile core.TaskProfile
	if err := c.Bind(&profile); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	if profile.PriceType == "" {
		profile.PriceType = core.PriceTypeSync
	}
	if err := validateProfile(&profile); err != nil {
		return handleError(c, err)
	}

	model, ok := h.registry.Model(profile.ModelID)
	if !ok {
		return handleError(c, core.NewNotFoundError("unknown model: "+profile.ModelID))
	}

	mp, err := h.modelFromSnapshot(profile.ModelID)
	if err != nil {
		return handleError(c, err)
	}

	beta, err := spotFor(mp, &model, profile.PriceType)
	if err != nil {
		return handleError(c, err)
	}

	rInEff := pricing.EffectiveInputRate(model.RIn, model.RCache, profile.Eta,
		profile.NIn, model.ContextWindow, model.EffectiveTiers())
	kappa := pricing.Kappa(profile.NIn, profile.NOut, rInEff)

	quote := core.TaskQuote{
		ModelID:    profile.ModelID,
		PriceType:  profile.PriceType,
		Beta:       beta,
		RInEff:     rInEff,
		Kappa:      kappa,
		SpotCost:   pricing.SpotCost(beta, profile.NOut, profile.NIn, rInEff, profile.NThink, model.RThink),
		Degenerate: math.IsInf(kappa, 1),
	}
	return c.JSON(http.StatusOK, quote)
}

// TriggerRecompute handles POST /admin/recompute
func (h *Handler) TriggerRecompute(c echo.Context) error {
	if h.recomputer == nil {
		return handleError(c, core.NewUnavailableError("recompute is not available"))
	}
	if err := h.recomputer.Run(c.Request().Context()); err != nil {
		return handleError(c, core.NewStorageError("recompute finished with errors", err))
	}

	snap := h.snapshots.Current()
	resp := map[string]interface{}{"status": "ok"}
	if snap != nil {
		resp["version"] = snap.Version
		resp["computed_at"] = snap.ComputedAt
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) modelFromSnapshot(modelID string) (*snapshot.ModelPricing, error) {
	if _, ok := h.registry.Model(modelID); !ok {
		return nil, core.NewNotFoundError("unknown model: " + modelID)
	}
	snap := h.snapshots.Current()
	if snap == nil {
		return nil, core.NewUnavailableError("no pricing snapshot available yet")
	}
	mp := snap.Model(modelID)
	if mp == nil {
		return nil, core.NewUnavailableError("model not present in current snapshot: " + modelID)
	}
	return mp, nil
}

func validateProfile(p *core.TaskProfile) error {
	if p.ModelID == "" {
		return core.NewInvalidRequestError("model_id is required", nil)
	}
	if !p.PriceType.Valid() {
		return core.NewInvalidRequestError("price_type must be \"sync\" or \"batch\"", nil)
	}
	if p.NIn < 0 || p.NOut < 0 || p.NThink < 0 {
		return core.NewInvalidRequestError("token counts must be non-negative", nil)
	}
	if p.Eta < 0 || p.Eta > 1 {
		return core.NewInvalidRequestError("eta must be in [0, 1]", nil)
	}
	return nil
}

// spotFor resolves the spot output rate for the requested price type. A
// missing batch observation falls back to the sync spot discounted by the
// model's batch multiplier.
func spotFor(mp *snapshot.ModelPricing, model *core.ModelStructural, pt core.PriceType) (float64, error) {
	switch pt {
	case core.PriceTypeBatch:
		if mp.SpotBatch != nil {
			return mp.SpotBatch.Beta, nil
		}
		if mp.SpotSync != nil && model.RBatch > 0 {
			return mp.SpotSync.Beta * model.RBatch, nil
		}
	default:
		if mp.SpotSync != nil {
			return mp.SpotSync.Beta, nil
		}
	}
	return 0, core.NewUnavailableError("no spot price observed for model " + mp.ModelID)
}

// handleError converts analytics errors to appropriate HTTP responses
func handleError(c echo.Context, err error) error {
	var analyticsErr *core.AnalyticsError
	if errors.As(err, &analyticsErr) {
		return c.JSON(analyticsErr.HTTPStatusCode(), analyticsErr.ToJSON())
	}

	// Fallback for unexpected errors
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
