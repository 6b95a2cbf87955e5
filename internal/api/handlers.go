package api

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/asharando/rideplan_core/internal/models"
	"github.com/asharando/rideplan_core/internal/pacing"
	"github.com/asharando/rideplan_core/internal/planner"
	"github.com/asharando/rideplan_core/internal/store"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// HealthCheck reports whether one dependency is reachable
type HealthCheck func(ctx context.Context) error

// StatsSource reports runtime figures of one dependency
type StatsSource func(ctx context.Context) (map[string]interface{}, error)

// Handler serves the plan API on top of the planner service
type Handler struct {
	planner *planner.Service
	checks  map[string]HealthCheck
	stats   map[string]StatsSource
	log     logrus.FieldLogger
}

// NewHandler creates the API handler. checks are reported by /health under their names.
func NewHandler(p *planner.Service, checks map[string]HealthCheck, log logrus.FieldLogger) *Handler {
	return &Handler{planner: p, checks: checks, stats: map[string]StatsSource{}, log: log}
}

// WithStats adds a stats source reported by /health under name
func (h *Handler) WithStats(name string, src StatsSource) *Handler {
	h.stats[name] = src
	return h
}

// RegisterRoutes mounts every endpoint on app
func (h *Handler) RegisterRoutes(app fiber.Router) {
	app.Get("/health", h.Health)

	v1 := app.Group("/v1")

	plans := v1.Group("/plans")
	plans.Get("/", h.ListPlans)
	plans.Get("/:slug", h.GetPlan)
	plans.Get("/:slug/custom", h.PublicCustomPlans)
	plans.Get("/:slug/mine", h.RiderCustomPlan)
	plans.Post("/:slug/customize", h.Customize)

	custom := v1.Group("/custom-plans")
	custom.Get("/:id", h.GetCustomPlan)
	custom.Patch("/:id", h.UpdateCustomPlan)
	custom.Delete("/:id", h.DeleteCustomPlan)
	custom.Get("/:id/compare", h.ComparePlan)
	custom.Post("/:id/pace/preview", h.PreviewPace)
	custom.Get("/:id/overrides", h.ListOverrides)
	custom.Put("/:id/overrides", h.UpsertOverride)
	custom.Delete("/:id/overrides/:overrideID", h.DeleteOverride)
}

// Health handles the /health endpoint
func (h *Handler) Health(c *fiber.Ctx) error {
	ctx := c.UserContext()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := fiber.Map{}
	healthy := true
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status := "healthy"
	httpStatus := fiber.StatusOK
	if !healthy {
		status = "unhealthy"
		httpStatus = fiber.StatusServiceUnavailable
	}

	resp := fiber.Map{
		"status": status,
		"checks": checks,
	}
	if len(h.stats) > 0 {
		stats := fiber.Map{}
		for name, src := range h.stats {
			s, err := src(ctx)
			if err != nil {
				h.log.WithError(err).WithField("source", name).Warn("stats unavailable")
				continue
			}
			stats[name] = s
		}
		resp["stats"] = stats
	}

	return c.Status(httpStatus).JSON(resp)
}

// ListPlans handles GET /v1/plans
func (h *Handler) ListPlans(c *fiber.Ctx) error {
	plans, err := h.planner.ListPlans(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"plans": plans,
		"total": len(plans),
	})
}

// GetPlan handles GET /v1/plans/:slug
func (h *Handler) GetPlan(c *fiber.Ctx) error {
	view, err := h.planner.BasePlanView(c.UserContext(), c.Params("slug"), viewOptions(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(view)
}

// PublicCustomPlans handles GET /v1/plans/:slug/custom
func (h *Handler) PublicCustomPlans(c *fiber.Ctx) error {
	plans, err := h.planner.PublicCustomPlans(c.UserContext(), c.Params("slug"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"custom_plans": plans,
		"total":        len(plans),
	})
}

// RiderCustomPlan handles GET /v1/plans/:slug/mine?rider_id=
func (h *Handler) RiderCustomPlan(c *fiber.Ctx) error {
	riderID, err := queryRiderID(c)
	if err != nil {
		return h.fail(c, err)
	}
	cp, err := h.planner.CustomPlanForRider(c.UserContext(), c.Params("slug"), riderID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(cp)
}

type customizeRequest struct {
	RiderID int64  `json:"rider_id"`
	Name    string `json:"name"`
}

// Customize handles POST /v1/plans/:slug/customize
func (h *Handler) Customize(c *fiber.Ctx) error {
	var req customizeRequest
	if err := c.BodyParser(&req); err != nil {
		return h.fail(c, badBody(err))
	}

	cp, err := h.planner.Customize(c.UserContext(), c.Params("slug"), req.RiderID, req.Name)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(cp)
}

// GetCustomPlan handles GET /v1/custom-plans/:id
func (h *Handler) GetCustomPlan(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	view, err := h.planner.CustomPlanView(c.UserContext(), id, viewOptions(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(view)
}

type settingsRequest struct {
	RiderID int64 `json:"rider_id"`
	planner.SettingsUpdate
}

// UpdateCustomPlan handles PATCH /v1/custom-plans/:id
func (h *Handler) UpdateCustomPlan(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	var req settingsRequest
	if err := c.BodyParser(&req); err != nil {
		return h.fail(c, badBody(err))
	}
	if err := requireRider(req.RiderID); err != nil {
		return h.fail(c, err)
	}

	cp, err := h.planner.UpdateSettings(c.UserContext(), id, req.RiderID, req.SettingsUpdate)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(cp)
}

// DeleteCustomPlan handles DELETE /v1/custom-plans/:id?rider_id=
func (h *Handler) DeleteCustomPlan(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	riderID, err := queryRiderID(c)
	if err != nil {
		return h.fail(c, err)
	}

	if err := h.planner.DeleteCustomPlan(c.UserContext(), id, riderID); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ComparePlan handles GET /v1/custom-plans/:id/compare
func (h *Handler) ComparePlan(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	cmp, err := h.planner.ComparePlan(c.UserContext(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(cmp)
}

type paceRequest struct {
	AvgMovingSpeed float64 `json:"avg_moving_speed"`
}

// PreviewPace handles POST /v1/custom-plans/:id/pace/preview
func (h *Handler) PreviewPace(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	var req paceRequest
	if err := c.BodyParser(&req); err != nil {
		return h.fail(c, badBody(err))
	}

	view, err := h.planner.PreviewPace(c.UserContext(), id, req.AvgMovingSpeed)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(view)
}

// ListOverrides handles GET /v1/custom-plans/:id/overrides
func (h *Handler) ListOverrides(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	overrides, err := h.planner.Overrides(c.UserContext(), id)
	if err != nil {
		return h.fail(c, err)
	}
	if overrides == nil {
		overrides = []models.Override{}
	}
	return c.JSON(fiber.Map{
		"overrides": overrides,
		"total":     len(overrides),
	})
}

type overrideRequest struct {
	RiderID int64 `json:"rider_id"`
	models.Override
}

// UpsertOverride handles PUT /v1/custom-plans/:id/overrides
func (h *Handler) UpsertOverride(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	var req overrideRequest
	if err := c.BodyParser(&req); err != nil {
		return h.fail(c, badBody(err))
	}
	if err := requireRider(req.RiderID); err != nil {
		return h.fail(c, err)
	}

	saved, err := h.planner.UpsertOverride(c.UserContext(), id, req.RiderID, req.Override)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(saved)
}

// DeleteOverride handles DELETE /v1/custom-plans/:id/overrides/:overrideID?rider_id=
func (h *Handler) DeleteOverride(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	overrideID, err := paramID(c, "overrideID")
	if err != nil {
		return h.fail(c, err)
	}
	riderID, err := queryRiderID(c)
	if err != nil {
		return h.fail(c, err)
	}

	if err := h.planner.DeleteOverride(c.UserContext(), id, riderID, overrideID); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func viewOptions(c *fiber.Ctx) planner.ViewOptions {
	return planner.ViewOptions{Estimate: c.QueryBool("estimate")}
}

func paramID(c *fiber.Ctx, name string) (int64, error) {
	id, err := c.ParamsInt(name)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", planner.ErrInvalidInput, name, c.Params(name))
	}
	return int64(id), nil
}

func queryRiderID(c *fiber.Ctx) (int64, error) {
	riderID := int64(c.QueryInt("rider_id"))
	return riderID, requireRider(riderID)
}

func requireRider(riderID int64) error {
	if riderID <= 0 {
		return fmt.Errorf("%w: rider_id is required", planner.ErrInvalidInput)
	}
	return nil
}

func badBody(err error) error {
	return fmt.Errorf("%w: invalid request body: %v", planner.ErrInvalidInput, err)
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, planner.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, store.ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, planner.ErrInvalidInput),
		errors.Is(err, pacing.ErrInvalidPace),
		errors.Is(err, pacing.ErrUnknownBaseStop),
		errors.Is(err, store.ErrForeignStop):
		return fiber.StatusBadRequest
	case errors.Is(err, pacing.ErrInvalidSequence),
		errors.Is(err, pacing.ErrEmptyPlan),
		errors.Is(err, pacing.ErrHiddenStart),
		errors.Is(err, planner.ErrHiddenFinish):
		return fiber.StatusUnprocessableEntity
	}
	return fiber.StatusInternalServerError
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	if code == fiber.StatusInternalServerError {
		h.log.WithError(err).WithField("path", c.Path()).Error("request failed")
		return c.Status(code).JSON(fiber.Map{
			"error": "internal server error",
		})
	}
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// ErrorHandler handles errors returned from handlers and middleware
func ErrorHandler(log logrus.FieldLogger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		msg := "internal server error"

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			msg = fe.Message
		}
		if code >= fiber.StatusInternalServerError {
			log.WithError(err).Error("unhandled error")
		}

		return c.Status(code).JSON(fiber.Map{
			"error": msg,
		})
	}
}

// NotFound is the catch-all for unknown endpoints
func NotFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "endpoint not found",
	})
}
