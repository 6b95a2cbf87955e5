package planner

import (
	"context"
	"errors"
	"fmt"

	"github.com/asharando/rideplan_core/internal/cache"
	"github.com/asharando/rideplan_core/internal/models"
	"github.com/asharando/rideplan_core/internal/pacing"
	"github.com/sirupsen/logrus"
)

var (
	// ErrForbidden is returned when a rider acts on another rider's custom plan
	ErrForbidden = errors.New("custom plan belongs to another rider")
	// ErrInvalidInput marks a request value outside its allowed range
	ErrInvalidInput = errors.New("invalid input")
	// ErrHiddenFinish is returned when an override hides the last stop of the base plan,
	// which leaves no stop to carry its riding time
	ErrHiddenFinish = errors.New("last stop cannot be hidden")
)

// Store is the persistence the planner needs; *store.Store implements it
type Store interface {
	ListPlans(ctx context.Context) ([]models.Plan, error)
	GetPlanBySlug(ctx context.Context, slug string) (*models.Plan, error)
	GetPlanStops(ctx context.Context, planID int64) ([]models.Stop, error)
	SaveComputed(ctx context.Context, planID int64, stops []models.Stop, sum models.Summary) error

	GetCustomPlan(ctx context.Context, id int64) (*models.CustomPlan, error)
	GetCustomPlanForRider(ctx context.Context, basePlanID, riderID int64) (*models.CustomPlan, error)
	ListPublicCustomPlans(ctx context.Context, basePlanID int64) ([]models.CustomPlan, error)
	CreateCustomPlan(ctx context.Context, cp models.CustomPlan) (*models.CustomPlan, error)
	UpdateCustomPlanSettings(ctx context.Context, cp models.CustomPlan) error
	DeleteCustomPlan(ctx context.Context, id int64) error

	ListOverrides(ctx context.Context, customPlanID int64) ([]models.Override, error)
	UpsertOverride(ctx context.Context, ov models.Override) (*models.Override, error)
	DeleteOverride(ctx context.Context, customPlanID, overrideID int64) error
}

// ViewOptions select optional computation passes
type ViewOptions struct {
	// Estimate fills untimed segments from the grade speed model
	Estimate bool
}

// Service computes plan views from stored plans and keeps the view cache coherent
// with every write. A nil cache computes every request.
type Service struct {
	store Store
	cache *cache.Cache
	log   logrus.FieldLogger
}

// New creates a planner service
func New(store Store, c *cache.Cache, log logrus.FieldLogger) *Service {
	return &Service{store: store, cache: c, log: log}
}

// ListPlans returns every base plan
func (s *Service) ListPlans(ctx context.Context) ([]models.Plan, error) {
	return s.store.ListPlans(ctx)
}

// BasePlanView returns the computed view of a base plan
func (s *Service) BasePlanView(ctx context.Context, slug string, opts ViewOptions) (*models.PlanView, error) {
	return s.cached(ctx, cache.PlanKey(slug, opts.Estimate), basePlanScopes(slug), func() (*models.PlanView, error) {
		plan, stops, err := s.loadBase(ctx, slug)
		if err != nil {
			return nil, err
		}

		comp, sum, err := pacing.Run(pacing.Input{
			PlanName:           plan.Name,
			TotalDistanceMiles: plan.TotalDistanceMiles,
			TotalElevationFt:   plan.TotalElevationFt,
			Stops:              stops,
			EstimateUntimed:    opts.Estimate,
		})
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", slug, err)
		}

		return &models.PlanView{Plan: *plan, Stops: comp.Stops, Summary: sum}, nil
	})
}

// CustomPlanView returns the computed view of a custom plan, retimed to its
// average moving speed when one is set
func (s *Service) CustomPlanView(ctx context.Context, id int64, opts ViewOptions) (*models.PlanView, error) {
	return s.cached(ctx, cache.CustomPlanKey(id, opts.Estimate), customPlanScopes(id), func() (*models.PlanView, error) {
		in, err := s.loadCustom(ctx, id)
		if err != nil {
			return nil, err
		}
		return in.view(in.custom.AvgMovingSpeed, opts.Estimate)
	})
}

// PreviewPace computes a custom plan as if ridden at avgMovingSpeed without saving it
func (s *Service) PreviewPace(ctx context.Context, id int64, avgMovingSpeed float64) (*models.PlanView, error) {
	if avgMovingSpeed <= 0 {
		return nil, fmt.Errorf("%w: got %.2f", pacing.ErrInvalidPace, avgMovingSpeed)
	}

	in, err := s.loadCustom(ctx, id)
	if err != nil {
		return nil, err
	}
	return in.view(&avgMovingSpeed, false)
}

// ComparePlan diffs a custom plan's view against its base plan
func (s *Service) ComparePlan(ctx context.Context, id int64) (*models.Comparison, error) {
	in, err := s.loadCustom(ctx, id)
	if err != nil {
		return nil, err
	}

	base, _, err := pacing.Run(pacing.Input{
		PlanName:           in.base.Name,
		TotalDistanceMiles: in.base.TotalDistanceMiles,
		TotalElevationFt:   in.base.TotalElevationFt,
		Stops:              in.baseStops,
	})
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", in.base.Slug, err)
	}
	custom, err := in.view(in.custom.AvgMovingSpeed, false)
	if err != nil {
		return nil, err
	}

	cmp := pacing.ComparePlans(base.Stops, custom.Stops)
	return &cmp, nil
}

// RecomputeBasePlan computes a base plan, persists the derived columns and drops
// every cached view that depends on it
func (s *Service) RecomputeBasePlan(ctx context.Context, slug string) (*models.PlanView, error) {
	plan, stops, err := s.loadBase(ctx, slug)
	if err != nil {
		return nil, err
	}

	comp, sum, err := pacing.Run(pacing.Input{
		PlanName:           plan.Name,
		TotalDistanceMiles: plan.TotalDistanceMiles,
		TotalElevationFt:   plan.TotalElevationFt,
		Stops:              stops,
	})
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", slug, err)
	}

	if err := s.store.SaveComputed(ctx, plan.ID, comp.Stops, sum); err != nil {
		return nil, err
	}
	s.invalidate(ctx, cache.PlanPattern(slug), cache.AllCustomPlansPattern)

	return &models.PlanView{Plan: *plan, Stops: comp.Stops, Summary: sum}, nil
}

// InvalidateBasePlan drops cached views of a base plan and of all custom plans
func (s *Service) InvalidateBasePlan(ctx context.Context, slug string) {
	s.invalidate(ctx, cache.PlanPattern(slug), cache.AllCustomPlansPattern)
}

// basePlanScopes are the invalidation patterns a base plan view depends on
func basePlanScopes(slug string) []string {
	return []string{cache.PlanPattern(slug)}
}

// customPlanScopes are the invalidation patterns a custom plan view depends on.
// Base plan writes invalidate every custom plan.
func customPlanScopes(id int64) []string {
	return []string{cache.CustomPlanPattern(id), cache.AllCustomPlansPattern}
}

func (s *Service) loadBase(ctx context.Context, slug string) (*models.Plan, []models.Stop, error) {
	plan, err := s.store.GetPlanBySlug(ctx, slug)
	if err != nil {
		return nil, nil, err
	}
	stops, err := s.store.GetPlanStops(ctx, plan.ID)
	if err != nil {
		return nil, nil, err
	}
	pacing.SortStops(stops)
	return plan, stops, nil
}

// customInputs is everything needed to compute a custom plan
type customInputs struct {
	custom    *models.CustomPlan
	base      *models.Plan
	baseStops []models.Stop
	merged    []models.Stop
}

func (s *Service) loadCustom(ctx context.Context, id int64) (*customInputs, error) {
	cp, err := s.store.GetCustomPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	base, baseStops, err := s.loadBase(ctx, cp.BasePlanSlug)
	if err != nil {
		return nil, err
	}
	overrides, err := s.store.ListOverrides(ctx, id)
	if err != nil {
		return nil, err
	}

	merged, err := pacing.MergeOverrides(baseStops, overrides)
	if err != nil {
		return nil, fmt.Errorf("custom plan %d: %w", id, err)
	}

	return &customInputs{custom: cp, base: base, baseStops: baseStops, merged: merged}, nil
}

// totalDistance prefers the custom plan's own distance over the base plan's
func (in *customInputs) totalDistance() float64 {
	if in.custom.TotalDistanceMiles != nil && *in.custom.TotalDistanceMiles > 0 {
		return *in.custom.TotalDistanceMiles
	}
	return in.base.TotalDistanceMiles
}

func (in *customInputs) view(avgMovingSpeed *float64, estimate bool) (*models.PlanView, error) {
	comp, sum, err := pacing.Run(pacing.Input{
		PlanName:           in.base.Name,
		TotalDistanceMiles: in.totalDistance(),
		TotalElevationFt:   in.base.TotalElevationFt,
		Stops:              in.merged,
		AvgMovingSpeed:     avgMovingSpeed,
		EstimateUntimed:    estimate,
	})
	if err != nil {
		return nil, fmt.Errorf("custom plan %d: %w", in.custom.ID, err)
	}

	return &models.PlanView{Plan: *in.base, CustomPlan: in.custom, Stops: comp.Stops, Summary: sum}, nil
}

// cached serves a view from the cache or computes it under the view's lock.
// A view whose scopes were invalidated while it was computed is returned but not
// stored. Cache failures are logged and never fail the request.
func (s *Service) cached(ctx context.Context, key string, scopes []string, compute func() (*models.PlanView, error)) (*models.PlanView, error) {
	if s.cache == nil {
		return compute()
	}
	log := s.log.WithField("key", key)

	view, err := s.cache.GetView(ctx, key)
	if err != nil {
		log.WithError(err).Warn("view cache read failed")
	} else if view != nil {
		return view, nil
	}

	acquired, err := s.cache.AcquireLock(ctx, key)
	if err != nil {
		log.WithError(err).Warn("view lock failed")
		return compute()
	}

	if !acquired {
		view, err := s.cache.WaitForLock(ctx, key)
		if err == nil && view != nil {
			return view, nil
		}
		if err != nil {
			log.WithError(err).Debug("gave up waiting for view")
		}
		return compute()
	}
	defer func() {
		if err := s.cache.ReleaseLock(ctx, key); err != nil {
			log.WithError(err).Warn("view unlock failed")
		}
	}()

	snap, err := s.cache.Snapshot(ctx, scopes...)
	if err != nil {
		log.WithError(err).Warn("view generation read failed")
		return compute()
	}

	view, err = compute()
	if err != nil {
		return nil, err
	}
	stored, err := s.cache.SetViewIfCurrent(ctx, key, view, snap)
	switch {
	case err != nil:
		log.WithError(err).Warn("view cache write failed")
	case !stored:
		log.Debug("view invalidated while computing, not cached")
	}
	return view, nil
}

func (s *Service) invalidate(ctx context.Context, patterns ...string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, patterns...); err != nil {
		s.log.WithError(err).WithField("patterns", patterns).Warn("view cache invalidation failed")
	}
}
