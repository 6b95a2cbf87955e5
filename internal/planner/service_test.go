package planner

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/asharando/rideplan_core/internal/cache"
	"github.com/asharando/rideplan_core/internal/config"
	"github.com/asharando/rideplan_core/internal/models"
	"github.com/asharando/rideplan_core/internal/pacing"
	"github.com/asharando/rideplan_core/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ip(v int) *int { return &v }

func fp(v float64) *float64 { return &v }

func sp(v string) *string { return &v }

func i64(v int64) *int64 { return &v }

// fakeStore is an in-memory Store holding one base plan
type fakeStore struct {
	plans     map[string]models.Plan
	stops     map[int64][]models.Stop
	customs   map[int64]models.CustomPlan
	overrides map[int64][]models.Override
	saved     map[int64]models.Summary
	nextID    int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		plans: map[string]models.Plan{
			"davis-200k": {ID: 1, Slug: "davis-200k", Name: "Davis 200k", TotalDistanceMiles: 100, TotalElevationFt: 3000},
		},
		stops: map[int64][]models.Stop{1: {
			{ID: 1, StopOrder: 1, Location: "Start", StopType: models.StopStart, ElevationGain: ip(0)},
			{ID: 2, StopOrder: 2, Location: "Control", StopType: models.StopControl, DistanceMiles: 50, ElevationGain: ip(2000), SegmentTimeMin: ip(150)},
			{ID: 3, StopOrder: 3, Location: "Finish", StopType: models.StopFinish, DistanceMiles: 100, ElevationGain: ip(1000), SegmentTimeMin: ip(140)},
		}},
		customs:   map[int64]models.CustomPlan{},
		overrides: map[int64][]models.Override{},
		saved:     map[int64]models.Summary{},
		nextID:    100,
	}
}

func (f *fakeStore) addCustom(riderID int64) int64 {
	f.nextID++
	f.customs[f.nextID] = models.CustomPlan{
		ID: f.nextID, BasePlanID: 1, BasePlanSlug: "davis-200k", BasePlanName: "Davis 200k",
		RiderID: riderID, Name: "Mine",
	}
	return f.nextID
}

func (f *fakeStore) ListPlans(ctx context.Context) ([]models.Plan, error) {
	plans := []models.Plan{}
	for _, p := range f.plans {
		plans = append(plans, p)
	}
	return plans, nil
}

func (f *fakeStore) GetPlanBySlug(ctx context.Context, slug string) (*models.Plan, error) {
	p, ok := f.plans[slug]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (f *fakeStore) GetPlanStops(ctx context.Context, planID int64) ([]models.Stop, error) {
	return append([]models.Stop(nil), f.stops[planID]...), nil
}

func (f *fakeStore) SaveComputed(ctx context.Context, planID int64, stops []models.Stop, sum models.Summary) error {
	f.saved[planID] = sum
	return nil
}

func (f *fakeStore) GetCustomPlan(ctx context.Context, id int64) (*models.CustomPlan, error) {
	cp, ok := f.customs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &cp, nil
}

func (f *fakeStore) GetCustomPlanForRider(ctx context.Context, basePlanID, riderID int64) (*models.CustomPlan, error) {
	for _, cp := range f.customs {
		if cp.BasePlanID == basePlanID && cp.RiderID == riderID {
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) ListPublicCustomPlans(ctx context.Context, basePlanID int64) ([]models.CustomPlan, error) {
	plans := []models.CustomPlan{}
	for _, cp := range f.customs {
		if cp.BasePlanID == basePlanID && cp.IsPublic {
			plans = append(plans, cp)
		}
	}
	return plans, nil
}

func (f *fakeStore) CreateCustomPlan(ctx context.Context, cp models.CustomPlan) (*models.CustomPlan, error) {
	if _, err := f.GetCustomPlanForRider(ctx, cp.BasePlanID, cp.RiderID); err == nil {
		return nil, store.ErrConflict
	}
	f.nextID++
	cp.ID = f.nextID
	f.customs[cp.ID] = cp
	return &cp, nil
}

func (f *fakeStore) UpdateCustomPlanSettings(ctx context.Context, cp models.CustomPlan) error {
	if _, ok := f.customs[cp.ID]; !ok {
		return store.ErrNotFound
	}
	f.customs[cp.ID] = cp
	return nil
}

func (f *fakeStore) DeleteCustomPlan(ctx context.Context, id int64) error {
	delete(f.customs, id)
	delete(f.overrides, id)
	return nil
}

func (f *fakeStore) ListOverrides(ctx context.Context, customPlanID int64) ([]models.Override, error) {
	return append([]models.Override(nil), f.overrides[customPlanID]...), nil
}

func (f *fakeStore) UpsertOverride(ctx context.Context, ov models.Override) (*models.Override, error) {
	ov.IsCustomStop = ov.BaseStopID == nil
	if ov.ID == 0 {
		f.nextID++
		ov.ID = f.nextID
	}
	f.overrides[ov.CustomPlanID] = replaceOverride(f.overrides[ov.CustomPlanID], ov)
	return &ov, nil
}

func (f *fakeStore) DeleteOverride(ctx context.Context, customPlanID, overrideID int64) error {
	var kept []models.Override
	found := false
	for _, ov := range f.overrides[customPlanID] {
		if ov.ID == overrideID {
			found = true
			continue
		}
		kept = append(kept, ov)
	}
	if !found {
		return store.ErrNotFound
	}
	f.overrides[customPlanID] = kept
	return nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newCachedService(t *testing.T, f Store) (*Service, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { rdb.Close() })

	c := cache.New(rdb, config.CacheConfig{
		Enabled:  true,
		TTL:      time.Minute,
		LockTTL:  time.Second,
		LockWait: 200 * time.Millisecond,
	})
	return New(f, c, quietLogger()), s
}

func TestBasePlanView(t *testing.T) {
	svc := New(newFakeStore(), nil, quietLogger())
	ctx := context.Background()

	view, err := svc.BasePlanView(ctx, "davis-200k", ViewOptions{})
	require.NoError(t, err)
	require.Len(t, view.Stops, 3)
	assert.Equal(t, "Davis 200k", view.Plan.Name)
	assert.Equal(t, 290, view.Summary.TotalElapsedTimeMin)
	assert.Equal(t, 255, *view.Stops[1].TimeBankMin)
	assert.Nil(t, view.CustomPlan)

	_, err = svc.BasePlanView(ctx, "nowhere-300k", ViewOptions{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBasePlanViewEstimate(t *testing.T) {
	f := newFakeStore()
	f.stops[1][1].SegmentTimeMin = nil
	svc := New(f, nil, quietLogger())

	view, err := svc.BasePlanView(context.Background(), "davis-200k", ViewOptions{Estimate: true})
	require.NoError(t, err)
	assert.True(t, view.Stops[1].IsEstimated)
	assert.Positive(t, *view.Stops[1].SegmentTimeMin)
}

func TestBasePlanViewCached(t *testing.T) {
	f := newFakeStore()
	svc, s := newCachedService(t, f)
	ctx := context.Background()

	view, err := svc.BasePlanView(ctx, "davis-200k", ViewOptions{})
	require.NoError(t, err)
	assert.Equal(t, 290, view.Summary.TotalElapsedTimeMin)
	assert.True(t, s.Exists(cache.PlanKey("davis-200k", false)))
	assert.False(t, s.Exists(cache.LockKey(cache.PlanKey("davis-200k", false))), "lock released")

	f.stops[1][2].SegmentTimeMin = ip(200)

	view, err = svc.BasePlanView(ctx, "davis-200k", ViewOptions{})
	require.NoError(t, err)
	assert.Equal(t, 290, view.Summary.TotalElapsedTimeMin, "served from cache")

	recomputed, err := svc.RecomputeBasePlan(ctx, "davis-200k")
	require.NoError(t, err)
	assert.Equal(t, 350, recomputed.Summary.TotalElapsedTimeMin)
	assert.Equal(t, 350, f.saved[1].TotalElapsedTimeMin)
	assert.False(t, s.Exists(cache.PlanKey("davis-200k", false)))

	view, err = svc.BasePlanView(ctx, "davis-200k", ViewOptions{})
	require.NoError(t, err)
	assert.Equal(t, 350, view.Summary.TotalElapsedTimeMin)
}

// pausingStore holds the first ListOverrides call after the rows are read until resume is closed
type pausingStore struct {
	*fakeStore
	paused atomic.Bool
	loaded chan struct{}
	resume chan struct{}
}

func (p *pausingStore) ListOverrides(ctx context.Context, customPlanID int64) ([]models.Override, error) {
	ovs, err := p.fakeStore.ListOverrides(ctx, customPlanID)
	if p.paused.CompareAndSwap(false, true) {
		close(p.loaded)
		<-p.resume
	}
	return ovs, err
}

func TestCustomPlanViewWriteDuringCompute(t *testing.T) {
	f := newFakeStore()
	id := f.addCustom(7)
	ps := &pausingStore{fakeStore: f, loaded: make(chan struct{}), resume: make(chan struct{})}
	svc, s := newCachedService(t, ps)
	ctx := context.Background()

	done := make(chan *models.PlanView, 1)
	go func() {
		view, err := svc.CustomPlanView(ctx, id, ViewOptions{})
		assert.NoError(t, err)
		done <- view
	}()

	<-ps.loaded
	_, err := svc.UpsertOverride(ctx, id, 7, models.Override{BaseStopID: i64(2), IsHidden: true})
	require.NoError(t, err)
	close(ps.resume)

	inFlight := <-done
	require.NotNil(t, inFlight)
	assert.Len(t, inFlight.Stops, 3, "computed from rows read before the write")
	assert.False(t, s.Exists(cache.CustomPlanKey(id, false)), "outdated view not cached")

	view, err := svc.CustomPlanView(ctx, id, ViewOptions{})
	require.NoError(t, err)
	require.Len(t, view.Stops, 2)
	assert.Equal(t, 290, *view.Stops[1].SegmentTimeMin)
	assert.True(t, s.Exists(cache.CustomPlanKey(id, false)))
}

func TestCachedDegradesWhenRedisIsDown(t *testing.T) {
	svc, s := newCachedService(t, newFakeStore())
	s.Close()

	view, err := svc.BasePlanView(context.Background(), "davis-200k", ViewOptions{})
	require.NoError(t, err)
	assert.Equal(t, 290, view.Summary.TotalElapsedTimeMin)
}

func TestCustomPlanView(t *testing.T) {
	f := newFakeStore()
	id := f.addCustom(7)
	f.overrides[id] = []models.Override{{ID: 1, CustomPlanID: id, BaseStopID: i64(2), IsHidden: true}}
	svc := New(f, nil, quietLogger())
	ctx := context.Background()

	view, err := svc.CustomPlanView(ctx, id, ViewOptions{})
	require.NoError(t, err)
	require.Len(t, view.Stops, 2)
	require.NotNil(t, view.CustomPlan)
	assert.Equal(t, "Mine", view.CustomPlan.Name)
	assert.Equal(t, 290, *view.Stops[1].SegmentTimeMin)
	assert.Equal(t, 290, view.Summary.TotalElapsedTimeMin)

	t.Run("Saved pace retimes the plan", func(t *testing.T) {
		cp := f.customs[id]
		cp.AvgMovingSpeed = fp(20)
		f.customs[id] = cp

		view, err := svc.CustomPlanView(ctx, id, ViewOptions{})
		require.NoError(t, err)
		assert.Equal(t, 300, view.Summary.TotalElapsedTimeMin)
	})

	t.Run("Custom distance wins", func(t *testing.T) {
		cp := f.customs[id]
		cp.AvgMovingSpeed = nil
		cp.TotalDistanceMiles = fp(200)
		f.customs[id] = cp

		view, err := svc.CustomPlanView(ctx, id, ViewOptions{})
		require.NoError(t, err)
		assert.Equal(t, 200.0, view.Summary.TotalDistanceMiles)
	})

	_, err = svc.CustomPlanView(ctx, 999, ViewOptions{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPreviewPace(t *testing.T) {
	f := newFakeStore()
	id := f.addCustom(7)
	svc := New(f, nil, quietLogger())
	ctx := context.Background()

	view, err := svc.PreviewPace(ctx, id, 25)
	require.NoError(t, err)
	assert.Equal(t, 240, view.Summary.TotalMovingTimeMin)
	assert.Nil(t, f.customs[id].AvgMovingSpeed, "preview is not saved")

	_, err = svc.PreviewPace(ctx, id, 0)
	assert.ErrorIs(t, err, pacing.ErrInvalidPace)
}

func TestComparePlan(t *testing.T) {
	f := newFakeStore()
	id := f.addCustom(7)
	f.overrides[id] = []models.Override{
		{ID: 1, CustomPlanID: id, BaseStopID: i64(2), IsHidden: true},
		{ID: 2, CustomPlanID: id, IsCustomStop: true, DistanceMiles: fp(75), Location: sp("Diner"), SegmentTimeMin: ip(30)},
	}
	svc := New(f, nil, quietLogger())

	cmp, err := svc.ComparePlan(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 30, cmp.TotalTimeDiffMin)
	assert.Equal(t, 1, cmp.StopsAdded)
	assert.Equal(t, 1, cmp.StopsHidden)
	assert.Equal(t, 1, cmp.StopsModified)
}

func TestCustomize(t *testing.T) {
	f := newFakeStore()
	svc := New(f, nil, quietLogger())
	ctx := context.Background()

	cp, err := svc.Customize(ctx, "davis-200k", 7, "  ")
	require.NoError(t, err)
	assert.Equal(t, "Davis 200k (custom)", cp.Name)
	assert.Equal(t, "davis-200k", cp.BasePlanSlug)
	assert.Equal(t, int64(7), cp.RiderID)

	_, err = svc.Customize(ctx, "davis-200k", 7, "again")
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = svc.Customize(ctx, "davis-200k", 0, "anon")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Customize(ctx, "nowhere", 8, "x")
	assert.ErrorIs(t, err, store.ErrNotFound)

	mine, err := svc.CustomPlanForRider(ctx, "davis-200k", 7)
	require.NoError(t, err)
	assert.Equal(t, cp.ID, mine.ID)
}

func TestUpdateSettings(t *testing.T) {
	f := newFakeStore()
	id := f.addCustom(7)
	svc, s := newCachedService(t, f)
	ctx := context.Background()

	_, err := svc.CustomPlanView(ctx, id, ViewOptions{})
	require.NoError(t, err)
	require.True(t, s.Exists(cache.CustomPlanKey(id, false)))

	cp, err := svc.SetPace(ctx, id, 7, 20)
	require.NoError(t, err)
	assert.Equal(t, 20.0, *cp.AvgMovingSpeed)
	assert.False(t, s.Exists(cache.CustomPlanKey(id, false)), "settings change drops cached views")

	view, err := svc.CustomPlanView(ctx, id, ViewOptions{})
	require.NoError(t, err)
	assert.Equal(t, 300, view.Summary.TotalElapsedTimeMin)

	t.Run("Patch", func(t *testing.T) {
		cp, err := svc.UpdateSettings(ctx, id, 7, SettingsUpdate{
			Name:      sp("Fast day"),
			IsPublic:  func() *bool { b := true; return &b }(),
			ClearPace: true,
		})
		require.NoError(t, err)
		assert.Equal(t, "Fast day", cp.Name)
		assert.True(t, cp.IsPublic)
		assert.Nil(t, cp.AvgMovingSpeed)

		public, err := svc.PublicCustomPlans(ctx, "davis-200k")
		require.NoError(t, err)
		require.Len(t, public, 1)
		assert.Equal(t, id, public[0].ID)
	})

	t.Run("Rejects", func(t *testing.T) {
		_, err := svc.UpdateSettings(ctx, id, 8, SettingsUpdate{Name: sp("theirs")})
		assert.ErrorIs(t, err, ErrForbidden)

		_, err = svc.UpdateSettings(ctx, id, 7, SettingsUpdate{Name: sp(" ")})
		assert.ErrorIs(t, err, ErrInvalidInput)

		_, err = svc.SetPace(ctx, id, 7, -3)
		assert.ErrorIs(t, err, pacing.ErrInvalidPace)

		_, err = svc.UpdateSettings(ctx, id, 7, SettingsUpdate{TotalDistanceMiles: fp(-1)})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestUpsertOverride(t *testing.T) {
	f := newFakeStore()
	id := f.addCustom(7)
	svc, s := newCachedService(t, f)
	ctx := context.Background()

	_, err := svc.CustomPlanView(ctx, id, ViewOptions{})
	require.NoError(t, err)

	saved, err := svc.UpsertOverride(ctx, id, 7, models.Override{
		DistanceMiles:  fp(75),
		Location:       sp("Diner"),
		SegmentTimeMin: ip(30),
		Rest:           models.SetRest(20),
	})
	require.NoError(t, err)
	assert.NotZero(t, saved.ID)
	assert.True(t, saved.IsCustomStop)
	assert.False(t, s.Exists(cache.CustomPlanKey(id, false)))

	view, err := svc.CustomPlanView(ctx, id, ViewOptions{})
	require.NoError(t, err)
	require.Len(t, view.Stops, 4)
	assert.Equal(t, "Diner", view.Stops[2].Location)
	assert.Equal(t, 20, view.Summary.TotalBreakTimeMin)

	t.Run("Replaces the row of a base stop", func(t *testing.T) {
		_, err := svc.UpsertOverride(ctx, id, 7, models.Override{BaseStopID: i64(2), SegmentTimeMin: ip(120)})
		require.NoError(t, err)
		_, err = svc.UpsertOverride(ctx, id, 7, models.Override{BaseStopID: i64(2), SegmentTimeMin: ip(100)})
		require.NoError(t, err)

		ovs, err := svc.Overrides(ctx, id)
		require.NoError(t, err)
		assert.Len(t, ovs, 2)
	})

	tests := []struct {
		name string
		ov   models.Override
		want error
	}{
		{"Hidden start", models.Override{BaseStopID: i64(1), IsHidden: true}, pacing.ErrHiddenStart},
		{"Hidden finish", models.Override{BaseStopID: i64(3), IsHidden: true}, ErrHiddenFinish},
		{"Start moved off mile 0", models.Override{BaseStopID: i64(1), DistanceMiles: fp(10)}, pacing.ErrInvalidSequence},
		{"Foreign stop", models.Override{BaseStopID: i64(42), Notes: sp("x")}, pacing.ErrUnknownBaseStop},
		{"Hidden inserted stop", models.Override{DistanceMiles: fp(10), Location: sp("Gas"), IsHidden: true}, ErrInvalidInput},
		{"Inserted without distance", models.Override{Location: sp("Gas")}, ErrInvalidInput},
		{"Inserted without location", models.Override{DistanceMiles: fp(10)}, ErrInvalidInput},
		{"Negative time", models.Override{BaseStopID: i64(2), SegmentTimeMin: ip(-5)}, ErrInvalidInput},
		{"Bad rest", models.Override{BaseStopID: i64(2), Rest: models.SetRest(0)}, ErrInvalidInput},
		{"Unknown type", models.Override{BaseStopID: i64(2), StopType: func() *models.StopType { t := models.StopType("cafe"); return &t }()}, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UpsertOverride(ctx, id, 7, tt.ov)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err = svc.UpsertOverride(ctx, id, 8, models.Override{BaseStopID: i64(2), Notes: sp("x")})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestDeleteOverrideAndPlan(t *testing.T) {
	f := newFakeStore()
	id := f.addCustom(7)
	f.overrides[id] = []models.Override{{ID: 1, CustomPlanID: id, BaseStopID: i64(2), IsHidden: true}}
	svc := New(f, nil, quietLogger())
	ctx := context.Background()

	assert.ErrorIs(t, svc.DeleteOverride(ctx, id, 8, 1), ErrForbidden)
	require.NoError(t, svc.DeleteOverride(ctx, id, 7, 1))
	assert.ErrorIs(t, svc.DeleteOverride(ctx, id, 7, 1), store.ErrNotFound)

	view, err := svc.CustomPlanView(ctx, id, ViewOptions{})
	require.NoError(t, err)
	assert.Len(t, view.Stops, 3)

	assert.ErrorIs(t, svc.DeleteCustomPlan(ctx, id, 8), ErrForbidden)
	require.NoError(t, svc.DeleteCustomPlan(ctx, id, 7))
	_, err = svc.CustomPlanView(ctx, id, ViewOptions{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}
