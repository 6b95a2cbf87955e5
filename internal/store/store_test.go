package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/asharando/rideplan_core/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ip(v int) *int { return &v }

func fp(v float64) *float64 { return &v }

func sp(v string) *string { return &v }

func i64(v int64) *int64 { return &v }

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

var planRowColumns = []string{"id", "slug", "name", "description", "total_distance_miles", "total_elevation_ft",
	"avg_moving_speed", "rwgps_url", "created_at"}

func TestListPlans(t *testing.T) {
	mock := newMock(t)
	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, slug, name, .* FROM ride_plan ORDER BY name`).
		WillReturnRows(pgxmock.NewRows(planRowColumns).
			AddRow(int64(1), "davis-200k", "Davis 200k", "", 124.3, 6100, nil, "", created).
			AddRow(int64(2), "sfr-300k", "SFR 300k", "coastal", 186.4, 9800, fp(14.2), "https://ridewithgps.com/routes/1", created))

	plans, err := New(mock).ListPlans(context.Background())
	require.NoError(t, err)
	require.Len(t, plans, 2)

	assert.Equal(t, "davis-200k", plans[0].Slug)
	assert.Nil(t, plans[0].AvgMovingSpeed)
	assert.Equal(t, 14.2, *plans[1].AvgMovingSpeed)
	assert.Equal(t, 9800, plans[1].TotalElevationFt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPlanBySlugNotFound(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery(`FROM ride_plan WHERE slug = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := New(mock).GetPlanBySlug(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPlanBySlugFailure(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery(`FROM ride_plan WHERE slug = \$1`).
		WithArgs("davis-200k").
		WillReturnError(errors.New("connection reset"))

	_, err := New(mock).GetPlanBySlug(context.Background(), "davis-200k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestGetPlanStops(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery(`FROM ride_plan_stop WHERE ride_plan_id = \$1 ORDER BY stop_order`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "stop_order", "location", "stop_type", "distance_miles",
			"elevation_gain", "segment_time_min", "stop_duration_min", "stop_name", "notes"}).
			AddRow(int64(10), 1, "Davis", models.StopStart, 0.0, nil, nil, nil, nil, "").
			AddRow(int64(11), 2, "Cobb", models.StopControl, 62.1, ip(3100), ip(260), ip(20), sp("Lunch"), "steep"))

	stops, err := New(mock).GetPlanStops(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, stops, 2)

	assert.Equal(t, models.StopStart, stops[0].StopType)
	assert.Nil(t, stops[0].ElevationGain)
	assert.Equal(t, 3100, *stops[1].ElevationGain)
	assert.Equal(t, 20, *stops[1].StopDurationMin)
	assert.Equal(t, "Lunch", *stops[1].StopName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBasePlan(t *testing.T) {
	mock := newMock(t)

	plan := models.Plan{Slug: "davis-200k", Name: "Davis 200k", TotalDistanceMiles: 124.3, TotalElevationFt: 6100}
	stops := []models.Stop{
		{Location: "Davis", StopType: models.StopStart},
		{Location: "Finish", StopType: models.StopFinish, DistanceMiles: 124.3, SegmentTimeMin: ip(500)},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO ride_plan .* ON CONFLICT \(slug\) DO UPDATE`).
		WithArgs("davis-200k", "Davis 200k", "", 124.3, 6100, "").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec(`DELETE FROM ride_plan_stop WHERE ride_plan_id = \$1`).
		WithArgs(int64(7)).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec(`INSERT INTO ride_plan_stop`).
		WithArgs(int64(7), 1, "Davis", "start", 0.0, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO ride_plan_stop`).
		WithArgs(int64(7), 2, "Finish", "finish", 124.3, pgxmock.AnyArg(), ip(500), pgxmock.AnyArg(), pgxmock.AnyArg(), "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	id, err := New(mock).CreateBasePlan(context.Background(), plan, stops)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBasePlanRollsBack(t *testing.T) {
	mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO ride_plan`).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec(`DELETE FROM ride_plan_stop`).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`INSERT INTO ride_plan_stop`).
		WillReturnError(errors.New("check constraint violated"))
	mock.ExpectRollback()

	_, err := New(mock).CreateBasePlan(context.Background(), models.Plan{Slug: "x", Name: "x"},
		[]models.Stop{{Location: "Start", StopType: models.StopStart}})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveComputed(t *testing.T) {
	mock := newMock(t)

	stop := models.Stop{ID: 11}
	stop.SegDist = 62.1
	stop.CumTimeMin = 280

	sum := models.Summary{TotalMovingTimeMin: 500, TotalElapsedTimeMin: 560, TotalBreakTimeMin: 60, OverallFtPerMile: 49.1}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE ride_plan_stop SET`).
		WithArgs(62.1, pgxmock.AnyArg(), pgxmock.AnyArg(), 280, pgxmock.AnyArg(), pgxmock.AnyArg(), 0.0, int64(11), int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE ride_plan SET`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), 500, 560, 60, 49.1, int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, New(mock).SaveComputed(context.Background(), 1, []models.Stop{stop}, sum))
	assert.NoError(t, mock.ExpectationsWereMet())
}

var customPlanRowColumns = []string{"id", "base_plan_id", "base_slug", "base_name", "rider_id", "name", "description",
	"total_distance_miles", "avg_moving_speed", "is_public", "created_at", "updated_at"}

func TestGetCustomPlan(t *testing.T) {
	mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(`FROM custom_ride_plan c JOIN ride_plan p ON p.id = c.base_plan_id WHERE c.id = \$1`).
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows(customPlanRowColumns).
			AddRow(int64(5), int64(1), "davis-200k", "Davis 200k", int64(42), "My Davis", "", nil, fp(16.0), true, now, now))

	cp, err := New(mock).GetCustomPlan(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "davis-200k", cp.BasePlanSlug)
	assert.Equal(t, int64(42), cp.RiderID)
	assert.Equal(t, 16.0, *cp.AvgMovingSpeed)
	assert.Nil(t, cp.TotalDistanceMiles)
	assert.True(t, cp.IsPublic)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCustomPlanForRiderNotFound(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery(`WHERE c.base_plan_id = \$1 AND c.rider_id = \$2`).
		WithArgs(int64(1), int64(42)).
		WillReturnError(pgx.ErrNoRows)

	_, err := New(mock).GetCustomPlanForRider(context.Background(), 1, 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListPublicCustomPlans(t *testing.T) {
	mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(`WHERE c.base_plan_id = \$1 AND c.is_public ORDER BY c.updated_at DESC`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows(customPlanRowColumns))

	plans, err := New(mock).ListPublicCustomPlans(context.Background(), 1)
	require.NoError(t, err)
	assert.NotNil(t, plans)
	assert.Empty(t, plans)

	mock.ExpectQuery(`WHERE c.base_plan_id = \$1 AND c.is_public`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows(customPlanRowColumns).
			AddRow(int64(5), int64(1), "davis-200k", "Davis 200k", int64(42), "Fast Davis", "", nil, nil, true, now, now))

	plans, err = New(mock).ListPublicCustomPlans(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "Fast Davis", plans[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCustomPlan(t *testing.T) {
	mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO custom_ride_plan`).
		WithArgs(int64(1), int64(42), "My Davis", "", pgxmock.AnyArg(), pgxmock.AnyArg(), false).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(5), now, now))

	cp, err := New(mock).CreateCustomPlan(context.Background(), models.CustomPlan{BasePlanID: 1, RiderID: 42, Name: "My Davis"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), cp.ID)
	assert.Equal(t, now, cp.CreatedAt)

	mock.ExpectQuery(`INSERT INTO custom_ride_plan`).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value"})

	_, err = New(mock).CreateCustomPlan(context.Background(), models.CustomPlan{BasePlanID: 1, RiderID: 42, Name: "Again"})
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCustomPlanSettings(t *testing.T) {
	mock := newMock(t)

	cp := models.CustomPlan{ID: 5, Name: "Renamed", IsPublic: true, AvgMovingSpeed: fp(15.5)}

	mock.ExpectExec(`UPDATE custom_ride_plan SET`).
		WithArgs("Renamed", "", true, fp(15.5), pgxmock.AnyArg(), int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, New(mock).UpdateCustomPlanSettings(context.Background(), cp))

	mock.ExpectExec(`UPDATE custom_ride_plan SET`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, New(mock).UpdateCustomPlanSettings(context.Background(), cp), ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteCustomPlan(t *testing.T) {
	mock := newMock(t)

	mock.ExpectExec(`DELETE FROM custom_ride_plan WHERE id = \$1`).
		WithArgs(int64(5)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, New(mock).DeleteCustomPlan(context.Background(), 5))

	mock.ExpectExec(`DELETE FROM custom_ride_plan WHERE id = \$1`).
		WithArgs(int64(6)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	assert.ErrorIs(t, New(mock).DeleteCustomPlan(context.Background(), 6), ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

var overrideRowColumns = []string{"id", "custom_plan_id", "base_stop_id", "is_hidden", "is_custom_stop", "stop_order",
	"stop_type", "location", "distance_miles", "elevation_gain", "segment_time_min", "stop_duration_min",
	"stop_name", "notes"}

func TestListOverrides(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery(`FROM custom_ride_plan_stop WHERE custom_plan_id = \$1`).
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows(overrideRowColumns).
			AddRow(int64(1), int64(5), i64(11), true, false, nil, nil, nil, nil, nil, nil, nil, nil, nil).
			AddRow(int64(2), int64(5), i64(12), false, false, nil, nil, nil, nil, nil, nil, ip(-1), nil, nil).
			AddRow(int64(3), int64(5), i64(13), false, false, nil, nil, nil, nil, nil, nil, ip(15), sp("Coffee"), nil).
			AddRow(int64(4), int64(5), nil, false, true, nil, sp("rest"), sp("Diner"), fp(80.5), nil, ip(30), nil, nil, sp("pie")))

	overrides, err := New(mock).ListOverrides(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, overrides, 4)

	assert.True(t, overrides[0].IsHidden)
	assert.Equal(t, models.InheritRest(), overrides[0].Rest)
	assert.Equal(t, models.RemoveRest(), overrides[1].Rest)
	assert.Equal(t, models.SetRest(15), overrides[2].Rest)
	assert.Equal(t, "Coffee", *overrides[2].StopName)

	inserted := overrides[3]
	assert.Nil(t, inserted.BaseStopID)
	assert.True(t, inserted.IsCustomStop)
	assert.Equal(t, models.StopRest, *inserted.StopType)
	assert.Equal(t, 80.5, *inserted.DistanceMiles)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListOverridesRejectsCorruptRest(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery(`FROM custom_ride_plan_stop`).
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows(overrideRowColumns).
			AddRow(int64(1), int64(5), i64(11), false, false, nil, nil, nil, nil, nil, nil, ip(-7), nil, nil))

	_, err := New(mock).ListOverrides(context.Background(), 5)
	assert.Error(t, err)
}

func TestUpsertOverrideBaseStop(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(int64(5), int64(12)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`INSERT INTO custom_ride_plan_stop .* ON CONFLICT \(custom_plan_id, base_stop_id\) DO UPDATE`).
		WithArgs(int64(5), i64(12), false, false, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), ip(-1), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(9)))

	ov, err := New(mock).UpsertOverride(context.Background(), models.Override{
		CustomPlanID: 5,
		BaseStopID:   i64(12),
		Rest:         models.RemoveRest(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9), ov.ID)
	assert.False(t, ov.IsCustomStop)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertOverrideForeignStop(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(int64(5), int64(99)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := New(mock).UpsertOverride(context.Background(), models.Override{CustomPlanID: 5, BaseStopID: i64(99)})
	assert.ErrorIs(t, err, ErrForeignStop)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertOverrideInvalidRest(t *testing.T) {
	mock := newMock(t)

	_, err := New(mock).UpsertOverride(context.Background(), models.Override{
		CustomPlanID: 5,
		BaseStopID:   i64(12),
		Rest:         models.SetRest(0),
	})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertOverrideInsertedStop(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery(`INSERT INTO custom_ride_plan_stop`).
		WithArgs(int64(5), (*int64)(nil), false, true, pgxmock.AnyArg(), sp("rest"), sp("Diner"),
			fp(80.5), pgxmock.AnyArg(), ip(30), ip(25), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(21)))

	rest := models.StopRest
	ov, err := New(mock).UpsertOverride(context.Background(), models.Override{
		CustomPlanID:   5,
		StopType:       &rest,
		Location:       sp("Diner"),
		DistanceMiles:  fp(80.5),
		SegmentTimeMin: ip(30),
		Rest:           models.SetRest(25),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(21), ov.ID)
	assert.True(t, ov.IsCustomStop)

	mock.ExpectExec(`UPDATE custom_ride_plan_stop SET`).
		WithArgs(int64(21), int64(5), pgxmock.AnyArg(), sp("rest"), sp("Diner"), fp(81.0), pgxmock.AnyArg(),
			ip(30), ip(25), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ov.DistanceMiles = fp(81.0)
	_, err = New(mock).UpsertOverride(context.Background(), *ov)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteOverride(t *testing.T) {
	mock := newMock(t)

	mock.ExpectExec(`DELETE FROM custom_ride_plan_stop WHERE id = \$1 AND custom_plan_id = \$2`).
		WithArgs(int64(9), int64(5)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, New(mock).DeleteOverride(context.Background(), 5, 9))

	mock.ExpectExec(`DELETE FROM custom_ride_plan_stop`).
		WithArgs(int64(9), int64(6)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	assert.ErrorIs(t, New(mock).DeleteOverride(context.Background(), 6, 9), ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
