package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfreeman451/healthradar/pkg/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	database, err := New(filepath.Join(t.TempDir(), "healthradar_test.db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, database.Close())
	})

	return database
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func testRecord(deviceID string, at time.Time, kind models.AnomalyKind) *models.AnomalyRecord {
	return &models.AnomalyRecord{
		DeviceID:   deviceID,
		DetectedAt: at,
		Kind:       kind,
		Severity:   models.SeverityWarning,
	}
}

func TestInsertAnomaliesAssignsIDs(t *testing.T) {
	database := newTestDB(t)

	now := time.Now().UTC().Truncate(time.Second)
	records := []*models.AnomalyRecord{
		testRecord("bed-7", now, models.KindOutOfRangeHR),
		testRecord("bed-7", now, models.KindOutOfRangeTemp),
	}

	inserted, err := database.InsertAnomalies(records)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)
	assert.NotZero(t, records[0].ID)
	assert.NotZero(t, records[1].ID)
	assert.NotEqual(t, records[0].ID, records[1].ID)
}

func TestInsertAnomaliesIdempotent(t *testing.T) {
	database := newTestDB(t)

	now := time.Now().UTC().Truncate(time.Second)

	first := testRecord("bed-7", now, models.KindOutOfRangeHR)
	inserted, err := database.InsertAnomalies([]*models.AnomalyRecord{first})
	require.NoError(t, err)
	require.Equal(t, 1, inserted)

	// Redelivery of the same logical record must not create a second row.
	duplicate := testRecord("bed-7", now, models.KindOutOfRangeHR)
	inserted, err = database.InsertAnomalies([]*models.AnomalyRecord{duplicate})
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)
	assert.Zero(t, duplicate.ID)

	count, err := database.CountAnomalies()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestInsertAnomaliesPreservesReadingAndScore(t *testing.T) {
	database := newTestDB(t)

	now := time.Now().UTC().Truncate(time.Second)
	rec := testRecord("bed-7", now, models.KindMLAnomaly)
	rec.Severity = models.SeverityCritical
	rec.Score = floatPtr(4.2)
	rec.Reading = &models.Reading{
		DeviceID:  "bed-7",
		HeartRate: intPtr(162),
		BodyTemp:  floatPtr(39.4),
	}

	_, err := database.InsertAnomalies([]*models.AnomalyRecord{rec})
	require.NoError(t, err)

	stored, err := database.ListAnomalies(nil)
	require.NoError(t, err)
	require.Len(t, stored, 1)

	got := stored[0]
	assert.Equal(t, models.KindMLAnomaly, got.Kind)
	assert.Equal(t, models.SeverityCritical, got.Severity)
	require.NotNil(t, got.Score)
	assert.InDelta(t, 4.2, *got.Score, 0.0001)
	require.NotNil(t, got.Reading)
	require.NotNil(t, got.Reading.HeartRate)
	assert.Equal(t, 162, *got.Reading.HeartRate)
	require.NotNil(t, got.Reading.BodyTemp)
	assert.InDelta(t, 39.4, *got.Reading.BodyTemp, 0.0001)
}

func TestListAnomaliesFilters(t *testing.T) {
	database := newTestDB(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	records := []*models.AnomalyRecord{
		testRecord("bed-1", base, models.KindOutOfRangeHR),
		testRecord("bed-1", base.Add(time.Minute), models.KindLowBattery),
		testRecord("bed-2", base.Add(2*time.Minute), models.KindOutOfRangeHR),
		testRecord("bed-2", base.Add(3*time.Minute), models.KindWeakSignal),
	}

	_, err := database.InsertAnomalies(records)
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter *AnomalyFilter
		want   int
	}{
		{"no filter", nil, 4},
		{"by device", &AnomalyFilter{DeviceID: "bed-1"}, 2},
		{"by kind", &AnomalyFilter{Kind: models.KindOutOfRangeHR}, 2},
		{"device and kind", &AnomalyFilter{DeviceID: "bed-2", Kind: models.KindWeakSignal}, 1},
		{"start bound", &AnomalyFilter{Start: base.Add(2 * time.Minute)}, 2},
		{"end bound", &AnomalyFilter{End: base.Add(time.Minute)}, 2},
		{"window", &AnomalyFilter{
			Start: base.Add(time.Minute),
			End:   base.Add(2 * time.Minute),
		}, 2},
		{"limit", &AnomalyFilter{Limit: 3}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := database.ListAnomalies(tt.filter)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestListAnomaliesMostRecentFirst(t *testing.T) {
	database := newTestDB(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_, err := database.InsertAnomalies([]*models.AnomalyRecord{
		testRecord("bed-1", base, models.KindOutOfRangeHR),
		testRecord("bed-1", base.Add(2*time.Minute), models.KindOutOfRangeHR),
		testRecord("bed-1", base.Add(time.Minute), models.KindOutOfRangeHR),
	})
	require.NoError(t, err)

	got, err := database.ListAnomalies(nil)
	require.NoError(t, err)
	require.Len(t, got, 3)

	for i := 1; i < len(got); i++ {
		assert.False(t, got[i-1].DetectedAt.Before(got[i].DetectedAt))
	}
}

func TestUpsertDevice(t *testing.T) {
	database := newTestDB(t)

	firstSeen := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	device := &models.Device{
		DeviceID:     "bed-7",
		FirstSeen:    firstSeen,
		LastSeen:     firstSeen,
		ReadingCount: 1,
		Status:       models.StatusActive,
	}

	require.NoError(t, database.UpsertDevice(device))

	device.LastSeen = firstSeen.Add(time.Hour)
	device.ReadingCount = 50
	device.Status = models.StatusSilent
	require.NoError(t, database.UpsertDevice(device))

	got, err := database.GetDevice("bed-7")
	require.NoError(t, err)
	assert.True(t, got.FirstSeen.Equal(firstSeen))
	assert.True(t, got.LastSeen.Equal(firstSeen.Add(time.Hour)))
	assert.Equal(t, int64(50), got.ReadingCount)
	assert.Equal(t, models.StatusSilent, got.Status)
}

func TestGetDeviceNotFound(t *testing.T) {
	database := newTestDB(t)

	_, err := database.GetDevice("no-such-device")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestListDevicesOrdered(t *testing.T) {
	database := newTestDB(t)

	now := time.Now().UTC().Truncate(time.Second)
	for _, id := range []string{"bed-9", "bed-1", "bed-5"} {
		require.NoError(t, database.UpsertDevice(&models.Device{
			DeviceID:  id,
			FirstSeen: now,
			LastSeen:  now,
			Status:    models.StatusActive,
		}))
	}

	devices, err := database.ListDevices()
	require.NoError(t, err)
	require.Len(t, devices, 3)
	assert.Equal(t, "bed-1", devices[0].DeviceID)
	assert.Equal(t, "bed-5", devices[1].DeviceID)
	assert.Equal(t, "bed-9", devices[2].DeviceID)
}

func TestCleanOldData(t *testing.T) {
	database := newTestDB(t)

	now := time.Now().UTC()

	_, err := database.InsertAnomalies([]*models.AnomalyRecord{
		testRecord("bed-1", now.Add(-48*time.Hour), models.KindOutOfRangeHR),
		testRecord("bed-1", now.Add(-time.Minute), models.KindOutOfRangeHR),
	})
	require.NoError(t, err)

	require.NoError(t, database.CleanOldData(24*time.Hour))

	records, err := database.ListAnomalies(nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].DetectedAt.After(now.Add(-time.Hour)))
}
