package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfreeman451/healthradar/pkg/models"
)

func TestUpsertFirstContact(t *testing.T) {
	r := New(time.Minute, 20)
	now := time.Now()

	device, first := r.Upsert("D1", now)
	assert.True(t, first)
	assert.Equal(t, models.StatusActive, device.Status)
	assert.Equal(t, int64(1), device.ReadingCount)
	assert.Equal(t, now, device.FirstSeen)

	device, first = r.Upsert("D1", now.Add(time.Second))
	assert.False(t, first)
	assert.Equal(t, int64(2), device.ReadingCount)
}

func TestUpsertLastSeenMonotone(t *testing.T) {
	r := New(time.Minute, 20)
	now := time.Now()

	r.Upsert("D1", now)

	// A delayed reading with an older device timestamp must not regress
	// last_seen.
	device, _ := r.Upsert("D1", now.Add(-10*time.Second))
	assert.Equal(t, now, device.LastSeen)
	assert.Equal(t, int64(2), device.ReadingCount)

	device, _ = r.Upsert("D1", now.Add(5*time.Second))
	assert.Equal(t, now.Add(5*time.Second), device.LastSeen)
}

func TestSilentDeviceReactivatesOnContact(t *testing.T) {
	r := New(time.Minute, 20)
	now := time.Now()

	r.Upsert("D1", now)
	require.True(t, r.MarkSilent("D1"))

	device, ok := r.Get("D1")
	require.True(t, ok)
	assert.Equal(t, models.StatusSilent, device.Status)

	device, _ = r.Upsert("D1", now.Add(time.Minute))
	assert.Equal(t, models.StatusActive, device.Status)
}

func TestMarkSilentIdempotent(t *testing.T) {
	r := New(time.Minute, 20)

	assert.False(t, r.MarkSilent("ghost"))

	r.Upsert("D1", time.Now())
	assert.True(t, r.MarkSilent("D1"))
	assert.False(t, r.MarkSilent("D1"))
}

func TestFloodPolicy(t *testing.T) {
	const threshold = 5

	r := New(time.Minute, threshold)
	now := time.Now()

	r.Upsert("D1", now)

	alerts := 0

	for i := 0; i < threshold+1; i++ {
		verdict := r.RecordFloodCheck("D1", now.Add(time.Duration(i)*time.Second))
		if verdict.Alert {
			alerts++
		}
	}

	assert.Equal(t, 1, alerts, "exactly one alert on breach")

	device, _ := r.Get("D1")
	assert.Equal(t, models.StatusFlooding, device.Status)

	// More readings inside the reset window stay quiet until the threshold
	// is breached again.
	verdict := r.RecordFloodCheck("D1", now.Add(10*time.Second))
	assert.False(t, verdict.Alert)
	assert.True(t, verdict.Flooding)
}

func TestFloodWindowExpiryCalmsDevice(t *testing.T) {
	const threshold = 3

	r := New(time.Minute, threshold)
	now := time.Now()

	r.Upsert("D1", now)

	for i := 0; i < threshold+1; i++ {
		r.RecordFloodCheck("D1", now)
	}

	device, _ := r.Get("D1")
	require.Equal(t, models.StatusFlooding, device.Status)

	verdict := r.RecordFloodCheck("D1", now.Add(2*time.Minute))
	assert.False(t, verdict.Alert)
	assert.False(t, verdict.Flooding)

	device, _ = r.Get("D1")
	assert.Equal(t, models.StatusActive, device.Status)
}

func TestFloodCheckUnknownDevice(t *testing.T) {
	r := New(time.Minute, 20)

	verdict := r.RecordFloodCheck("ghost", time.Now())
	assert.False(t, verdict.Alert)
	assert.False(t, verdict.Flooding)
}

func TestUnknownPlaceholderStatus(t *testing.T) {
	const threshold = 3

	r := New(time.Minute, threshold)
	now := time.Now()

	_, firstContact := r.Upsert(models.UnknownDeviceID, now)
	require.True(t, firstContact)

	device, ok := r.Get(models.UnknownDeviceID)
	require.True(t, ok)
	assert.Equal(t, models.StatusUnknown, device.Status)

	// The placeholder never goes silent.
	assert.False(t, r.MarkSilent(models.UnknownDeviceID))

	device, _ = r.Get(models.UnknownDeviceID)
	assert.Equal(t, models.StatusUnknown, device.Status)

	// Flooding is still tracked, but the calm-down returns to UNKNOWN,
	// not ACTIVE.
	for i := 0; i < threshold+1; i++ {
		r.RecordFloodCheck(models.UnknownDeviceID, now)
	}

	device, _ = r.Get(models.UnknownDeviceID)
	require.Equal(t, models.StatusFlooding, device.Status)

	r.RecordFloodCheck(models.UnknownDeviceID, now.Add(2*time.Minute))

	device, _ = r.Get(models.UnknownDeviceID)
	assert.Equal(t, models.StatusUnknown, device.Status)
}

func TestSnapshotAllOrdered(t *testing.T) {
	r := New(time.Minute, 20)
	now := time.Now()

	for _, id := range []string{"C", "A", "B"} {
		r.Upsert(id, now)
	}

	devices := r.SnapshotAll()
	require.Len(t, devices, 3)
	assert.Equal(t, "A", devices[0].DeviceID)
	assert.Equal(t, "B", devices[1].DeviceID)
	assert.Equal(t, "C", devices[2].DeviceID)
}

func TestCountByStatus(t *testing.T) {
	r := New(time.Minute, 20)
	now := time.Now()

	r.Upsert("D1", now)
	r.Upsert("D2", now)
	r.MarkSilent("D2")

	counts := r.CountByStatus()
	assert.Equal(t, 1, counts[models.StatusActive])
	assert.Equal(t, 1, counts[models.StatusSilent])
}

func TestConcurrentUpserts(t *testing.T) {
	const (
		goroutines = 10
		iterations = 200
	)

	r := New(time.Minute, 1<<30)
	base := time.Now()

	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)

		go func(id int) {
			defer wg.Done()

			for j := 0; j < iterations; j++ {
				ts := base.Add(time.Duration(j) * time.Millisecond)
				r.Upsert("shared", ts)
				r.Upsert(fmt.Sprintf("dev-%d", id), ts)
				r.RecordFloodCheck("shared", ts)
			}
		}(i)
	}

	wg.Wait()

	device, ok := r.Get("shared")
	require.True(t, ok)
	assert.Equal(t, int64(goroutines*iterations), device.ReadingCount)
	assert.Equal(t, base.Add(time.Duration(iterations-1)*time.Millisecond), device.LastSeen)
	assert.Len(t, r.SnapshotAll(), goroutines+1)
}
