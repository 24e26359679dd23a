package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/mfreeman451/healthradar/pkg/db"
	"github.com/mfreeman451/healthradar/pkg/models"
	"github.com/mfreeman451/healthradar/pkg/registry"
	"github.com/mfreeman451/healthradar/pkg/sink"
)

const silenceTimeout = 30 * time.Second

type harness struct {
	sweeper  *Sweeper
	registry *registry.Registry
	sink     *sink.MockService
	store    *db.MockService
	written  []*models.AnomalyRecord
	clock    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	ctrl := gomock.NewController(t)

	h := &harness{
		registry: registry.New(time.Minute, 20),
		sink:     sink.NewMockService(ctrl),
		store:    db.NewMockService(ctrl),
		clock:    time.Now(),
	}

	h.store.EXPECT().UpsertDevice(gomock.Any()).Return(nil).AnyTimes()

	h.sweeper = New(h.registry, h.sink, h.store, time.Second, silenceTimeout, 0)
	h.sweeper.now = func() time.Time { return h.clock }

	return h
}

func (h *harness) expectWrites() {
	h.sink.EXPECT().Write(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, records []*models.AnomalyRecord) error {
			h.written = append(h.written, records...)
			return nil
		}).AnyTimes()
}

func TestSilenceProperty(t *testing.T) {
	h := newHarness(t)
	h.expectWrites()

	h.registry.Upsert("D1", h.clock)

	// Within the timeout: quiet sweep.
	h.clock = h.clock.Add(silenceTimeout)
	h.sweeper.runSweep(context.Background())
	assert.Empty(t, h.written)

	// Past the timeout: exactly one record.
	h.clock = h.clock.Add(time.Second)
	h.sweeper.runSweep(context.Background())
	require.Len(t, h.written, 1)
	assert.Equal(t, models.KindUnexpectedSilence, h.written[0].Kind)
	assert.Equal(t, models.SeverityCritical, h.written[0].Severity)
	assert.Equal(t, "D1", h.written[0].DeviceID)
	assert.Nil(t, h.written[0].Reading, "silence anomalies carry no reading snapshot")

	device, ok := h.registry.Get("D1")
	require.True(t, ok)
	assert.Equal(t, models.StatusSilent, device.Status)

	// Repeated sweeps stay quiet thanks to the status gate.
	h.clock = h.clock.Add(time.Minute)
	h.sweeper.runSweep(context.Background())
	h.sweeper.runSweep(context.Background())
	assert.Len(t, h.written, 1)
}

func TestSilentDeviceSweptAgainAfterRecontact(t *testing.T) {
	h := newHarness(t)
	h.expectWrites()

	h.registry.Upsert("D1", h.clock)

	h.clock = h.clock.Add(silenceTimeout + time.Second)
	h.sweeper.runSweep(context.Background())
	require.Len(t, h.written, 1)

	// Device wakes up, then goes silent again.
	h.registry.Upsert("D1", h.clock)

	h.clock = h.clock.Add(silenceTimeout + time.Second)
	h.sweeper.runSweep(context.Background())
	assert.Len(t, h.written, 2)
}

func TestSinkFailureRetriedNextSweep(t *testing.T) {
	h := newHarness(t)

	h.registry.Upsert("D1", h.clock)
	h.clock = h.clock.Add(silenceTimeout + time.Second)

	gomock.InOrder(
		h.sink.EXPECT().Write(gomock.Any(), gomock.Any()).Return(sink.ErrWriteExhausted),
		h.sink.EXPECT().Write(gomock.Any(), gomock.Any()).Return(nil),
	)

	h.sweeper.runSweep(context.Background())

	// The write failed, so the device must not be gated off.
	device, _ := h.registry.Get("D1")
	assert.Equal(t, models.StatusActive, device.Status)

	h.sweeper.runSweep(context.Background())

	device, _ = h.registry.Get("D1")
	assert.Equal(t, models.StatusSilent, device.Status)
}

func TestActiveDevicesUntouched(t *testing.T) {
	h := newHarness(t)
	h.expectWrites()

	h.registry.Upsert("fresh", h.clock)

	h.clock = h.clock.Add(5 * time.Second)
	h.sweeper.runSweep(context.Background())

	assert.Empty(t, h.written)

	device, _ := h.registry.Get("fresh")
	assert.Equal(t, models.StatusActive, device.Status)
}

func TestUnknownPlaceholderNeverSwept(t *testing.T) {
	h := newHarness(t)
	h.expectWrites()

	h.registry.Upsert(models.UnknownDeviceID, h.clock)

	h.clock = h.clock.Add(silenceTimeout + time.Minute)
	h.sweeper.runSweep(context.Background())

	assert.Empty(t, h.written)

	device, ok := h.registry.Get(models.UnknownDeviceID)
	require.True(t, ok)
	assert.Equal(t, models.StatusUnknown, device.Status)
}

func TestRetentionCleanup(t *testing.T) {
	ctrl := gomock.NewController(t)

	reg := registry.New(time.Minute, 20)
	mockSink := sink.NewMockService(ctrl)
	mockStore := db.NewMockService(ctrl)

	s := New(reg, mockSink, mockStore, time.Second, silenceTimeout, 24*time.Hour)

	clock := time.Now()
	s.now = func() time.Time { return clock }

	mockStore.EXPECT().CleanOldData(24 * time.Hour).Return(nil)
	s.runSweep(context.Background())

	// Within the cleanup interval nothing further happens.
	clock = clock.Add(30 * time.Minute)
	s.runSweep(context.Background())

	clock = clock.Add(31 * time.Minute)
	mockStore.EXPECT().CleanOldData(24 * time.Hour).Return(nil)
	s.runSweep(context.Background())
}

func TestStartStop(t *testing.T) {
	h := newHarness(t)
	h.expectWrites()

	done := make(chan error, 1)

	go func() {
		done <- h.sweeper.Start(context.Background())
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, h.sweeper.Stop(context.Background()))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
