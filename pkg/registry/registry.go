// Package registry owns the live device state. All mutations to a device
// entry happen under the registry lock, which is the serialization boundary
// that prevents lost updates under concurrent traffic from many devices.
// Everything outside this package only ever sees copies of entries.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/mfreeman451/healthradar/pkg/models"
)

// Registry is a concurrent map of device identity to last-seen state,
// flood counters and liveness status.
type Registry struct {
	mu             sync.RWMutex
	devices        map[string]*models.Device
	floodWindow    time.Duration
	floodThreshold int
}

// New creates a Registry with the given flood policy.
func New(floodWindow time.Duration, floodThreshold int) *Registry {
	return &Registry{
		devices:        make(map[string]*models.Device),
		floodWindow:    floodWindow,
		floodThreshold: floodThreshold,
	}
}

// Upsert records a reading from deviceID at ts and returns a snapshot of
// the entry plus whether this was the device's first contact. Unknown
// devices are auto-enrolled, never rejected. LastSeen is monotone by
// reading timestamp: a late-arriving older reading bumps the count but
// never regresses LastSeen.
func (r *Registry) Upsert(deviceID string, ts time.Time) (models.Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	device, ok := r.devices[deviceID]
	if !ok {
		device = &models.Device{
			DeviceID:         deviceID,
			FirstSeen:        ts,
			LastSeen:         ts,
			ReadingCount:     1,
			FloodWindowStart: ts,
			Status:           baseStatus(deviceID),
		}
		r.devices[deviceID] = device

		return *device, true
	}

	device.ReadingCount++

	if ts.After(device.LastSeen) {
		device.LastSeen = ts
	}

	// A silent device that speaks again is active.
	if device.Status == models.StatusSilent {
		device.Status = models.StatusActive
	}

	return *device, false
}

// baseStatus is the resting status for a device id. The reserved
// placeholder id collects readings whose identifier could not be
// recovered; it is never a live monitor.
func baseStatus(deviceID string) models.DeviceStatus {
	if deviceID == models.UnknownDeviceID {
		return models.StatusUnknown
	}

	return models.StatusActive
}

// RecordFloodCheck advances the device's sliding flood window and reports
// whether this reading breached the rate threshold. The window resets on
// breach, so at most one alert is raised per window.
func (r *Registry) RecordFloodCheck(deviceID string, now time.Time) models.FloodVerdict {
	r.mu.Lock()
	defer r.mu.Unlock()

	device, ok := r.devices[deviceID]
	if !ok {
		return models.FloodVerdict{}
	}

	if now.Sub(device.FloodWindowStart) > r.floodWindow {
		device.FloodWindowStart = now
		device.FloodWindowCount = 0

		// The window passed without a breach, the device calmed down.
		if device.Status == models.StatusFlooding {
			device.Status = baseStatus(device.DeviceID)
		}
	}

	device.FloodWindowCount++

	if device.FloodWindowCount > r.floodThreshold {
		device.FloodWindowCount = 0
		device.FloodWindowStart = now
		device.Status = models.StatusFlooding

		return models.FloodVerdict{Flooding: true, Alert: true}
	}

	return models.FloodVerdict{Flooding: device.Status == models.StatusFlooding}
}

// MarkSilent transitions a device to SILENT. It reports whether the status
// actually changed, so repeated sweeps stay idempotent.
func (r *Registry) MarkSilent(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	device, ok := r.devices[deviceID]
	if !ok || device.Status == models.StatusSilent || device.Status == models.StatusUnknown {
		return false
	}

	device.Status = models.StatusSilent

	return true
}

// Get returns a copy of one entry.
func (r *Registry) Get(deviceID string) (models.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	device, ok := r.devices[deviceID]
	if !ok {
		return models.Device{}, false
	}

	return *device, true
}

// SnapshotAll returns a point-in-time copy of every entry, ordered by
// device ID. The snapshot does not linearize with concurrent writers; the
// sweeper only needs eventually consistent reads.
func (r *Registry) SnapshotAll() []models.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]models.Device, 0, len(r.devices))
	for _, device := range r.devices {
		devices = append(devices, *device)
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].DeviceID < devices[j].DeviceID
	})

	return devices
}

// CountByStatus tallies devices per status for the system summary.
func (r *Registry) CountByStatus() map[models.DeviceStatus]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[models.DeviceStatus]int)
	for _, device := range r.devices {
		counts[device.Status]++
	}

	return counts
}
