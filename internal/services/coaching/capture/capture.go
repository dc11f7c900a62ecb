// Package capture tracks which session holds each capture device.
//
// A device feeds exactly one live session at a time. The registry hands
// out leases in memory; the partial unique index on active sessions in
// sqlite backs the same invariant across restarts.
package capture

import (
	"strings"
	"sync"

	apperrors "github.com/louisbranch/outtake.studio/internal/platform/errors"
)

// DefaultDevice is the device claimed when a create request names none.
const DefaultDevice = "default"

// NormalizeDevice maps a blank device id to DefaultDevice.
func NormalizeDevice(deviceID string) string {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return DefaultDevice
	}
	return deviceID
}

// Registry tracks in-flight capture leases by device.
type Registry struct {
	mu     sync.Mutex
	leases map[string]string
}

// NewRegistry creates an empty lease registry.
func NewRegistry() *Registry {
	return &Registry{
		leases: make(map[string]string),
	}
}

// Acquire claims deviceID for sessionID until the lease is released.
// A device already held by another session reports CAPTURE_DEVICE_BUSY.
func (r *Registry) Acquire(deviceID, sessionID string) (*Lease, error) {
	if r == nil {
		return nil, apperrors.New(apperrors.CodeUnknown, "capture registry is required")
	}
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, apperrors.New(apperrors.CodeCaptureDeviceEmpty, "capture device id is required")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, apperrors.New(apperrors.CodeCaptureDeviceEmpty, "session id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if holder, ok := r.leases[deviceID]; ok && holder != sessionID {
		return nil, apperrors.WithMetadata(apperrors.CodeCaptureDeviceBusy, "capture device is busy", map[string]string{
			"device_id":  deviceID,
			"session_id": holder,
		})
	}
	r.leases[deviceID] = sessionID
	return &Lease{registry: r, deviceID: deviceID, sessionID: sessionID}, nil
}

// Release frees deviceID when sessionID still holds it. Releasing a
// device reclaimed by a newer session is a no-op.
func (r *Registry) Release(deviceID, sessionID string) {
	if r == nil {
		return
	}
	deviceID = strings.TrimSpace(deviceID)
	sessionID = strings.TrimSpace(sessionID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if holder, ok := r.leases[deviceID]; ok && holder == sessionID {
		delete(r.leases, deviceID)
	}
}

// Holder reports the session currently holding deviceID.
func (r *Registry) Holder(deviceID string) (string, bool) {
	if r == nil {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	holder, ok := r.leases[strings.TrimSpace(deviceID)]
	return holder, ok
}

// Lease is a held claim on a capture device.
type Lease struct {
	registry  *Registry
	deviceID  string
	sessionID string
}

// Device returns the claimed device id.
func (l *Lease) Device() string {
	if l == nil {
		return ""
	}
	return l.deviceID
}

// Release frees the device for the next session.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.registry.Release(l.deviceID, l.sessionID)
}
