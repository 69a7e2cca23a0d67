package identity

import (
	"context"
)

// ListTrustedDevices returns userID's unexpired trusted devices, newest
// first.
func (e *Engine) ListTrustedDevices(ctx context.Context, userID int64) ([]TrustedDevice, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	rows, err := e.flow.ListTrustedDevices(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]TrustedDevice, 0, len(rows))
	for _, r := range rows {
		d := TrustedDevice{
			ID:        r.ID,
			Name:      r.DeviceName,
			ExpiresAt: r.ExpiresAt,
			CreatedAt: r.CreatedAt,
		}
		if r.LastUsedAt.Valid {
			t := r.LastUsedAt.Time
			d.LastUsedAt = &t
		}
		out = append(out, d)
	}
	return out, nil
}

// RevokeTrustedDevice deletes one of userID's devices. Devices of other
// users are reported as ErrTrustedDeviceNotFound.
func (e *Engine) RevokeTrustedDevice(ctx context.Context, userID, deviceID int64) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.flow.RevokeTrustedDevice(ctx, userID, deviceID); err != nil {
		return err
	}
	e.metricInc(MetricTrustedDeviceRevoked)
	return nil
}

// RevokeAllTrustedDevices deletes every device of userID and returns how
// many were removed.
func (e *Engine) RevokeAllTrustedDevices(ctx context.Context, userID int64) (int64, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	n, err := e.flow.RevokeAllTrustedDevices(ctx, userID)
	if err != nil {
		return 0, err
	}
	if n > 0 && e.metrics != nil {
		e.metrics.Add(MetricTrustedDeviceRevoked, uint64(n))
	}
	return n, nil
}
