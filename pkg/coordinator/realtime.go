package coordinator

import (
	"time"

	"github.com/raterudder/powerbox/pkg/powerbox"
	"github.com/raterudder/powerbox/pkg/types"
)

const (
	// DefaultRealtimeInterval is the nominal meters poll interval.
	DefaultRealtimeInterval = 30 * time.Second
	// DefaultRealtimeErrorInterval is used once the device keeps failing.
	DefaultRealtimeErrorInterval = 2 * time.Minute
	// ErrorThreshold is the consecutive error count that switches the
	// realtime coordinator to its error interval.
	ErrorThreshold = 3
)

// Realtime polls the meters endpoint and backs off while the device is
// failing.
type Realtime struct {
	*Coordinator[types.MeterSnapshot]
}

// NewRealtime returns a realtime coordinator polling every interval, or
// every errorInterval while f reports ErrorThreshold or more consecutive
// errors.
func NewRealtime(f Fetcher, interval, errorInterval time.Duration) *Realtime {
	next := func() time.Duration {
		if f.ConsecutiveErrors() >= ErrorThreshold {
			return errorInterval
		}
		return interval
	}
	return &Realtime{
		Coordinator: newCoordinator("realtime", powerbox.EndpointMeters, f, powerbox.ParseMeters, next),
	}
}

// GetMeterValue returns a numeric measurement from the current snapshot. It
// misses when the meter is absent or disconnected, or lacks the field, or
// the field is not a number.
func (r *Realtime) GetMeterValue(model, field string) (float64, bool) {
	return r.Snapshot().Value(model, field)
}

// GetMeterReading is GetMeterValue for readings of any kind, text included.
func (r *Realtime) GetMeterReading(model, field string) (types.MeterValue, bool) {
	return r.Snapshot().Reading(model, field)
}
