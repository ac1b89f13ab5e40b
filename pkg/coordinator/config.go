package coordinator

import (
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/powerbox/pkg/powerbox"
	"github.com/raterudder/powerbox/pkg/types"
)

// DefaultConfigInterval is the configs poll interval.
const DefaultConfigInterval = 10 * time.Minute

// Config polls the configs endpoint on a fixed interval.
type Config struct {
	*Coordinator[types.ConfigSnapshot]
}

// NewConfig returns a config coordinator polling every interval.
func NewConfig(f Fetcher, interval time.Duration) *Config {
	return &Config{
		Coordinator: newCoordinator("config", powerbox.EndpointConfigs, f, powerbox.ParseConfigs, func() time.Duration {
			return interval
		}),
	}
}

// GetConfigValue returns the value for "{module_name}.{config_name}".
func (c *Config) GetConfigValue(key string) (string, bool) {
	return c.Snapshot().Value(key)
}

// Configured registers the poll interval flags and returns both coordinators
// backed by f. They are usable once lflag.Configure has run.
func Configured(f Fetcher) (*Realtime, *Config) {
	realtimeInterval := lflag.Duration("realtime-interval", DefaultRealtimeInterval, "How often to poll the PowerBox meters")
	realtimeErrorInterval := lflag.Duration("realtime-error-interval", DefaultRealtimeErrorInterval, "Meters poll interval while the PowerBox keeps failing")
	configInterval := lflag.Duration("config-interval", DefaultConfigInterval, "How often to poll the PowerBox configuration")

	rt := &Realtime{}
	cfg := &Config{}
	lflag.Do(func() {
		if *realtimeInterval <= 0 || *realtimeErrorInterval <= 0 || *configInterval <= 0 {
			panic("poll intervals must be positive")
		}
		rt.Coordinator = NewRealtime(f, *realtimeInterval, *realtimeErrorInterval).Coordinator
		cfg.Coordinator = NewConfig(f, *configInterval).Coordinator
	})
	return rt, cfg
}
