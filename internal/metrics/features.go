package metrics

import (
	"strings"
	"sync"

	"quoteflow/config"
)

// Feature names a group of metrics that can be switched off from config.
type Feature string

const (
	FeatureChannelSize Feature = "channel_size"
	featureAlways      Feature = ""
)

var (
	featuresMu sync.RWMutex
	disabled   = map[Feature]bool{}
)

// Configure applies the metrics section of the configuration.
func Configure(cfg config.MetricsConfig) {
	featuresMu.Lock()
	defer featuresMu.Unlock()
	disabled = map[Feature]bool{
		FeatureChannelSize: !cfg.ChannelSize,
	}
}

func IsFeatureEnabled(f Feature) bool {
	if f == featureAlways {
		return true
	}
	featuresMu.RLock()
	defer featuresMu.RUnlock()
	return !disabled[f]
}

func featureForMetric(name string) Feature {
	if strings.HasSuffix(name, "_buffer_length") {
		return FeatureChannelSize
	}
	return featureAlways
}
