package metrics

import (
	"slices"
	"sync"
	"time"

	"quoteflow/logger"
)

// Metric is one measurement emitted by a reader, the processor or a writer.
// Source and Market are lifted from the fields when the emitter set them.
type Metric struct {
	Timestamp time.Time
	Component string
	Name      string
	Value     float64
	Type      string
	Source    string
	Market    string
	Fields    logger.Fields
}

// Key identifies the metric series on the dashboard.
func (m Metric) Key() string {
	if m.Component == "" {
		return m.Name
	}
	return m.Component + "." + m.Name
}

// MetricHandler receives every metric that passes the feature filter.
type MetricHandler func(Metric)

// MetricHandlerID identifies a registration. Zero is never issued.
type MetricHandlerID uint64

type handlerRegistry struct {
	mu       sync.RWMutex
	next     MetricHandlerID
	handlers map[MetricHandlerID]MetricHandler
}

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{handlers: make(map[MetricHandlerID]MetricHandler)}
}

var handlers = newHandlerRegistry()

// RegisterMetricHandler adds handler to the dispatch list. A nil handler
// yields id 0.
func RegisterMetricHandler(handler MetricHandler) MetricHandlerID {
	return handlers.add(handler)
}

// UnregisterMetricHandler drops the registration. Unknown ids are ignored.
func UnregisterMetricHandler(id MetricHandlerID) {
	handlers.remove(id)
}

func (r *handlerRegistry) add(handler MetricHandler) MetricHandlerID {
	if handler == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.handlers[r.next] = handler
	return r.next
}

func (r *handlerRegistry) remove(id MetricHandlerID) {
	if id == 0 {
		return
	}
	r.mu.Lock()
	delete(r.handlers, id)
	r.mu.Unlock()
}

// dispatch calls handlers in registration order outside the lock, so a
// handler may register or unregister others.
func (r *handlerRegistry) dispatch(metric Metric) {
	r.mu.RLock()
	if len(r.handlers) == 0 {
		r.mu.RUnlock()
		return
	}
	ids := make([]MetricHandlerID, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	ordered := make([]MetricHandler, len(ids))
	for i, id := range ids {
		ordered[i] = r.handlers[id]
	}
	r.mu.RUnlock()

	for _, handler := range ordered {
		handler(metric)
	}
}

// recordMetric logs the metric and dispatches it. Unnamed, disabled and
// non-numeric metrics are skipped.
func recordMetric(log *logger.Log, component, name string, value interface{}, metricType string, fields logger.Fields) (Metric, bool) {
	if name == "" || !IsFeatureEnabled(featureForMetric(name)) {
		return Metric{}, false
	}
	if log == nil {
		log = logger.GetLogger()
	}

	v, ok := toFloat64(value)
	if !ok {
		log.WithComponent(component).WithFields(logger.Fields{
			"metric": name,
			"value":  value,
		}).Debug("dropping non-numeric metric")
		return Metric{}, false
	}
	if metricType == "" {
		metricType = "counter"
	}

	metric := Metric{
		Timestamp: time.Now(),
		Component: component,
		Name:      name,
		Value:     v,
		Type:      metricType,
		Fields:    cloneFields(fields),
	}
	metric.Source, _ = metric.Fields["source"].(string)
	metric.Market, _ = metric.Fields["market"].(string)

	logFields := cloneFields(metric.Fields)
	logFields["metric"] = name
	logFields["metric_type"] = metricType
	logFields["value"] = v
	log.WithComponent(component).WithFields(logFields).Info("metric")

	handlers.dispatch(metric)
	return metric, true
}

func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func cloneFields(fields logger.Fields) logger.Fields {
	copied := make(logger.Fields, len(fields)+3)
	for k, v := range fields {
		copied[k] = v
	}
	return copied
}
