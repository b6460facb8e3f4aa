package metrics

import (
	"quoteflow/logger"
)

// EmitMetric logs the metric, hands it to registered handlers and publishes
// it to CloudWatch when a client is configured.
func EmitMetric(log *logger.Log, component string, metric string, value interface{}, metricType string, fields logger.Fields) {
	event, ok := recordMetric(log, component, metric, value, metricType, fields)
	if !ok {
		return
	}
	logger.PublishMetric(event.Component, event.Name, event.Value, event.Fields)
}
