package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	RequestCounter  metric.Int64Counter
	RequestDuration metric.Float64Histogram
	TaskCounter     metric.Int64Counter
	TaskDuration    metric.Float64Histogram
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("readstash-backend")

	requestCounter, err := meter.Int64Counter(
		"http.requests.total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	taskCounter, err := meter.Int64Counter(
		"ingest.tasks.total",
		metric.WithDescription("Total ingestion tasks processed"),
	)
	if err != nil {
		return nil, err
	}

	taskDuration, err := meter.Float64Histogram(
		"ingest.task.duration",
		metric.WithDescription("Ingestion task duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCounter:  requestCounter,
		RequestDuration: requestDuration,
		TaskCounter:     taskCounter,
		TaskDuration:    taskDuration,
	}, nil
}

// RecordRequest records HTTP request metrics
func (m *Metrics) RecordRequest(method, path, status string, duration float64) {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("http.status", status),
	}

	m.RequestCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.RequestDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordTask records the outcome of one queued ingestion task.
func (m *Metrics) RecordTask(taskType string, success bool, duration float64) {
	attrs := []attribute.KeyValue{
		attribute.String("task.type", taskType),
		attribute.Bool("task.success", success),
	}

	m.TaskCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.TaskDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}
