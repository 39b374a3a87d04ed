package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type capturedHistogram struct {
	name  string
	value float64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   []capturedCounter
	histograms []capturedHistogram
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, capturedHistogram{name: name, value: value, tags: cloneTags(tags)})
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFields(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFields(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFields(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]capturedLog(nil), (*l.records)...)
}

func TestObserver_RecordsMetricsAndLogs(t *testing.T) {
	logger := newCaptureLogger()
	metrics := &captureMetricsRecorder{}
	observer := NewObserver(logger, metrics, "mailroom")

	observer.Observe(context.Background(), time.Now(), "ingest process", nil, map[string]any{
		"item_key": "msg-1",
		"source":   ItemSourceWebhook,
	})

	if len(metrics.counters) != 1 {
		t.Fatalf("expected one counter, got %d", len(metrics.counters))
	}
	if metrics.counters[0].name != "mailroom.ingest_process.total" {
		t.Fatalf("unexpected counter name %q", metrics.counters[0].name)
	}
	if metrics.counters[0].tags["status"] != "success" {
		t.Fatalf("expected success status tag, got %q", metrics.counters[0].tags["status"])
	}
	if metrics.counters[0].tags["item_key"] != "msg-1" {
		t.Fatalf("expected item_key tag, got %v", metrics.counters[0].tags)
	}
	if len(metrics.histograms) != 1 {
		t.Fatalf("expected one histogram, got %d", len(metrics.histograms))
	}

	records := logger.snapshot()
	if len(records) != 1 {
		t.Fatalf("expected one log record, got %d", len(records))
	}
	if records[0].level != "info" {
		t.Fatalf("expected info level, got %q", records[0].level)
	}
}

func TestObserver_FailureLogsError(t *testing.T) {
	logger := newCaptureLogger()
	metrics := &captureMetricsRecorder{}
	observer := NewObserver(logger, metrics, "mailroom")

	observer.Observe(context.Background(), time.Now(), "subscription.renew", errors.New("provider down"), nil)

	if metrics.counters[0].tags["status"] != "failure" {
		t.Fatalf("expected failure status tag")
	}
	records := logger.snapshot()
	if len(records) != 1 || records[0].level != "error" {
		t.Fatalf("expected one error log, got %+v", records)
	}
	if records[0].fields["error"] != "provider down" {
		t.Fatalf("expected error field, got %v", records[0].fields)
	}
}

func TestObserver_NilLoggerIsSafe(t *testing.T) {
	observer := NewObserver(nil, nil, "")
	observer.Observe(context.Background(), time.Now(), "noop", nil, nil)
	observer.LogWarn(context.Background(), "ignored", nil)
}
