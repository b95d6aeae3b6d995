// Package tsdb записывает завершённые run'ы в InfluxDB.
//
// Одна точка на run: measurement "graph_runs", теги graph/status/run_method,
// поля duration_ms, effort_minutes, success_devices, failed_devices.
package tsdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/shaiso/autonet/internal/config"
	"github.com/shaiso/autonet/internal/domain"
)

const (
	measurement = "graph_runs"

	defaultPingTimeout = 5 * time.Second
)

// Ошибки подключения.
var (
	ErrDisabled         = errors.New("influxdb is disabled")
	ErrConnectionFailed = errors.New("influxdb connection failed")
)

// Writer — часть api.WriteAPI, нужная Recorder.
type Writer interface {
	WritePoint(point *write.Point)
	Flush()
}

// Recorder пишет точки run'ов. Запись неблокирующая и идёт пачками.
type Recorder struct {
	writer Writer
	close  func()
}

// NewRecorder создаёт Recorder поверх готового writer.
func NewRecorder(w Writer) *Recorder {
	return &Recorder{writer: w}
}

// Connect подключается к InfluxDB.
func Connect(ctx context.Context, cfg config.InfluxDBConfig, logger *slog.Logger) (*Recorder, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if logger == nil {
		logger = slog.Default()
	}

	batchSize := max(cfg.BatchSize, 1)
	flushInterval := max(cfg.FlushInterval, 1)

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*1000),
	)

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			logger.Warn("influxdb write failed", "error", err)
		}
	}()

	r := NewRecorder(writeAPI)
	r.close = client.Close
	return r, nil
}

// RecordRun записывает завершённый run.
func (r *Recorder) RecordRun(run *domain.Run) {
	if r == nil || !run.IsFinished() {
		return
	}
	r.writer.WritePoint(Point(run))
}

// Close сбрасывает буфер и закрывает клиент.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.writer.Flush()
	if r.close != nil {
		r.close()
	}
}

// Point строит точку для run.
func Point(run *domain.Run) *write.Point {
	tags := map[string]string{
		"graph":      run.GraphName,
		"status":     string(run.Status),
		"run_method": string(run.RunMethod),
	}

	fields := map[string]any{
		"duration_ms":    run.Duration().Milliseconds(),
		"effort_minutes": run.EffortMinutes,
	}
	if run.Result != nil && run.Result.Summary != nil {
		fields["success_devices"] = len(run.Result.Summary.Success)
		fields["failed_devices"] = len(run.Result.Summary.Failure)
	}

	ts := run.CreatedAt
	if run.FinishedAt != nil {
		ts = *run.FinishedAt
	}
	return write.NewPoint(measurement, tags, fields, ts)
}
