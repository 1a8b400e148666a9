// Package scheduler drives the dual-rate sampling loop: one polling task per
// sensor, each on its own period, decoupled from the write path by bounded
// per-source buffers.
//
// The two periods are not multiples of one another and the GPS receiver is
// device-paced on top of that, so the loops never share a blocking read;
// each suspends on its own ticker and neither can starve the other. A single
// forwarding task empties the buffers into the recorder, taking GPS before
// IMU when both have samples pending. That ordering is advisory, for
// deterministic downstream files; nothing depends on it.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roman-kulish/vehicle-tracklog/internal/sensor"
)

const (
	// DefaultBufferCapacity is the per-source sample buffer capacity
	DefaultBufferCapacity = 256

	// DefaultRetryInterval is the wait between sensor restart attempts
	DefaultRetryInterval = 5 * time.Second
)

// Source is a restartable sensor the scheduler polls on its tick. Poll must
// not block; Start re-establishes a disconnected sensor.
type Source interface {
	Poll() (sensor.Sample, bool, error)
	Start(ctx context.Context) error
	Source() sensor.Source
}

// Ingester receives samples in forwarding order. An error from Ingest is
// fatal for the run: it means records are no longer reaching durable
// storage.
type Ingester interface {
	Ingest(s sensor.Sample) error
}

// WithLogger sets the logger for the scheduler
func WithLogger(logger *slog.Logger) func(s *Scheduler) {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithBufferCapacity sets the per-source sample buffer capacity
func WithBufferCapacity(capacity int) func(s *Scheduler) {
	return func(s *Scheduler) {
		s.bufferCapacity = capacity
	}
}

// WithRetryInterval sets the wait between sensor restart attempts
func WithRetryInterval(interval time.Duration) func(s *Scheduler) {
	return func(s *Scheduler) {
		s.retryInterval = interval
	}
}

// Stats is a snapshot of the scheduler's sample counters
type Stats struct {
	GPSProduced uint64
	GPSDropped  uint64
	IMUProduced uint64
	IMUDropped  uint64
}

// Scheduler owns the two sensor polling loops and the forwarding task
type Scheduler struct {
	gps       Source
	imu       Source
	gpsPeriod time.Duration
	imuPeriod time.Duration

	recorder Ingester

	gpsBuf *SampleBuffer
	imuBuf *SampleBuffer
	notify chan struct{}

	gpsProduced atomic.Uint64
	imuProduced atomic.Uint64

	bufferCapacity int
	retryInterval  time.Duration
	logger         *slog.Logger
}

// New creates a Scheduler polling gps at gpsRateHz and imu at imuRateHz,
// forwarding every sample to the recorder.
func New(gps, imu Source, gpsRateHz, imuRateHz int, recorder Ingester, options ...func(s *Scheduler)) (*Scheduler, error) {
	if gpsRateHz <= 0 || imuRateHz <= 0 {
		return nil, fmt.Errorf("invalid sampling rates: gps=%dHz, imu=%dHz", gpsRateHz, imuRateHz)
	}

	s := Scheduler{
		gps:            gps,
		imu:            imu,
		gpsPeriod:      time.Second / time.Duration(gpsRateHz),
		imuPeriod:      time.Second / time.Duration(imuRateHz),
		recorder:       recorder,
		notify:         make(chan struct{}, 1),
		bufferCapacity: DefaultBufferCapacity,
		retryInterval:  DefaultRetryInterval,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&s)
	}

	var err error
	if s.gpsBuf, err = NewSampleBuffer(s.bufferCapacity); err != nil {
		return nil, err
	}
	if s.imuBuf, err = NewSampleBuffer(s.bufferCapacity); err != nil {
		return nil, err
	}

	return &s, nil
}

// Run polls both sensors until the context is cancelled, then drains the
// buffers to the recorder and returns. The only error Run reports is a
// failed ingest, which means persistence is gone and the run must end.
func (s *Scheduler) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pollersDone := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go s.pollLoop(ctx, s.gps, s.gpsPeriod, s.gpsBuf, &s.gpsProduced, &wg)
	go s.pollLoop(ctx, s.imu, s.imuPeriod, s.imuBuf, &s.imuProduced, &wg)

	go func() {
		wg.Wait()
		close(pollersDone)
	}()

	err := s.forward(pollersDone)

	cancel() // on ingest failure, stop the pollers too
	<-pollersDone
	return err
}

// Stats returns a snapshot of the sample counters
func (s *Scheduler) Stats() Stats {
	return Stats{
		GPSProduced: s.gpsProduced.Load(),
		GPSDropped:  s.gpsBuf.Dropped(),
		IMUProduced: s.imuProduced.Load(),
		IMUDropped:  s.imuBuf.Dropped(),
	}
}

// pollLoop polls a single sensor on its own period. A disconnected sensor is
// retried with backoff; meanwhile the other loop keeps logging. Partial
// telemetry beats none.
func (s *Scheduler) pollLoop(ctx context.Context, src Source, period time.Duration, buf *SampleBuffer, produced *atomic.Uint64, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := s.logger.With(slog.String("source", string(src.Source())))

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// capture samples parsed before shutdown
			if err := s.pollInto(src, buf, produced); err != nil {
				logger.Debug("sensor already gone at shutdown")
			}
			return

		case <-ticker.C:
			if err := s.pollInto(src, buf, produced); err != nil {
				logger.Warn("sensor disconnected, will retry",
					slog.Duration("retryInterval", s.retryInterval))

				if !s.restart(ctx, src, logger) {
					return // shutting down
				}
			}
		}
	}
}

// pollInto moves every ready sample from the source into its buffer,
// preserving production order.
func (s *Scheduler) pollInto(src Source, buf *SampleBuffer, produced *atomic.Uint64) error {
	for {
		smp, ok, err := src.Poll()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		produced.Add(1)
		buf.Push(smp)
		s.wake()
	}
}

// restart re-establishes a disconnected sensor, retrying until it comes back
// or the run ends. Returns false only when the context is cancelled.
func (s *Scheduler) restart(ctx context.Context, src Source, logger *slog.Logger) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.retryInterval):
		}

		if err := src.Start(ctx); err != nil {
			logger.Warn(fmt.Sprintf("sensor restart failed: %s", err.Error()))
			continue
		}

		logger.Info("sensor reconnected")
		return true
	}
}

// forward empties the buffers into the recorder, GPS first when both have
// samples pending. It keeps going until the pollers have stopped and both
// buffers are empty, so queued samples survive a shutdown.
func (s *Scheduler) forward(pollersDone <-chan struct{}) error {
	for {
		if smp, ok := s.gpsBuf.Pop(); ok {
			if err := s.recorder.Ingest(smp); err != nil {
				return fmt.Errorf("ingesting gps sample: %w", err)
			}
			continue
		}
		if smp, ok := s.imuBuf.Pop(); ok {
			if err := s.recorder.Ingest(smp); err != nil {
				return fmt.Errorf("ingesting imu sample: %w", err)
			}
			continue
		}

		select {
		case <-s.notify:
		case <-pollersDone:
			for _, smp := range s.gpsBuf.DrainAll() {
				if err := s.recorder.Ingest(smp); err != nil {
					return fmt.Errorf("draining gps samples: %w", err)
				}
			}
			for _, smp := range s.imuBuf.DrainAll() {
				if err := s.recorder.Ingest(smp); err != nil {
					return fmt.Errorf("draining imu samples: %w", err)
				}
			}
			return nil
		}
	}
}

func (s *Scheduler) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
