package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roman-kulish/vehicle-tracklog/internal/archive"
	"github.com/roman-kulish/vehicle-tracklog/internal/recorder"
	"github.com/roman-kulish/vehicle-tracklog/internal/scheduler"
	"github.com/roman-kulish/vehicle-tracklog/internal/sensor"
	"github.com/roman-kulish/vehicle-tracklog/internal/sensor/ublox"
	"github.com/roman-kulish/vehicle-tracklog/internal/sensor/vectornav"
	"github.com/roman-kulish/vehicle-tracklog/internal/timebase"
)

const statsInterval = 30 * time.Second

// Run wires up and drives the acquisition pipeline until the context is
// cancelled: recover orphans, start the archive sweep, bring the sensors up,
// anchor the time base, then record until shutdown.
//
// Shutdown order matters and is enforced by the task group: the scheduler
// stops polling and drains its buffers into the recorder, the recorder then
// flushes and closes its file, and only then does Run return. The archive
// sweep runs on its own and picks the newly closed file up on a later sweep,
// possibly after a restart.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if err := os.MkdirAll(config.Recorder.OutputDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	// Files left ".active" by a crashed run are final; close them so the
	// sweep can pick them up.
	if recovered, err := recorder.RecoverOrphans(config.Recorder.OutputDir, logger); err != nil {
		return fmt.Errorf("recovering orphaned record files: %w", err)
	} else if recovered > 0 {
		logger.Info("recovered orphaned record files", slog.Int("count", recovered))
	}

	catalog := archive.NewCatalog(config.Archive.CatalogPath)
	defer catalog.Close()

	sweeper, err := archive.NewSweeper(
		config.Recorder.OutputDir,
		config.Archive.HoldingDir,
		config.Archive.DestDir,
		archive.WithLogger(logger),
		archive.WithSweepInterval(time.Duration(config.Archive.SweepInterval)),
		archive.WithCatalog(catalog))
	if err != nil {
		return fmt.Errorf("creating archive sweeper: %w", err)
	}

	gps, imu, err := createDevices(config, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	defer func() {
		cancel()
		_ = g.Wait() // early returns must not leave tasks behind
	}()

	// archival is independent of acquisition and starts right away, so
	// leftovers from previous runs move out without waiting for a fix
	g.Go(func() error { return sweeper.Run(ctx) })

	if err = gps.Start(ctx); err != nil {
		return fmt.Errorf("starting GPS device: %w", err)
	}
	defer gps.Stop()

	if err = imu.Start(ctx); err != nil {
		// degraded single-sensor logging; the scheduler keeps retrying
		logger.Warn(fmt.Sprintf("starting IMU device: %s", err.Error()))
	}
	defer imu.Stop()

	logger.Info("waiting for GPS fix to anchor the time base",
		slog.String("minQuality", config.Anchor.MinFixQuality))

	tb, err := timebase.NewAnchor().Await(ctx, gps, config.MinFixQuality())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil // shut down before a fix arrived; nothing was recorded
		}
		return err // sensor gone before a fix: no time base, no valid run
	}

	logger.Info("time base anchored",
		slog.Time("utc", tb.Now()),
		slog.Duration("clockOffset", tb.Offset()))

	rec, err := recorder.Open(config.Recorder.OutputDir, tb,
		recorder.WithLogger(logger),
		recorder.WithFlushInterval(time.Duration(config.Recorder.FlushIntervalMs)*time.Millisecond),
		recorder.WithFlushRecords(config.Recorder.FlushRecords))
	if err != nil {
		return err
	}

	sched, err := scheduler.New(gps, imu, config.GPS.RateHz, config.IMU.RateHz, rec,
		scheduler.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}

	g.Go(func() error { return sched.Run(ctx) })
	g.Go(func() error { return rec.RunFlusher(ctx) })

	if interval := time.Duration(config.Recorder.RolloverInterval); interval > 0 {
		g.Go(func() error { return runRollover(ctx, rec, interval) })
	}

	g.Go(func() error { return runStats(ctx, sched, rec, gps, imu, logger) })

	err = g.Wait() // scheduler has drained its buffers by now

	if cErr := rec.Close(); cErr != nil && err == nil {
		err = cErr
	}

	return err
}

func createDevices(config *Config, logger *slog.Logger) (gps, imu *sensor.Device, err error) {
	gpsHandler, err := ublox.New(&config.GPS.Gpsd)
	if err != nil {
		return nil, nil, fmt.Errorf("creating GPS handler: %w", err)
	}

	imuHandler, err := vectornav.New(&config.IMU.Serial)
	if err != nil {
		return nil, nil, fmt.Errorf("creating IMU handler: %w", err)
	}

	gpsOptions := []func(*sensor.Device){sensor.WithLogger(logger)}
	if config.GPS.Buffer > 0 {
		gpsOptions = append(gpsOptions, sensor.WithBufferSize(config.GPS.Buffer))
	}

	imuOptions := []func(*sensor.Device){sensor.WithLogger(logger)}
	if config.IMU.Buffer > 0 {
		imuOptions = append(imuOptions, sensor.WithBufferSize(config.IMU.Buffer))
	}

	return sensor.NewDevice(gpsHandler, gpsOptions...), sensor.NewDevice(imuHandler, imuOptions...), nil
}

func runRollover(ctx context.Context, rec *recorder.Recorder, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := rec.Rollover(); err != nil {
				return err
			}
		}
	}
}

func runStats(ctx context.Context, sched *scheduler.Scheduler, rec *recorder.Recorder, gps, imu *sensor.Device, logger *slog.Logger) error {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			stats := sched.Stats()
			logger.Info("pipeline stats",
				slog.Group("gps",
					slog.Bool("connected", gps.IsRunning()),
					slog.Uint64("produced", stats.GPSProduced),
					slog.Uint64("dropped", stats.GPSDropped)),
				slog.Group("imu",
					slog.Bool("connected", imu.IsRunning()),
					slog.Uint64("produced", stats.IMUProduced),
					slog.Uint64("dropped", stats.IMUDropped)),
				slog.Uint64("records", rec.Records()))
		}
	}
}
