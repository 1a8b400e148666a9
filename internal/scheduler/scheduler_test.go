package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/roman-kulish/vehicle-tracklog/internal/sensor"
)

// fakeSource replays a fixed queue of samples; it can start out
// disconnected and come back on Start.
type fakeSource struct {
	src sensor.Source

	mu     sync.Mutex
	queue  []sensor.Sample
	failed bool
	starts int
}

func (f *fakeSource) Poll() (sensor.Sample, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failed {
		return sensor.Sample{}, false, sensor.ErrUnavailable
	}
	if len(f.queue) == 0 {
		return sensor.Sample{}, false, nil
	}

	smp := f.queue[0]
	f.queue = f.queue[1:]
	return smp, true, nil
}

func (f *fakeSource) Start(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = false
	f.starts++
	return nil
}

func (f *fakeSource) Source() sensor.Source { return f.src }

func (f *fakeSource) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

// captureIngester records every ingested sample, or fails each call with err
type captureIngester struct {
	mu  sync.Mutex
	got []sensor.Sample
	err error
}

func (c *captureIngester) Ingest(s sensor.Sample) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return c.err
	}
	c.got = append(c.got, s)
	return nil
}

func (c *captureIngester) samples() []sensor.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sensor.Sample(nil), c.got...)
}

func gpsFix(lat float64) sensor.Sample {
	return sensor.Sample{Source: sensor.SourceGPS, Fix: &sensor.PositionFix{Lat: lat, Quality: sensor.Fix3D}}
}

func makeSamples(src sensor.Source, n int) []sensor.Sample {
	samples := make([]sensor.Sample, n)
	for i := range samples {
		if src == sensor.SourceGPS {
			samples[i] = gpsFix(float64(i))
		} else {
			samples[i] = imuSample(float64(i))
		}
	}
	return samples
}

// bySource filters samples of one source, preserving order
func bySource(samples []sensor.Sample, src sensor.Source) []sensor.Sample {
	var out []sensor.Sample
	for _, s := range samples {
		if s.Source == src {
			out = append(out, s)
		}
	}
	return out
}

func TestScheduler_ForwardsAllSamples(t *testing.T) {
	gps := &fakeSource{src: sensor.SourceGPS, queue: makeSamples(sensor.SourceGPS, 5)}
	imu := &fakeSource{src: sensor.SourceIMU, queue: makeSamples(sensor.SourceIMU, 10)}
	rec := &captureIngester{}

	s, err := New(gps, imu, 200, 500, rec)
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err = s.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := rec.samples()
	if len(got) != 15 {
		t.Fatalf("Expected 15 ingested samples, got %d", len(got))
	}

	// production order must survive per source
	for i, smp := range bySource(got, sensor.SourceGPS) {
		if smp.Fix.Lat != float64(i) {
			t.Errorf("GPS sample %d out of order: got lat %f", i, smp.Fix.Lat)
		}
	}
	for i, smp := range bySource(got, sensor.SourceIMU) {
		if smp.Motion.Yaw != float64(i) {
			t.Errorf("IMU sample %d out of order: got yaw %f", i, smp.Motion.Yaw)
		}
	}

	stats := s.Stats()
	if stats.GPSProduced != 5 || stats.IMUProduced != 10 {
		t.Errorf("Expected counters 5/10, got %d/%d", stats.GPSProduced, stats.IMUProduced)
	}
	if stats.GPSDropped != 0 || stats.IMUDropped != 0 {
		t.Errorf("Expected no drops, got %d/%d", stats.GPSDropped, stats.IMUDropped)
	}
}

func TestScheduler_DrainsOnShutdown(t *testing.T) {
	gps := &fakeSource{src: sensor.SourceGPS, queue: makeSamples(sensor.SourceGPS, 3)}
	imu := &fakeSource{src: sensor.SourceIMU, queue: makeSamples(sensor.SourceIMU, 4)}
	rec := &captureIngester{}

	s, err := New(gps, imu, 100, 100, rec)
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	// cancelled before Run: the final poll still captures queued samples
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err = s.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := rec.samples()
	if len(got) != 7 {
		t.Fatalf("Expected 7 ingested samples, got %d", len(got))
	}
	if len(bySource(got, sensor.SourceGPS)) != 3 || len(bySource(got, sensor.SourceIMU)) != 4 {
		t.Errorf("Expected 3 gps and 4 imu samples, got %d and %d",
			len(bySource(got, sensor.SourceGPS)), len(bySource(got, sensor.SourceIMU)))
	}
}

func TestScheduler_GPSBeforeIMU(t *testing.T) {
	gps := &fakeSource{src: sensor.SourceGPS}
	imu := &fakeSource{src: sensor.SourceIMU}
	rec := &captureIngester{}

	s, err := New(gps, imu, 10, 50, rec)
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	// both buffers pending: IMU pushed first must still come out second
	for i := 0; i < 3; i++ {
		s.imuBuf.Push(imuSample(float64(i)))
	}
	for i := 0; i < 2; i++ {
		s.gpsBuf.Push(gpsFix(float64(i)))
	}

	done := make(chan struct{})
	close(done)
	if err = s.forward(done); err != nil {
		t.Fatalf("forward failed: %v", err)
	}

	got := rec.samples()
	if len(got) != 5 {
		t.Fatalf("Expected 5 ingested samples, got %d", len(got))
	}
	for i := 0; i < 2; i++ {
		if got[i].Source != sensor.SourceGPS {
			t.Errorf("Sample %d: expected gps, got %s", i, got[i].Source)
		}
	}
	for i := 2; i < 5; i++ {
		if got[i].Source != sensor.SourceIMU {
			t.Errorf("Sample %d: expected imu, got %s", i, got[i].Source)
		}
	}
}

func TestScheduler_IngestFailureIsFatal(t *testing.T) {
	errSink := errors.New("sink gone")

	gps := &fakeSource{src: sensor.SourceGPS, queue: makeSamples(sensor.SourceGPS, 1)}
	imu := &fakeSource{src: sensor.SourceIMU}
	rec := &captureIngester{err: errSink}

	s, err := New(gps, imu, 200, 200, rec)
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = s.Run(ctx)
	if err == nil {
		t.Fatal("Expected Run to fail when ingest fails")
	}
	if !errors.Is(err, errSink) {
		t.Errorf("Expected error wrapping the ingest failure, got: %v", err)
	}
	if ctx.Err() != nil {
		t.Error("Run should have returned before the safety timeout")
	}
}

func TestScheduler_RestartsDisconnectedSource(t *testing.T) {
	gps := &fakeSource{src: sensor.SourceGPS, queue: makeSamples(sensor.SourceGPS, 2), failed: true}
	imu := &fakeSource{src: sensor.SourceIMU}
	rec := &captureIngester{}

	s, err := New(gps, imu, 200, 200, rec, WithRetryInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err = s.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if gps.startCount() == 0 {
		t.Error("Expected the scheduler to restart the disconnected source")
	}
	if got := len(bySource(rec.samples(), sensor.SourceGPS)); got != 2 {
		t.Errorf("Expected 2 gps samples after reconnect, got %d", got)
	}
}

func TestNew_InvalidRates(t *testing.T) {
	gps := &fakeSource{src: sensor.SourceGPS}
	imu := &fakeSource{src: sensor.SourceIMU}

	if _, err := New(gps, imu, 0, 50, &captureIngester{}); err == nil {
		t.Error("Expected error for zero gps rate")
	}
	if _, err := New(gps, imu, 10, -1, &captureIngester{}); err == nil {
		t.Error("Expected error for negative imu rate")
	}
}
