package timebase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/roman-kulish/vehicle-tracklog/internal/sensor"
)

// scriptSession replays a fixed sequence of samples, then disconnects
type scriptSession struct {
	samples []sensor.Sample
}

func (s *scriptSession) Next(_ context.Context) (sensor.Sample, error) {
	if len(s.samples) == 0 {
		return sensor.Sample{}, sensor.ErrUnavailable
	}
	smp := s.samples[0]
	s.samples = s.samples[1:]
	return smp, nil
}

func gpsSample(q sensor.FixQuality, ts time.Time) sensor.Sample {
	return sensor.Sample{
		Time:   ts,
		Source: sensor.SourceGPS,
		Fix:    &sensor.PositionFix{Quality: q},
	}
}

func TestTimeBase_Mapping(t *testing.T) {
	tb := New(3 * time.Hour)

	local := time.Date(2024, time.December, 21, 9, 0, 0, 0, time.UTC)
	want := local.Add(3 * time.Hour)
	if got := tb.At(local); !got.Equal(want) {
		t.Errorf("Expected %s, got %s", want, got)
	}
	if tb.At(local).Location() != time.UTC {
		t.Error("Mapped time must be UTC")
	}
	if tb.Offset() != 3*time.Hour {
		t.Errorf("Expected offset 3h, got %s", tb.Offset())
	}
}

func TestAnchor_AwaitSkipsUnqualified(t *testing.T) {
	deviceTime := time.Now().Add(2 * time.Hour).UTC()
	session := &scriptSession{samples: []sensor.Sample{
		gpsSample(sensor.FixNone, deviceTime.Add(-3*time.Second)),
		{Source: sensor.SourceIMU, Motion: &sensor.MotionState{}}, // no fix at all
		gpsSample(sensor.Fix2D, deviceTime.Add(-2*time.Second)),   // below threshold
		gpsSample(sensor.Fix3D, time.Time{}),                      // qualifying but no receiver time
		gpsSample(sensor.Fix3D, deviceTime),
	}}

	a := NewAnchor()
	if _, ok := a.Established(); ok {
		t.Fatal("Anchor should not be established before Await")
	}

	tb, err := a.Await(context.Background(), session, sensor.Fix3D)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}

	// the established base must map the local clock onto the receiver's
	if diff := tb.Now().Sub(deviceTime); diff < -time.Second || diff > time.Second {
		t.Errorf("Time base is off by %s", diff)
	}

	if _, ok := a.Established(); !ok {
		t.Error("Anchor should be established after Await")
	}
}

func TestAnchor_AwaitSensorGone(t *testing.T) {
	session := &scriptSession{samples: []sensor.Sample{
		gpsSample(sensor.FixNone, time.Now()),
	}}

	a := NewAnchor()
	_, err := a.Await(context.Background(), session, sensor.Fix2D)
	if err == nil {
		t.Fatal("Expected an error when the session ends without a qualifying fix")
	}
	if !errors.Is(err, sensor.ErrUnavailable) {
		t.Errorf("Expected error wrapping ErrUnavailable, got: %v", err)
	}
}

func TestAnchor_EstablishOnce(t *testing.T) {
	first := time.Now().Add(time.Hour)
	a := NewAnchor()

	session := &scriptSession{samples: []sensor.Sample{gpsSample(sensor.Fix3D, first)}}
	tb1, err := a.Await(context.Background(), session, sensor.Fix3D)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}

	// a second Await must return the existing base without consuming samples
	session = &scriptSession{samples: []sensor.Sample{gpsSample(sensor.Fix3D, first.Add(time.Hour))}}
	tb2, err := a.Await(context.Background(), session, sensor.Fix3D)
	if err != nil {
		t.Fatalf("Second Await failed: %v", err)
	}

	if tb1 != tb2 {
		t.Error("Anchor must establish exactly once per run")
	}
	if len(session.samples) != 1 {
		t.Error("Second Await should not have consumed samples")
	}
}

func TestAnchor_MinQualityNone(t *testing.T) {
	// with no threshold, any fix with a receiver time anchors
	session := &scriptSession{samples: []sensor.Sample{
		gpsSample(sensor.FixNone, time.Now().UTC()),
	}}

	a := NewAnchor()
	if _, err := a.Await(context.Background(), session, sensor.FixNone); err != nil {
		t.Fatalf("Await failed: %v", err)
	}
}
