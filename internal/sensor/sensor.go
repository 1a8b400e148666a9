package sensor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable is returned when a sensor session has disconnected and can
// no longer produce samples.
var ErrUnavailable = errors.New("sensor unavailable")

// Source identifies which physical sensor brick produced a sample
type Source string

const (
	SourceGPS Source = "gps"
	SourceIMU Source = "imu"
)

const (
	FixNone FixQuality = iota
	Fix2D
	Fix3D
)

// FixQuality is the discrete confidence level of a position solution.
// The values are ordered: a 3D solution is strictly better than 2D.
type FixQuality int

func (q FixQuality) String() string {
	switch q {
	case Fix2D:
		return "2d"
	case Fix3D:
		return "3d"
	default:
		return "none"
	}
}

// ParseFixQuality parses a fix quality name, as used in configuration files
func ParseFixQuality(s string) (FixQuality, error) {
	switch s {
	case "none":
		return FixNone, nil
	case "2d":
		return Fix2D, nil
	case "3d":
		return Fix3D, nil
	default:
		return FixNone, fmt.Errorf("unknown fix quality '%s'", s)
	}
}

// PositionFix is a single GPS position solution.
//
// Units: latitude/longitude in decimal degrees, EPE in metres, speed in m/s,
// heading in degrees from true north. EPE is the horizontal position error
// estimate reported by the receiver.
type PositionFix struct {
	Lat     float64
	Lon     float64
	EPE     float64
	HDOP    float64
	VDOP    float64
	Speed   float64
	Heading float64
	Quality FixQuality
}

// MotionState is a single inertial reading.
//
// Units: acceleration in m/s², angular rate in deg/s, attitude
// (roll/pitch/yaw) in degrees.
type MotionState struct {
	Accel [3]float64 // X, Y, Z
	Rate  [3]float64 // X, Y, Z
	Roll  float64
	Pitch float64
	Yaw   float64
}

// Sample is one reading from a sensor. Exactly one of Fix or Motion is set,
// matching Source; consumers switch on Source and must handle both kinds.
// Samples are immutable once produced.
type Sample struct {
	// Time is the device's own timestamp, zero when the source does not
	// report one (the IMU brick is free-running).
	Time time.Time

	Source Source
	Fix    *PositionFix
	Motion *MotionState
}

// Session is an established connection to a sensor, yielding its samples in
// production order. Next blocks until a sample is available, the context is
// cancelled, or the sensor disconnects (ErrUnavailable). Connection
// establishment and the transport protocol are the vendor daemon's business.
type Session interface {
	Next(ctx context.Context) (Sample, error)
}
