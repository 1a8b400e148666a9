// Package vectornav parses the ASCII output of a VectorNav inertial unit
// into motion state samples.
//
// The unit streams VNYMR sentences: attitude (yaw/pitch/roll in degrees),
// magnetic field, acceleration (m/s²) and angular rate (rad/s, converted to
// deg/s here). The sentence carries no timestamp; the unit is free-running.
package vectornav

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"github.com/roman-kulish/vehicle-tracklog/internal/sensor"
)

const (
	Runtime = "vnstream"
	Device  = "VectorNav"
)

// handler struct represents a VectorNav handler
type handler struct {
	binPath string
	args    []string
}

// New creates a new VectorNav handler
func New(config *Config) (sensor.Handler, error) {
	binPath, err := sensor.FindRuntime(Runtime)
	if err != nil {
		return nil, fmt.Errorf("error finding runtime: %w", err)
	}

	args, err := config.Args()
	if err != nil {
		return nil, fmt.Errorf("error creating args: %w", err)
	}

	return &handler{binPath, args}, nil
}

// Cmd returns an exec.Cmd for the VectorNav handler
func (h *handler) Cmd(ctx context.Context) *exec.Cmd {
	return exec.CommandContext(ctx, h.binPath, h.args...)
}

// Parse parses a single VNYMR sentence into a motion sample
func (h *handler) Parse(line string) (sensor.Sample, bool, error) {
	fields, err := checksumFields(line)
	if err != nil {
		return sensor.Sample{}, false, err
	}

	if fields[0] != "VNYMR" {
		return sensor.Sample{}, false, nil // other output registers are not needed
	}
	if len(fields) < 13 {
		return sensor.Sample{}, false, fmt.Errorf("invalid VNYMR sentence: not enough fields")
	}

	var motion sensor.MotionState

	if motion.Yaw, err = strconv.ParseFloat(fields[1], 64); err != nil {
		return sensor.Sample{}, false, fmt.Errorf("invalid yaw: %w", err)
	}
	if motion.Pitch, err = strconv.ParseFloat(fields[2], 64); err != nil {
		return sensor.Sample{}, false, fmt.Errorf("invalid pitch: %w", err)
	}
	if motion.Roll, err = strconv.ParseFloat(fields[3], 64); err != nil {
		return sensor.Sample{}, false, fmt.Errorf("invalid roll: %w", err)
	}

	// fields 4-6 are the magnetometer, not recorded

	for i := 0; i < 3; i++ {
		if motion.Accel[i], err = strconv.ParseFloat(fields[7+i], 64); err != nil {
			return sensor.Sample{}, false, fmt.Errorf("invalid acceleration: %w", err)
		}
	}

	for i := 0; i < 3; i++ {
		rate, err := strconv.ParseFloat(fields[10+i], 64)
		if err != nil {
			return sensor.Sample{}, false, fmt.Errorf("invalid angular rate: %w", err)
		}
		motion.Rate[i] = rate * 180 / math.Pi // unit reports rad/s
	}

	return sensor.Sample{Source: sensor.SourceIMU, Motion: &motion}, true, nil
}

// Source returns the sensor source
func (h *handler) Source() sensor.Source {
	return sensor.SourceIMU
}

// Device returns the device type
func (h *handler) Device() string {
	return Device
}

// checksumFields validates the sentence framing and XOR checksum and returns
// the comma-separated fields between '$' and '*'. VectorNav uses the NMEA
// framing scheme for its ASCII output.
func checksumFields(line string) ([]string, error) {
	if !strings.HasPrefix(line, "$") {
		return nil, fmt.Errorf("invalid sentence: missing '$'")
	}

	star := strings.LastIndexByte(line, '*')
	if star < 0 || star+3 > len(line) {
		return nil, fmt.Errorf("invalid sentence: missing checksum")
	}

	body := line[1:star]

	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}

	want, err := strconv.ParseUint(line[star+1:star+3], 16, 8)
	if err != nil {
		return nil, fmt.Errorf("invalid checksum: %w", err)
	}
	if sum != byte(want) {
		return nil, fmt.Errorf("checksum mismatch: computed %02X, sentence says %02X", sum, want)
	}

	return strings.Split(body, ","), nil
}
