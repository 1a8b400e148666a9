// Package ublox turns the raw NMEA feed of a gpsd-managed u-blox receiver
// into position fix samples.
//
// A full fix is assembled from three sentence types: GSA carries the fix
// mode (2D/3D) and dilution of precision, GST carries the receiver's own
// position error estimate, and RMC carries time, position, speed and course.
// GSA and GST update handler state; a sample is emitted on every RMC, which
// closes each receiver epoch.
package ublox

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/roman-kulish/vehicle-tracklog/internal/sensor"
)

const (
	Runtime = "gpspipe"
	Device  = "u-blox"

	knotsToMS = 0.514444 // knots to m/s
)

// handler struct represents a u-blox NMEA handler
type handler struct {
	binPath string
	args    []string

	// epoch state carried between sentences
	quality    sensor.FixQuality
	hdop, vdop float64
	epe        float64
}

// New creates a new u-blox handler
func New(config *Config) (sensor.Handler, error) {
	binPath, err := sensor.FindRuntime(Runtime)
	if err != nil {
		return nil, fmt.Errorf("error finding runtime: %w", err)
	}

	args, err := config.Args()
	if err != nil {
		return nil, fmt.Errorf("error creating args: %w", err)
	}

	return &handler{binPath: binPath, args: args}, nil
}

// Cmd returns an exec.Cmd for the u-blox handler
func (h *handler) Cmd(ctx context.Context) *exec.Cmd {
	return exec.CommandContext(ctx, h.binPath, h.args...)
}

// Parse parses a single NMEA sentence. GSA and GST only update handler
// state; RMC yields a sample carrying the state of the current epoch.
func (h *handler) Parse(line string) (sensor.Sample, bool, error) {
	fields, err := checksumFields(line)
	if err != nil {
		return sensor.Sample{}, false, err
	}

	// fields[0] is the talker+type, e.g. "GPRMC" or "GNRMC"
	if len(fields[0]) != 5 {
		return sensor.Sample{}, false, fmt.Errorf("invalid sentence type '%s'", fields[0])
	}

	switch fields[0][2:] {
	case "GSA":
		return sensor.Sample{}, false, h.parseGSA(fields)
	case "GST":
		return sensor.Sample{}, false, h.parseGST(fields)
	case "RMC":
		return h.parseRMC(fields)
	default:
		return sensor.Sample{}, false, nil // other sentence types are not needed
	}
}

// Source returns the sensor source
func (h *handler) Source() sensor.Source {
	return sensor.SourceGPS
}

// Device returns the device type
func (h *handler) Device() string {
	return Device
}

// parseGSA handles xxGSA: fix mode and dilution of precision
func (h *handler) parseGSA(fields []string) error {
	if len(fields) < 18 {
		return fmt.Errorf("invalid GSA sentence: not enough fields")
	}

	switch fields[2] {
	case "3":
		h.quality = sensor.Fix3D
	case "2":
		h.quality = sensor.Fix2D
	default:
		h.quality = sensor.FixNone
	}

	var err error
	if h.hdop, err = parseFloat(fields[16]); err != nil {
		return fmt.Errorf("invalid HDOP: %w", err)
	}
	if h.vdop, err = parseFloat(fields[17]); err != nil {
		return fmt.Errorf("invalid VDOP: %w", err)
	}

	return nil
}

// parseGST handles xxGST: pseudorange error statistics. The horizontal
// position error estimate is the vector sum of the latitude and longitude
// standard deviations.
func (h *handler) parseGST(fields []string) error {
	if len(fields) < 8 {
		return fmt.Errorf("invalid GST sentence: not enough fields")
	}

	latSD, err := parseFloat(fields[6])
	if err != nil {
		return fmt.Errorf("invalid latitude error: %w", err)
	}

	lonSD, err := parseFloat(fields[7])
	if err != nil {
		return fmt.Errorf("invalid longitude error: %w", err)
	}

	h.epe = math.Hypot(latSD, lonSD)
	return nil
}

// parseRMC handles xxRMC: time, position, speed and course. This closes the
// receiver epoch and yields a sample.
func (h *handler) parseRMC(fields []string) (sensor.Sample, bool, error) {
	if len(fields) < 10 {
		return sensor.Sample{}, false, fmt.Errorf("invalid RMC sentence: not enough fields")
	}

	timestamp, err := parseDateTime(fields[9], fields[1])
	if err != nil {
		return sensor.Sample{}, false, fmt.Errorf("invalid timestamp: %w", err)
	}

	fix := sensor.PositionFix{
		Quality: h.quality,
		HDOP:    h.hdop,
		VDOP:    h.vdop,
		EPE:     h.epe,
	}

	if fields[2] != "A" {
		// void fix: the receiver has no solution yet. Emit it anyway with
		// quality none, so downstream sees the sensor is alive.
		fix.Quality = sensor.FixNone
		return sensor.Sample{Time: timestamp, Source: sensor.SourceGPS, Fix: &fix}, true, nil
	}

	if fix.Lat, err = parseLatLon(fields[3], fields[4]); err != nil {
		return sensor.Sample{}, false, fmt.Errorf("invalid latitude: %w", err)
	}
	if fix.Lon, err = parseLatLon(fields[5], fields[6]); err != nil {
		return sensor.Sample{}, false, fmt.Errorf("invalid longitude: %w", err)
	}

	speed, err := parseFloat(fields[7])
	if err != nil {
		return sensor.Sample{}, false, fmt.Errorf("invalid speed: %w", err)
	}
	fix.Speed = speed * knotsToMS

	if fix.Heading, err = parseFloat(fields[8]); err != nil {
		return sensor.Sample{}, false, fmt.Errorf("invalid course: %w", err)
	}

	return sensor.Sample{Time: timestamp, Source: sensor.SourceGPS, Fix: &fix}, true, nil
}

// checksumFields validates the sentence framing and XOR checksum and returns
// the comma-separated fields between '$' and '*'.
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

// parseFloat parses a float field, treating an empty field as zero. NMEA
// leaves fields empty when the receiver has no value for them.
func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// parseLatLon converts NMEA ddmm.mmmm / dddmm.mmmm with a hemisphere
// indicator into signed decimal degrees.
func parseLatLon(value, hemi string) (float64, error) {
	if value == "" {
		return 0, nil
	}

	dot := strings.IndexByte(value, '.')
	if dot < 3 {
		return 0, fmt.Errorf("malformed coordinate '%s'", value)
	}

	deg, err := strconv.ParseFloat(value[:dot-2], 64)
	if err != nil {
		return 0, err
	}

	minutes, err := strconv.ParseFloat(value[dot-2:], 64)
	if err != nil {
		return 0, err
	}

	coord := deg + minutes/60
	switch hemi {
	case "S", "W":
		coord = -coord
	case "N", "E", "":
	default:
		return 0, fmt.Errorf("invalid hemisphere '%s'", hemi)
	}

	return coord, nil
}

// parseDateTime combines the RMC ddmmyy date and hhmmss.sss time fields into
// a UTC timestamp.
func parseDateTime(date, clock string) (time.Time, error) {
	if len(date) != 6 || len(clock) < 6 {
		return time.Time{}, fmt.Errorf("malformed date/time '%s'/'%s'", date, clock)
	}

	day, err := strconv.Atoi(date[0:2])
	if err != nil {
		return time.Time{}, err
	}
	month, err := strconv.Atoi(date[2:4])
	if err != nil {
		return time.Time{}, err
	}
	year, err := strconv.Atoi(date[4:6])
	if err != nil {
		return time.Time{}, err
	}

	hour, err := strconv.Atoi(clock[0:2])
	if err != nil {
		return time.Time{}, err
	}
	minute, err := strconv.Atoi(clock[2:4])
	if err != nil {
		return time.Time{}, err
	}

	sec, err := strconv.ParseFloat(clock[4:], 64)
	if err != nil {
		return time.Time{}, err
	}
	secInt, frac := math.Modf(sec)

	return time.Date(2000+year, time.Month(month), day, hour, minute, int(secInt),
		int(frac*float64(time.Second)), time.UTC), nil
}
