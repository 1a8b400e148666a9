package recorder

import (
	"fmt"
	"strconv"
	"time"

	"github.com/roman-kulish/vehicle-tracklog/internal/sensor"
)

// TimestampLayout is the fixed textual timestamp format of record files.
// Millisecond precision; UTC.
const TimestampLayout = "2006-01-02 15:04:05.000"

// columns is the record file schema, in fixed order. Every row carries all
// columns; fields that do not apply to the row's source kind are empty
// strings, so any row parses on its own.
//
// Units: lat/lon in degrees, epe in metres, speed in m/s, heading and
// roll/pitch/yaw in degrees, accel in m/s², rate in deg/s.
var columns = []string{
	"timestamp", "source",
	"lat", "lon", "epe", "hdop", "vdop", "speed", "heading", "fix_quality",
	"accel_x", "accel_y", "accel_z", "rate_x", "rate_y", "rate_z", "roll", "pitch", "yaw",
}

// Header returns the record file header row
func Header() []string {
	return columns
}

// Row flattens a sample into a record file row. The payload switch is
// exhaustive: a sample that carries neither payload kind is a programming
// error and is rejected.
func Row(ts time.Time, s sensor.Sample) ([]string, error) {
	row := make([]string, len(columns))
	row[0] = ts.UTC().Format(TimestampLayout)
	row[1] = string(s.Source)

	switch {
	case s.Fix != nil:
		row[2] = ftoa(s.Fix.Lat, 7)
		row[3] = ftoa(s.Fix.Lon, 7)
		row[4] = ftoa(s.Fix.EPE, 2)
		row[5] = ftoa(s.Fix.HDOP, 2)
		row[6] = ftoa(s.Fix.VDOP, 2)
		row[7] = ftoa(s.Fix.Speed, 3)
		row[8] = ftoa(s.Fix.Heading, 2)
		row[9] = s.Fix.Quality.String()

	case s.Motion != nil:
		for i := 0; i < 3; i++ {
			row[10+i] = ftoa(s.Motion.Accel[i], 4)
			row[13+i] = ftoa(s.Motion.Rate[i], 4)
		}
		row[16] = ftoa(s.Motion.Roll, 3)
		row[17] = ftoa(s.Motion.Pitch, 3)
		row[18] = ftoa(s.Motion.Yaw, 3)

	default:
		return nil, fmt.Errorf("sample from '%s' carries no payload", s.Source)
	}

	return row, nil
}

func ftoa(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}
