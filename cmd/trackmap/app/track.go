package app

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/roman-kulish/vehicle-tracklog/internal/recorder"
)

const earthRadius = 6371000.0 // metres

// TrackPoint is one GPS record lifted off a record file
type TrackPoint struct {
	Time  time.Time
	Lat   float64
	Lon   float64
	Speed float64 // m/s
}

// Track is the GPS trace of one record file
type Track struct {
	Points []TrackPoint

	MinLat, MaxLat float64
	MinLon, MaxLon float64
	MaxSpeed       float64
}

// Start returns the timestamp of the first point
func (t *Track) Start() time.Time { return t.Points[0].Time }

// End returns the timestamp of the last point
func (t *Track) End() time.Time { return t.Points[len(t.Points)-1].Time }

// Distance returns the length of the trace in metres, summed great-circle
// leg by leg.
func (t *Track) Distance() float64 {
	var total float64
	for i := 1; i < len(t.Points); i++ {
		total += haversine(t.Points[i-1], t.Points[i])
	}
	return total
}

// ReadTrack reads GPS records from a record file, plain or archived
// (.csv.gz container). Rows without a position solution and IMU rows are
// skipped; record files are self-describing, so columns are resolved from
// the header.
func ReadTrack(path string) (*Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening record file: %w", err)
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("opening archive container: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading record header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, name := range []string{"timestamp", "source", "lat", "lon", "speed", "fix_quality"} {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("record file has no '%s' column", name)
		}
	}

	track := Track{
		MinLat: math.MaxFloat64, MaxLat: -math.MaxFloat64,
		MinLon: math.MaxFloat64, MaxLon: -math.MaxFloat64,
	}

	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading record: %w", err)
		}

		if row[col["source"]] != "gps" || row[col["fix_quality"]] == "none" {
			continue
		}

		ts, err := time.Parse(recorder.TimestampLayout, row[col["timestamp"]])
		if err != nil {
			return nil, fmt.Errorf("invalid record timestamp: %w", err)
		}

		var p TrackPoint
		p.Time = ts
		if p.Lat, err = strconv.ParseFloat(row[col["lat"]], 64); err != nil {
			return nil, fmt.Errorf("invalid latitude: %w", err)
		}
		if p.Lon, err = strconv.ParseFloat(row[col["lon"]], 64); err != nil {
			return nil, fmt.Errorf("invalid longitude: %w", err)
		}
		if p.Speed, err = strconv.ParseFloat(row[col["speed"]], 64); err != nil {
			return nil, fmt.Errorf("invalid speed: %w", err)
		}

		track.Points = append(track.Points, p)
		track.MinLat = math.Min(track.MinLat, p.Lat)
		track.MaxLat = math.Max(track.MaxLat, p.Lat)
		track.MinLon = math.Min(track.MinLon, p.Lon)
		track.MaxLon = math.Max(track.MaxLon, p.Lon)
		track.MaxSpeed = math.Max(track.MaxSpeed, p.Speed)
	}

	if len(track.Points) == 0 {
		return nil, fmt.Errorf("record file contains no usable GPS records")
	}

	return &track, nil
}

func haversine(a, b TrackPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * earthRadius * math.Asin(math.Sqrt(h))
}
