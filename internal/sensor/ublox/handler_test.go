package ublox

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/roman-kulish/vehicle-tracklog/internal/sensor"
)

// sentence frames a body with '$', '*' and a computed XOR checksum
func sentence(body string) string {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return fmt.Sprintf("$%s*%02X", body, sum)
}

func almostEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

// parseAll feeds lines through the handler and collects the yielded samples
func parseAll(t *testing.T, h *handler, lines []string) []sensor.Sample {
	t.Helper()

	var samples []sensor.Sample
	for i, line := range lines {
		smp, ok, err := h.Parse(line)
		if err != nil {
			t.Fatalf("Failed to parse sentence %d: %v", i, err)
		}
		if ok {
			samples = append(samples, smp)
		}
	}
	return samples
}

func TestHandler_ParseEpoch(t *testing.T) {
	h := &handler{}

	samples := parseAll(t, h, []string{
		sentence("GPGSA,A,3,04,05,,09,12,,,24,,,,,2.5,1.3,2.1"),
		sentence("GPGST,092204.00,1.8,,,,0.02,0.01,0.03"),
		sentence("GPRMC,092204,A,4250.5589,S,14718.5084,E,10.500,89.19,211224,,,A"),
	})

	// only RMC closes the epoch and yields
	if len(samples) != 1 {
		t.Fatalf("Expected 1 sample, got %d", len(samples))
	}

	smp := samples[0]
	if smp.Source != sensor.SourceGPS {
		t.Errorf("Expected source gps, got %s", smp.Source)
	}
	if smp.Fix == nil {
		t.Fatal("Expected a position fix payload")
	}
	if smp.Motion != nil {
		t.Error("GPS sample must not carry a motion payload")
	}

	want := time.Date(2024, time.December, 21, 9, 22, 4, 0, time.UTC)
	if !smp.Time.Equal(want) {
		t.Errorf("Expected timestamp %s, got %s", want, smp.Time)
	}

	if smp.Fix.Quality != sensor.Fix3D {
		t.Errorf("Expected 3d fix, got %s", smp.Fix.Quality)
	}
	if !almostEqual(smp.Fix.HDOP, 1.3, 1e-9) {
		t.Errorf("Expected HDOP 1.3, got %f", smp.Fix.HDOP)
	}
	if !almostEqual(smp.Fix.VDOP, 2.1, 1e-9) {
		t.Errorf("Expected VDOP 2.1, got %f", smp.Fix.VDOP)
	}
	if !almostEqual(smp.Fix.EPE, math.Hypot(0.02, 0.01), 1e-9) {
		t.Errorf("Expected EPE %f, got %f", math.Hypot(0.02, 0.01), smp.Fix.EPE)
	}

	// 4250.5589 S -> -(42 + 50.5589/60), 14718.5084 E -> 147 + 18.5084/60
	if !almostEqual(smp.Fix.Lat, -(42 + 50.5589/60), 1e-7) {
		t.Errorf("Expected latitude %f, got %f", -(42 + 50.5589/60), smp.Fix.Lat)
	}
	if !almostEqual(smp.Fix.Lon, 147+18.5084/60, 1e-7) {
		t.Errorf("Expected longitude %f, got %f", 147+18.5084/60, smp.Fix.Lon)
	}

	if !almostEqual(smp.Fix.Speed, 10.5*0.514444, 1e-9) {
		t.Errorf("Expected speed %f m/s, got %f", 10.5*0.514444, smp.Fix.Speed)
	}
	if !almostEqual(smp.Fix.Heading, 89.19, 1e-9) {
		t.Errorf("Expected heading 89.19, got %f", smp.Fix.Heading)
	}
}

func TestHandler_ParseVoidFix(t *testing.T) {
	h := &handler{}

	// "V" status: receiver alive but no solution yet
	smp, ok, err := h.Parse(sentence("GPRMC,092204,V,,,,,,,211224,,,N"))
	if err != nil {
		t.Fatalf("Failed to parse void RMC: %v", err)
	}
	if !ok {
		t.Fatal("Expected a sample from a void RMC")
	}

	if smp.Fix == nil {
		t.Fatal("Expected a position fix payload")
	}
	if smp.Fix.Quality != sensor.FixNone {
		t.Errorf("Expected fix quality none, got %s", smp.Fix.Quality)
	}
	if smp.Time.IsZero() {
		t.Error("Void fix should still carry the receiver time")
	}
}

func TestHandler_ParseVoidFixResetsQuality(t *testing.T) {
	h := &handler{}

	// a 3D epoch followed by a void one must not report 3D
	samples := parseAll(t, h, []string{
		sentence("GPGSA,A,3,04,05,,09,12,,,24,,,,,2.5,1.3,2.1"),
		sentence("GPRMC,092204,A,4250.5589,S,14718.5084,E,0.000,0.00,211224,,,A"),
		sentence("GPRMC,092205,V,,,,,,,211224,,,N"),
	})

	if len(samples) != 2 {
		t.Fatalf("Expected 2 samples, got %d", len(samples))
	}
	if samples[1].Fix.Quality != sensor.FixNone {
		t.Errorf("Expected fix quality none after void RMC, got %s", samples[1].Fix.Quality)
	}
}

func TestHandler_ParseIgnoresOtherSentences(t *testing.T) {
	h := &handler{}

	lines := []string{
		sentence("GPGGA,092204,4250.5589,S,14718.5084,E,1,08,1.3,12.0,M,,,,"),
		sentence("GPVTG,89.19,T,,M,10.5,N,19.4,K,A"),
	}
	for i, line := range lines {
		_, ok, err := h.Parse(line)
		if err != nil {
			t.Errorf("Sentence %d should be ignored, got error: %v", i, err)
		}
		if ok {
			t.Errorf("Sentence %d should not yield a sample", i)
		}
	}
}

func TestHandler_ParseErrors(t *testing.T) {
	testCases := []struct {
		name string
		line string
	}{
		{"missing dollar", "GPRMC,092204,A,4250.5589,S,14718.5084,E,0.004,89.19,211224,,,A*4F"},
		{"missing checksum", "$GPRMC,092204,A,4250.5589,S,14718.5084,E,0.004,89.19,211224,,,A"},
		// sentence bytes are ASCII, so the XOR sum can never be 0xFF
		{"checksum mismatch", "$GPRMC,092204,A,4250.5589,S,14718.5084,E,0.004,89.19,211224,,,A*FF"},
		{"short GSA", sentence("GPGSA,A,3")},
		{"short GST", sentence("GPGST,092204.00")},
		{"short RMC", sentence("GPRMC,092204,A")},
		{"bad sentence type", sentence("JUNK,1,2,3")},
		{"bad date", sentence("GPRMC,092204,A,4250.5589,S,14718.5084,E,0.004,89.19,99,,,A")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := &handler{}
			_, ok, err := h.Parse(tc.line)
			if err == nil {
				t.Error("Expected a parse error")
			}
			if ok {
				t.Error("A failed parse must not yield a sample")
			}
		})
	}
}

func TestParseLatLon(t *testing.T) {
	testCases := []struct {
		value, hemi string
		want        float64
		wantErr     bool
	}{
		{"4250.5589", "N", 42 + 50.5589/60, false},
		{"4250.5589", "S", -(42 + 50.5589/60), false},
		{"14718.5084", "E", 147 + 18.5084/60, false},
		{"14718.5084", "W", -(147 + 18.5084/60), false},
		{"", "", 0, false},
		{"50.5589", "N", 0, true}, // no degree digits before minutes
		{"4250.5589", "Q", 0, true},
	}

	for _, tc := range testCases {
		got, err := parseLatLon(tc.value, tc.hemi)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseLatLon(%q, %q): expected error", tc.value, tc.hemi)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseLatLon(%q, %q): %v", tc.value, tc.hemi, err)
			continue
		}
		if !almostEqual(got, tc.want, 1e-9) {
			t.Errorf("parseLatLon(%q, %q): expected %f, got %f", tc.value, tc.hemi, tc.want, got)
		}
	}
}

func TestParseDateTime(t *testing.T) {
	ts, err := parseDateTime("211224", "092204.500")
	if err != nil {
		t.Fatalf("Failed to parse date/time: %v", err)
	}

	want := time.Date(2024, time.December, 21, 9, 22, 4, 0, time.UTC)
	if ts.Sub(want) < 0 || ts.Sub(want) > time.Second {
		t.Errorf("Expected timestamp near %s, got %s", want, ts)
	}
	if ts.Nanosecond() == 0 {
		t.Error("Expected sub-second precision to survive")
	}
}
