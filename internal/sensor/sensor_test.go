package sensor

import "testing"

func TestFixQuality_Ordering(t *testing.T) {
	// anchor thresholds rely on the ordering
	if !(FixNone < Fix2D && Fix2D < Fix3D) {
		t.Error("Fix qualities must be ordered none < 2d < 3d")
	}
}

func TestParseFixQuality(t *testing.T) {
	testCases := []struct {
		in      string
		want    FixQuality
		wantErr bool
	}{
		{"none", FixNone, false},
		{"2d", Fix2D, false},
		{"3d", Fix3D, false},
		{"", FixNone, true},
		{"best", FixNone, true},
		{"3D", FixNone, true},
	}

	for _, tc := range testCases {
		got, err := ParseFixQuality(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseFixQuality(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseFixQuality(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseFixQuality(%q): expected %v, got %v", tc.in, tc.want, got)
		}
		if got.String() != tc.in {
			t.Errorf("String round-trip for %q: got %q", tc.in, got.String())
		}
	}
}
