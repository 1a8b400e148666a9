package app

import (
	"image"
	"image/color"
	"image/draw"
	"math"
)

const (
	// Default border sizes in pixels
	defaultTopBorder    = 40
	defaultLeftBorder   = 40
	defaultBottomBorder = 120 // Space for the information block
	defaultRightBorder  = 40

	markerRadius = 5
)

var (
	backgroundColor = color.White
	startColor      = color.RGBA{G: 0x99, A: 0xff}
	endColor        = color.RGBA{R: 0xcc, A: 0xff}
)

// BorderConfig defines the sizes of white space around the track area
type BorderConfig struct {
	Top    int
	Left   int
	Bottom int
	Right  int
}

// RenderConfig holds the track visualization options
type RenderConfig struct {
	Width   int // Track area width in pixels
	Height  int // Track area height in pixels
	Borders BorderConfig
}

// TrackRenderer draws a GPS trace as a speed-coloured polyline
type TrackRenderer struct {
	config RenderConfig
}

// NewTrackRenderer creates a track renderer with the given configuration
func NewTrackRenderer(config RenderConfig) *TrackRenderer {
	// Set defaults for zero values
	if config.Borders.Top == 0 {
		config.Borders.Top = defaultTopBorder
	}
	if config.Borders.Left == 0 {
		config.Borders.Left = defaultLeftBorder
	}
	if config.Borders.Bottom == 0 {
		config.Borders.Bottom = defaultBottomBorder
	}
	if config.Borders.Right == 0 {
		config.Borders.Right = defaultRightBorder
	}

	return &TrackRenderer{config: config}
}

// Render creates an image of the track. Legs are coloured by speed, cold
// blue at standstill through red at the track's maximum.
func (r *TrackRenderer) Render(track *Track) *image.RGBA {
	fullWidth := r.config.Width + r.config.Borders.Left + r.config.Borders.Right
	fullHeight := r.config.Height + r.config.Borders.Top + r.config.Borders.Bottom
	img := image.NewRGBA(image.Rect(0, 0, fullWidth, fullHeight))

	draw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, draw.Src)

	area := image.Rect(
		r.config.Borders.Left,
		r.config.Borders.Top,
		r.config.Borders.Left+r.config.Width,
		r.config.Borders.Top+r.config.Height,
	)

	proj := newProjection(track, area)

	prev := proj.Point(track.Points[0])
	for i := 1; i < len(track.Points); i++ {
		cur := proj.Point(track.Points[i])
		drawLine(img, prev, cur, speedColor(track.Points[i].Speed, track.MaxSpeed))
		prev = cur
	}

	drawMarker(img, proj.Point(track.Points[0]), startColor)
	drawMarker(img, proj.Point(track.Points[len(track.Points)-1]), endColor)

	return img
}

// projection maps geographic coordinates onto the track area. Equirectangular
// with the longitude axis scaled by cos(mid-latitude), fitted to the area
// while preserving aspect, north up.
type projection struct {
	minLat, minLon float64
	lonScale       float64
	scale          float64 // pixels per degree of latitude
	offset         image.Point
}

func newProjection(track *Track, area image.Rectangle) *projection {
	p := projection{
		minLat:   track.MinLat,
		minLon:   track.MinLon,
		lonScale: math.Cos((track.MinLat + track.MaxLat) / 2 * math.Pi / 180),
	}

	spanLat := track.MaxLat - track.MinLat
	spanLon := (track.MaxLon - track.MinLon) * p.lonScale

	// a stationary or single-point track still needs a finite extent
	const minSpan = 1e-5
	spanLat = math.Max(spanLat, minSpan)
	spanLon = math.Max(spanLon, minSpan)

	p.scale = math.Min(float64(area.Dx())/spanLon, float64(area.Dy())/spanLat)

	// center the fitted track within the area
	p.offset = image.Point{
		X: area.Min.X + (area.Dx()-int(spanLon*p.scale))/2,
		Y: area.Min.Y + (area.Dy()-int(spanLat*p.scale))/2,
	}
	p.offset.Y += int(spanLat * p.scale) // flip: north up, image Y grows down

	return &p
}

func (p *projection) Point(tp TrackPoint) image.Point {
	x := (tp.Lon - p.minLon) * p.lonScale * p.scale
	y := (tp.Lat - p.minLat) * p.scale

	return image.Point{
		X: p.offset.X + int(math.Round(x)),
		Y: p.offset.Y - int(math.Round(y)),
	}
}

// speedColor maps a speed to a hue sweep from blue (standstill) to red
// (maximum observed speed)
func speedColor(speed, maxSpeed float64) color.Color {
	if maxSpeed <= 0 {
		return HSV{H: 240, S: 1, V: 0.9}.RGB()
	}

	normalized := math.Max(0, math.Min(speed/maxSpeed, 1))
	return HSV{H: 240 * (1 - normalized), S: 1, V: 0.9}.RGB()
}

// HSV represents a color in HSV color space
type HSV struct {
	H float64 // Hue [0-360]
	S float64 // Saturation [0-1]
	V float64 // Value [0-1]
}

// RGB converts HSV color space to RGB
// H: [0-360], S: [0-1], V: [0-1]
func (hsv HSV) RGB() color.Color {
	h := hsv.H
	s := hsv.S
	v := hsv.V

	// Handle edge cases
	if s <= 0.0 {
		rgb := uint8(v * 255)
		return color.RGBA{R: rgb, G: rgb, B: rgb, A: 0xff}
	}

	// Normalize hue to [0-6]
	h = math.Mod(h, 360) / 60
	i := math.Floor(h)
	f := h - i

	p := v * (1 - s)
	q := v * (1 - s*f)
	t := v * (1 - s*(1-f))

	var r, g, b float64
	switch int(i) {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}

	return color.RGBA{
		R: uint8(r * 255),
		G: uint8(g * 255),
		B: uint8(b * 255),
		A: 0xff,
	}
}

// drawLine draws a 1px line between two points (Bresenham)
func drawLine(img *image.RGBA, a, b image.Point, c color.Color) {
	dx := abs(b.X - a.X)
	dy := -abs(b.Y - a.Y)

	sx := 1
	if a.X > b.X {
		sx = -1
	}
	sy := 1
	if a.Y > b.Y {
		sy = -1
	}

	err := dx + dy
	x, y := a.X, a.Y
	for {
		img.Set(x, y, c)
		if x == b.X && y == b.Y {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

// drawMarker draws a filled disc centered on a point
func drawMarker(img *image.RGBA, at image.Point, c color.Color) {
	for dy := -markerRadius; dy <= markerRadius; dy++ {
		for dx := -markerRadius; dx <= markerRadius; dx++ {
			if dx*dx+dy*dy <= markerRadius*markerRadius {
				img.Set(at.X+dx, at.Y+dy, c)
			}
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
