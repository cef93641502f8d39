// Package testsrc contains synthetic media generators: video test patterns,
// a pure Go H264 encoder and an audio test tone.
package testsrc

import (
	"fmt"
	"image"
	"image/color"
	"math/rand"
	"strconv"
)

// Pattern is a video test pattern.
type Pattern int

// patterns.
const (
	PatternSMPTE Pattern = iota
	PatternSnow
	PatternBlack
	PatternWhite
	PatternRed
	PatternGreen
	PatternBlue
	PatternCheckers8
	PatternBall
)

var patternNames = map[Pattern]string{
	PatternSMPTE:     "smpte",
	PatternSnow:      "snow",
	PatternBlack:     "black",
	PatternWhite:     "white",
	PatternRed:       "red",
	PatternGreen:     "green",
	PatternBlue:      "blue",
	PatternCheckers8: "checkers-8",
	PatternBall:      "ball",
}

// numeric identifiers accepted by the pattern property of videotestsrc.
var patternNumbers = map[int]Pattern{
	0:  PatternSMPTE,
	1:  PatternSnow,
	2:  PatternBlack,
	3:  PatternWhite,
	4:  PatternRed,
	5:  PatternGreen,
	6:  PatternBlue,
	10: PatternCheckers8,
	18: PatternBall,
}

// ParsePattern parses a pattern from its name or its numeric identifier.
func ParsePattern(s string) (Pattern, error) {
	for p, name := range patternNames {
		if name == s {
			return p, nil
		}
	}

	if n, err := strconv.Atoi(s); err == nil {
		if p, ok := patternNumbers[n]; ok {
			return p, nil
		}
	}

	return 0, fmt.Errorf("unsupported pattern '%s'", s)
}

// String implements fmt.Stringer.
func (p Pattern) String() string {
	if name, ok := patternNames[p]; ok {
		return name
	}
	return "unknown"
}

type yuv struct {
	y, cb, cr uint8
}

func rgb(r, g, b uint8) yuv {
	y, cb, cr := color.RGBToYCbCr(r, g, b)
	return yuv{y, cb, cr}
}

var (
	colorWhite = rgb(255, 255, 255)
	colorBlack = rgb(0, 0, 0)

	smpteBars = []yuv{
		rgb(191, 191, 191),
		rgb(191, 191, 0),
		rgb(0, 191, 191),
		rgb(0, 191, 0),
		rgb(191, 0, 191),
		rgb(191, 0, 0),
		rgb(0, 0, 191),
	}

	smpteCastellations = []yuv{
		rgb(0, 0, 191),
		rgb(19, 19, 19),
		rgb(191, 0, 191),
		rgb(19, 19, 19),
		rgb(0, 191, 191),
		rgb(19, 19, 19),
		rgb(191, 191, 191),
	}

	smpteMinusI = rgb(0, 33, 76)
	smptePlusQ  = rgb(50, 0, 106)
	smptePluge  = []yuv{
		rgb(9, 9, 9),
		rgb(19, 19, 19),
		rgb(29, 29, 29),
	}
)

func fillRect(img *image.YCbCr, r image.Rectangle, c yuv) {
	r = r.Intersect(img.Rect)

	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.Y[img.YOffset(x, y)] = c.y
		}
	}

	// 4:2:0, one chroma sample every 2x2 block
	for y := r.Min.Y &^ 1; y < r.Max.Y; y += 2 {
		for x := r.Min.X &^ 1; x < r.Max.X; x += 2 {
			off := img.COffset(x, y)
			img.Cb[off] = c.cb
			img.Cr[off] = c.cr
		}
	}
}

// VideoSource generates frames of a test pattern.
type VideoSource struct {
	Pattern Pattern
	Width   int
	Height  int

	frame uint64
	rnd   *rand.Rand
}

// Initialize initializes a VideoSource.
func (s *VideoSource) Initialize() error {
	if s.Width <= 0 || s.Height <= 0 || (s.Width%2) != 0 || (s.Height%2) != 0 {
		return fmt.Errorf("invalid size %dx%d, width and height must be positive and even", s.Width, s.Height)
	}

	if _, ok := patternNames[s.Pattern]; !ok {
		return fmt.Errorf("invalid pattern %d", s.Pattern)
	}

	s.rnd = rand.New(rand.NewSource(1))
	return nil
}

// Next returns the next frame.
func (s *VideoSource) Next() *image.YCbCr {
	img := image.NewYCbCr(image.Rect(0, 0, s.Width, s.Height), image.YCbCrSubsampleRatio420)

	switch s.Pattern {
	case PatternSMPTE:
		s.drawSMPTE(img)

	case PatternSnow:
		s.drawSnow(img)

	case PatternBlack:
		fillRect(img, img.Rect, colorBlack)

	case PatternWhite:
		fillRect(img, img.Rect, colorWhite)

	case PatternRed:
		fillRect(img, img.Rect, rgb(255, 0, 0))

	case PatternGreen:
		fillRect(img, img.Rect, rgb(0, 255, 0))

	case PatternBlue:
		fillRect(img, img.Rect, rgb(0, 0, 255))

	case PatternCheckers8:
		s.drawCheckers(img, 8)

	case PatternBall:
		s.drawBall(img)
	}

	s.drawMarker(img)
	s.frame++

	return img
}

func (s *VideoSource) drawSMPTE(img *image.YCbCr) {
	w, h := s.Width, s.Height
	y1 := h * 2 / 3
	y2 := h * 3 / 4

	for i, c := range smpteBars {
		fillRect(img, image.Rect(i*w/7, 0, (i+1)*w/7, y1), c)
	}

	for i, c := range smpteCastellations {
		fillRect(img, image.Rect(i*w/7, y1, (i+1)*w/7, y2), c)
	}

	fillRect(img, image.Rect(0, y2, w*5/28, h), smpteMinusI)
	fillRect(img, image.Rect(w*5/28, y2, w*10/28, h), colorWhite)
	fillRect(img, image.Rect(w*10/28, y2, w*15/28, h), smptePlusQ)
	fillRect(img, image.Rect(w*15/28, y2, w*5/7, h), colorBlack)

	for i, c := range smptePluge {
		fillRect(img, image.Rect(w*5/7+i*w/21, y2, w*5/7+(i+1)*w/21, h), c)
	}

	fillRect(img, image.Rect(w*6/7, y2, w, h), colorBlack)
}

func (s *VideoSource) drawSnow(img *image.YCbCr) {
	for i := range img.Y {
		img.Y[i] = uint8(s.rnd.Intn(256))
	}
	for i := range img.Cb {
		img.Cb[i] = 128
		img.Cr[i] = 128
	}
}

func (s *VideoSource) drawCheckers(img *image.YCbCr, size int) {
	for y := 0; y < s.Height; y += size {
		for x := 0; x < s.Width; x += size {
			c := colorBlack
			if ((x/size)+(y/size))%2 == 0 {
				c = colorWhite
			}
			fillRect(img, image.Rect(x, y, x+size, y+size), c)
		}
	}
}

// bounce maps a step counter to a position going back and forth in [0, max].
func bounce(step uint64, max int) int {
	if max <= 0 {
		return 0
	}
	p := int(step % uint64(2*max))
	if p > max {
		p = 2*max - p
	}
	return p
}

func (s *VideoSource) drawBall(img *image.YCbCr) {
	fillRect(img, img.Rect, colorBlack)

	r := s.Height / 10
	if r < 2 {
		r = 2
	}

	cx := r + bounce(s.frame*4, s.Width-2*r)
	cy := r + bounce(s.frame*3, s.Height-2*r)

	for y := cy - r; y < cy+r; y++ {
		for x := cx - r; x < cx+r; x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= r*r {
				fillRect(img, image.Rect(x, y, x+1, y+1), colorWhite)
			}
		}
	}
}

// drawMarker draws a square that moves along the bottom edge, so that consecutive frames differ.
func (s *VideoSource) drawMarker(img *image.YCbCr) {
	size := s.Height / 16
	if size < 2 {
		size = 2
	}
	size &^= 1

	x := bounce(s.frame*2, (s.Width-size)&^1)
	y := s.Height - size

	c := colorWhite
	if s.Pattern == PatternWhite {
		c = colorBlack
	}
	fillRect(img, image.Rect(x, y, x+size, y+size), c)
}
