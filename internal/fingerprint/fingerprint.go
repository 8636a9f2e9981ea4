// Package fingerprint derives a stable device hash from environment signals
// and seeds visitor ids from it.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roniherschmann/go-pollguard/internal/shortid"
)

const (
	noWebGL  = "no-webgl"
	noCanvas = "no-canvas"
	noAudio  = "no-audio"

	delimiter   = "|"
	canvasBytes = 50
)

// Signals is a snapshot of the environment. The probe functions stand in
// for rendering-based signals; a nil probe, an error or a panic yields that
// signal's sentinel instead of failing.
type Signals struct {
	ScreenWidth, ScreenHeight, ColorDepth int
	AvailWidth, AvailHeight               int
	TimeZone                              string
	TimezoneOffset                        int // minutes, sign as reported by the platform
	Language                              string
	Languages                             []string
	Platform                              string
	HardwareConcurrency                   int
	MaxTouchPoints                        int

	WebGL  func() (vendor, renderer string, err error)
	Canvas func() (string, error)
	Audio  func() (sampleRate float64, err error)
}

// ScreenRes is the "WxH" form sent alongside votes, or empty when the
// geometry is unknown.
func (s Signals) ScreenRes() string {
	if s.ScreenWidth <= 0 || s.ScreenHeight <= 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", s.ScreenWidth, s.ScreenHeight)
}

// Components lists the signal strings in their fixed order.
func (s Signals) Components() []string {
	c := []string{
		fmt.Sprintf("%dx%dx%d", s.ScreenWidth, s.ScreenHeight, s.ColorDepth),
		fmt.Sprintf("%dx%d", s.AvailWidth, s.AvailHeight),
		s.TimeZone,
		strconv.Itoa(s.TimezoneOffset),
		s.Language,
		strings.Join(s.Languages, ","),
		s.Platform,
		strconv.Itoa(s.HardwareConcurrency),
		strconv.Itoa(s.MaxTouchPoints),
	}
	c = append(c, s.webgl()...)
	c = append(c, s.canvas(), s.audio())
	return c
}

func (s Signals) webgl() (out []string) {
	defer func() {
		if recover() != nil {
			out = []string{noWebGL}
		}
	}()
	if s.WebGL == nil {
		return []string{noWebGL}
	}
	vendor, renderer, err := s.WebGL()
	if err != nil {
		return []string{noWebGL}
	}
	return []string{vendor, renderer}
}

func (s Signals) canvas() (out string) {
	defer func() {
		if recover() != nil {
			out = noCanvas
		}
	}()
	if s.Canvas == nil {
		return noCanvas
	}
	data, err := s.Canvas()
	if err != nil {
		return noCanvas
	}
	if len(data) > canvasBytes {
		data = data[len(data)-canvasBytes:]
	}
	return data
}

func (s Signals) audio() (out string) {
	defer func() {
		if recover() != nil {
			out = noAudio
		}
	}()
	if s.Audio == nil {
		return noAudio
	}
	rate, err := s.Audio()
	if err != nil {
		return noAudio
	}
	return strconv.FormatFloat(rate, 'f', -1, 64)
}

// Generate returns the SHA-256 hex digest of the joined components. It is
// deterministic for identical signals and never fails.
func Generate(s Signals) string {
	sum := sha256.Sum256([]byte(strings.Join(s.Components(), delimiter)))
	return hex.EncodeToString(sum[:])
}

// NewVisitorID seeds a visitor id from a fingerprint, the current time and
// a random suffix: "<fp[:16]>-<base36 millis>-<8 random>".
func NewVisitorID(fp string, now time.Time) string {
	if len(fp) > 16 {
		fp = fp[:16]
	}
	return fp + "-" + shortid.Timestamp(now) + "-" + shortid.Generate(8)
}
