package models

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// Mode selects how the backend turns an SVG into machine code.
type Mode string

const (
	// ModeDrilling emits one G-code program for the whole drawing.
	ModeDrilling Mode = "drilling"
	// ModeDrawing splits paths into colour layers first.
	ModeDrawing Mode = "drawing"
)

// Form field names shared by the converter page and the backend.
const (
	FieldFile       = "svg_file"
	FieldMode       = "mode"
	FieldLaserPower = "laser_power"
	FieldSpeed      = "speed"
	FieldPassDepth  = "pass_depth"
)

var ErrInvalidParams = errors.New("invalid conversion parameters")

// Params are the user-editable conversion settings.
type Params struct {
	Mode       Mode    `json:"mode"`
	LaserPower int     `json:"laser_power"`
	Speed      float64 `json:"speed"`
	PassDepth  int     `json:"pass_depth"`
}

func DefaultParams() Params {
	return Params{
		Mode:       ModeDrilling,
		LaserPower: 1000,
		Speed:      900,
		PassDepth:  5,
	}
}

func (m Mode) Valid() bool {
	return m == ModeDrilling || m == ModeDrawing
}

// Label is the human-facing name of the mode.
func (m Mode) Label() string {
	switch m {
	case ModeDrawing:
		return "Drawing"
	default:
		return "Drilling/Engraving"
	}
}

// Validate rejects settings the backend cannot be sent.
func (p Params) Validate() error {
	switch {
	case !p.Mode.Valid():
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidParams, p.Mode)
	case p.LaserPower < 0:
		return fmt.Errorf("%w: laser power %d", ErrInvalidParams, p.LaserPower)
	case !validSpeed(p.Speed):
		return fmt.Errorf("%w: speed %v", ErrInvalidParams, p.Speed)
	case p.PassDepth < 0:
		return fmt.Errorf("%w: pass depth %d", ErrInvalidParams, p.PassDepth)
	}
	return nil
}

func validSpeed(f float64) bool {
	return f >= 0 && !math.IsInf(f, 0)
}

// ParseParams overlays the values present in form onto base. Absent or
// empty fields keep the base value.
func ParseParams(form url.Values, base Params) (Params, error) {
	p := base

	if v := strings.TrimSpace(form.Get(FieldMode)); v != "" {
		m := Mode(strings.ToLower(v))
		if !m.Valid() {
			return base, fmt.Errorf("%w: unknown mode %q", ErrInvalidParams, v)
		}
		p.Mode = m
	}

	if v := strings.TrimSpace(form.Get(FieldLaserPower)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return base, fmt.Errorf("%w: laser power %q", ErrInvalidParams, v)
		}
		p.LaserPower = n
	}

	if v := strings.TrimSpace(form.Get(FieldSpeed)); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || !validSpeed(f) {
			return base, fmt.Errorf("%w: speed %q", ErrInvalidParams, v)
		}
		p.Speed = f
	}

	if v := strings.TrimSpace(form.Get(FieldPassDepth)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return base, fmt.Errorf("%w: pass depth %q", ErrInvalidParams, v)
		}
		p.PassDepth = n
	}

	return p, nil
}

// FormValues renders p the way the backend expects it: every value as text.
func (p Params) FormValues() map[string]string {
	return map[string]string{
		FieldMode:       string(p.Mode),
		FieldLaserPower: strconv.Itoa(p.LaserPower),
		FieldSpeed:      strconv.FormatFloat(p.Speed, 'f', -1, 64),
		FieldPassDepth:  strconv.Itoa(p.PassDepth),
	}
}

// ConversionRequest is built fresh from the form on every submission.
type ConversionRequest struct {
	Filename string
	File     []byte
	Params   Params
}

// ConversionResult is what the backend answered for one submission.
type ConversionResult struct {
	Success        bool     `json:"success"`
	DownloadURL    string   `json:"download_url,omitempty"`
	ProcessingTime *float64 `json:"processing_time,omitempty"`
	Message        string   `json:"message,omitempty"`
}
