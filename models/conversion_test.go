package models

import (
	"errors"
	"math"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParams_OverlaysPresentFields(t *testing.T) {
	form := url.Values{}
	form.Set(FieldMode, "Drawing")
	form.Set(FieldSpeed, "1200.5")
	form.Set(FieldPassDepth, "")

	p, err := ParseParams(form, DefaultParams())
	require.NoError(t, err)

	assert.Equal(t, ModeDrawing, p.Mode)
	assert.Equal(t, 1200.5, p.Speed)
	assert.Equal(t, 1000, p.LaserPower)
	assert.Equal(t, 5, p.PassDepth)
}

func TestParseParams_RejectsBadValues(t *testing.T) {
	cases := map[string]url.Values{
		"mode":       {FieldMode: {"milling"}},
		"speed":      {FieldSpeed: {"fast"}},
		"negative":   {FieldLaserPower: {"-1"}},
		"fractional": {FieldPassDepth: {"2.5"}},
		"nan speed":  {FieldSpeed: {"NaN"}},
		"inf speed":  {FieldSpeed: {"+Inf"}},
	}

	for name, form := range cases {
		t.Run(name, func(t *testing.T) {
			p, err := ParseParams(form, DefaultParams())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidParams))
			assert.Equal(t, DefaultParams(), p)
		})
	}
}

func TestParams_Validate(t *testing.T) {
	assert.NoError(t, DefaultParams().Validate())

	bad := map[string]func(*Params){
		"mode":        func(p *Params) { p.Mode = "milling" },
		"laser power": func(p *Params) { p.LaserPower = -5 },
		"nan speed":   func(p *Params) { p.Speed = math.NaN() },
		"inf speed":   func(p *Params) { p.Speed = math.Inf(1) },
		"pass depth":  func(p *Params) { p.PassDepth = -1 },
	}
	for name, mutate := range bad {
		t.Run(name, func(t *testing.T) {
			p := DefaultParams()
			mutate(&p)
			assert.ErrorIs(t, p.Validate(), ErrInvalidParams)
		})
	}
}

func TestParams_FormValues(t *testing.T) {
	p := DefaultParams()
	p.Speed = 750.25

	v := p.FormValues()
	assert.Equal(t, "drilling", v[FieldMode])
	assert.Equal(t, "1000", v[FieldLaserPower])
	assert.Equal(t, "750.25", v[FieldSpeed])
	assert.Equal(t, "5", v[FieldPassDepth])
}
