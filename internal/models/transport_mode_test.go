package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmissionFactorTableCoversEveryMode(t *testing.T) {
	table := EmissionFactorTable{
		Walking: 1, Bicycle: 2, Motorcycle: 3, Car: 4, Bus: 5, Rail: 6, Unknown: 7,
	}
	seen := map[float64]TransportMode{}
	for _, m := range AllModes {
		f := table.Factor(m)
		if prev, ok := seen[f]; ok {
			t.Fatalf("modes %s and %s share factor field", prev, m)
		}
		seen[f] = m
	}
	assert.Equal(t, 7.0, table.Factor("hovercraft"))
}

func TestDefaultUnknownFactorIsNonZero(t *testing.T) {
	assert.Greater(t, DefaultEmissionFactors.Unknown, 0.0)
	assert.Zero(t, DefaultEmissionFactors.Walking)
}

func TestParseTransportMode(t *testing.T) {
	cases := map[string]TransportMode{
		"WALK":    ModeWalking,
		" bike ":  ModeBicycle,
		"subway":  ModeRail,
		"driving": ModeCar,
		"bus":     ModeBus,
	}
	for in, want := range cases {
		got, ok := ParseTransportMode(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseTransportMode("teleport")
	assert.False(t, ok)
}
