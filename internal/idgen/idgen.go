// Package idgen produces the string identifiers used for sessions and issues:
// the base-36 capture time in milliseconds followed by the base-36 digits of a
// random fraction. Identifiers sort roughly by creation time and collide only
// with negligible probability; they are not suitable as secrets.
package idgen

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

const (
	digits36 = "0123456789abcdefghijklmnopqrstuvwxyz"
	// fractionDigits is how many base-36 digits of the random fraction are
	// kept; 11 digits use up the 53-bit float64 mantissa.
	fractionDigits = 11
)

// Generator is safe for concurrent use as long as its sources are.
type Generator struct {
	now    func() time.Time
	random func() float64
}

// New returns a Generator backed by the wall clock and math/rand/v2.
func New() *Generator {
	return &Generator{now: time.Now, random: rand.Float64}
}

// NewWithSources returns a Generator with explicit clock and random sources.
// random must return values in [0, 1).
func NewWithSources(now func() time.Time, random func() float64) *Generator {
	return &Generator{now: now, random: random}
}

func (g *Generator) Generate() string {
	ms := g.now().UnixMilli()
	return strconv.FormatInt(ms, 36) + fraction36(g.random())
}

var std = New()

// Generate returns a new identifier from the package-level Generator.
func Generate() string {
	return std.Generate()
}

// fraction36 renders the digits after the radix point of f in base 36.
func fraction36(f float64) string {
	var b strings.Builder
	for i := 0; i < fractionDigits && f > 0; i++ {
		f *= 36
		d := int(f)
		b.WriteByte(digits36[d])
		f -= float64(d)
	}
	if b.Len() == 0 {
		return "0"
	}
	return b.String()
}
