// Package units converts between human readable sizes and comparable numbers.
//
// Sizes coming out of df are binary (1024 based) while rsync reports decimal
// magnitudes. Everything is normalised to binary suffixes (K, M, G, T) before
// two sizes are compared.
package units

import (
	"math"
	"strconv"
	"strings"
)

const (
	ratioT = 0.909
	ratioG = 0.931
	ratioM = 0.953
	ratioK = 0.977
)

// FormatKiB renders a KiB count with the largest unit whose value exceeds one.
func FormatKiB(kib int64) string {
	m := float64(kib) / 1024
	g := m / 1024
	t := g / 1024

	switch {
	case t > 1:
		return formatFloat(round2(t)) + "T"
	case g > 1:
		return formatFloat(round2(g)) + "G"
	case m > 1:
		return formatFloat(round2(m)) + "M"
	default:
		return strconv.FormatInt(kib, 10) + "K"
	}
}

// DecimalToBinary rewrites a decimal sized value such as "100M" into its
// approximate binary equivalent ("95.3M"). Input without a recognised unit,
// or with an unparsable number, is returned unchanged.
func DecimalToBinary(size string) string {
	unit, ratio := "", 0.0
	upper := strings.ToUpper(size)

	switch {
	case strings.Contains(upper, "T"):
		unit, ratio = "T", ratioT
	case strings.Contains(upper, "G"):
		unit, ratio = "G", ratioG
	case strings.Contains(upper, "M"):
		unit, ratio = "M", ratioM
	case strings.Contains(upper, "K"):
		unit, ratio = "K", ratioK
	default:
		return size
	}

	v, err := strconv.ParseFloat(size[:len(size)-1], 64)
	if err != nil {
		return size
	}

	return formatFloat(round2(v*ratio)) + unit
}

// ToMB parses a binary sized value (or a bare byte count) into megabytes.
// Empty or malformed input yields 0.
func ToMB(size string) float64 {
	if size == "" {
		return 0
	}

	upper := strings.ToUpper(size)
	num := size[:len(size)-1]

	var (
		v   float64
		err error
	)
	switch {
	case strings.Contains(upper, "T"):
		v, err = strconv.ParseFloat(num, 64)
		v *= 1024 * 1024
	case strings.Contains(upper, "G"):
		v, err = strconv.ParseFloat(num, 64)
		v *= 1024
	case strings.Contains(upper, "M"):
		v, err = strconv.ParseFloat(num, 64)
	case strings.Contains(upper, "K"):
		v, err = strconv.ParseFloat(num, 64)
		v /= 1024
	default:
		v, err = strconv.ParseFloat(size, 64)
		v /= 1024 * 1024
	}
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}

	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
