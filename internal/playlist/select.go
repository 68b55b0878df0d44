package playlist

import (
	"sort"
	"strconv"
	"strings"
)

// Quality preferences understood by SelectVariant. Any other value is
// matched against each variant's "WxH" or "<height>p".
const (
	QualityBest  = "best"
	QualityWorst = "worst"
)

// SelectVariant picks one variant according to quality. For "best" it takes
// the greatest height, breaking ties by bandwidth; without any declared
// resolution it takes the greatest bandwidth, and without bandwidth either it
// takes the first variant. Equal variants resolve to the earliest declared.
// It reports false only when variants is empty.
func SelectVariant(variants []Variant, quality string) (Variant, bool) {
	if len(variants) == 0 {
		return Variant{}, false
	}
	ranked := rankVariants(variants)

	q := strings.ToLower(strings.TrimSpace(quality))
	switch q {
	case "", QualityBest:
		return ranked[0], true
	case QualityWorst:
		return worstOf(ranked), true
	}
	for _, v := range ranked {
		if v.matches(q) {
			return v, true
		}
	}
	return ranked[0], true
}

// rankVariants orders variants best first. Variants are only compared on the
// attributes at least one of them declares.
func rankVariants(variants []Variant) []Variant {
	byResolution, byBandwidth := false, false
	for _, v := range variants {
		byResolution = byResolution || v.HasResolution()
		byBandwidth = byBandwidth || v.Bandwidth > 0
	}

	ranked := make([]Variant, len(variants))
	copy(ranked, variants)
	if !byResolution && !byBandwidth {
		return ranked
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if byResolution && a.Height != b.Height {
			return a.Height > b.Height
		}
		return a.Bandwidth > b.Bandwidth
	})
	return ranked
}

// worstOf returns the last entry of a best-first ranking among variants that
// carry the ranking attribute, so undeclared variants are never "worst".
func worstOf(ranked []Variant) Variant {
	hasResolution := ranked[0].HasResolution()
	hasBandwidth := ranked[0].Bandwidth > 0
	for i := len(ranked) - 1; i >= 0; i-- {
		v := ranked[i]
		switch {
		case hasResolution && v.HasResolution():
			return v
		case !hasResolution && hasBandwidth && v.Bandwidth > 0:
			return v
		case !hasResolution && !hasBandwidth:
			return ranked[0]
		}
	}
	return ranked[0]
}

func (v Variant) matches(q string) bool {
	if !v.HasResolution() {
		return false
	}
	if strings.HasSuffix(q, "p") {
		return q == strconv.Itoa(v.Height)+"p"
	}
	return strings.Contains(v.Resolution(), q)
}
