package script

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

var (
	placeholderRe = regexp.MustCompile(`\[([^\[\]]+)\]`)
	operatorRe    = regexp.MustCompile(`\s*(?:×|\*|\bx\b)\s*`)
)

// Interpolate replaces bracketed products such as "[shootsPerWeek × 44]" with
// their value computed from values. Placeholders naming unknown fields or
// holding anything other than a product are left as written.
func Interpolate(text string, values map[string]float64) string {
	return placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		v, ok := evalProduct(m[1:len(m)-1], values)
		if !ok {
			return m
		}
		return formatNumber(v)
	})
}

func evalProduct(expr string, values map[string]float64) (float64, bool) {
	terms := operatorRe.Split(strings.TrimSpace(expr), -1)
	product := 1.0
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			return 0, false
		}
		if n, err := strconv.ParseFloat(term, 64); err == nil {
			product *= n
			continue
		}
		v, ok := values[term]
		if !ok {
			return 0, false
		}
		product *= v
	}
	return product, true
}

func formatNumber(v float64) string {
	return humanize.Comma(int64(math.Round(v)))
}
