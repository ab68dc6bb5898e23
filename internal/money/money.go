// Package money parses monetary text in a configured locale convention into
// exact decimals. Cost-estimate PDFs print "1.234,56" style numbers; the
// separators are per-source configuration, never assumed.
package money

import (
	"regexp"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// Format describes the numeric convention of a source document.
type Format struct {
	Decimal   string `koanf:"decimal"`   // decimal separator, e.g. ","
	Thousands string `koanf:"thousands"` // thousands separator, e.g. "."
	Currency  string `koanf:"currency"`  // currency prefix stripped before parsing, e.g. "R$"
}

// PTBR is the Brazilian convention used by SINAPI documents.
var PTBR = Format{Decimal: ",", Thousands: ".", Currency: "R$"}

// Pattern returns a regexp fragment matching one number in this format,
// with or without thousands grouping.
func (f Format) Pattern() string {
	d := regexp.QuoteMeta(f.Decimal)
	t := regexp.QuoteMeta(f.Thousands)
	return `\d{1,3}(?:` + t + `\d{3})*(?:` + d + `\d+)?|\d+(?:` + d + `\d+)?`
}

// Parse converts text like "1.234,56" into a decimal. The second return is
// false when the text does not look like a number in this format; callers map
// that to the "not filled" sentinel, never to zero.
func (f Format) Parse(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if f.Currency != "" {
		s = strings.TrimSpace(strings.TrimPrefix(s, f.Currency))
	}
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return decimal.Zero, false
	}

	if !f.matcher().MatchString(s) {
		return decimal.Zero, false
	}

	if f.Thousands != "" {
		s = strings.ReplaceAll(s, f.Thousands, "")
	}
	if f.Decimal != "" && f.Decimal != "." {
		s = strings.ReplaceAll(s, f.Decimal, ".")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ParseNull is Parse returning the null-decimal sentinel form.
func (f Format) ParseNull(s string) decimal.NullDecimal {
	d, ok := f.Parse(s)
	return decimal.NullDecimal{Decimal: d, Valid: ok}
}

// matchers caches one compiled regexp per Format; formats come from
// configuration loaded once, so the cache stays tiny.
var matchers sync.Map

func (f Format) matcher() *regexp.Regexp {
	if rx, ok := matchers.Load(f); ok {
		return rx.(*regexp.Regexp)
	}
	rx := regexp.MustCompile(`^-?(?:` + f.Pattern() + `)$`)
	matchers.Store(f, rx)
	return rx
}
