package extraction

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// currencySymbols maps symbol/prefix anchors to currencies. Longer anchors
// are tried first so "S$" is not read as "$".
var currencySymbols = []struct {
	anchor   string
	currency Currency
}{
	{"₱", CurrencyPHP},
	{"PHP", CurrencyPHP},
	{"RM", CurrencyMYR},
	{"MYR", CurrencyMYR},
	{"RP", CurrencyIDR},
	{"IDR", CurrencyIDR},
	{"S$", CurrencySGD},
	{"SGD", CurrencySGD},
	{"฿", CurrencyTHB},
	{"THB", CurrencyTHB},
	{"₫", CurrencyVND},
	{"VND", CurrencyVND},
	{"USD", CurrencyUSD},
	{"US$", CurrencyUSD},
	{"€", CurrencyEUR},
	{"EUR", CurrencyEUR},
}

// currencyKeywords are whole-word anchors usable when no symbol is printed.
var currencyKeywords = map[string]Currency{
	"PESO":    CurrencyPHP,
	"PESOS":   CurrencyPHP,
	"RINGGIT": CurrencyMYR,
	"RUPIAH":  CurrencyIDR,
	"BAHT":    CurrencyTHB,
	"DONG":    CurrencyVND,
	"DOLLAR":  CurrencyUSD,
	"DOLLARS": CurrencyUSD,
	"EURO":    CurrencyEUR,
	"EUROS":   CurrencyEUR,
}

// ParseCurrency maps an extractor-provided currency string to a known code.
func ParseCurrency(s string) (Currency, bool) {
	switch Currency(strings.ToUpper(strings.TrimSpace(s))) {
	case CurrencyPHP, CurrencyMYR, CurrencyIDR, CurrencySGD,
		CurrencyTHB, CurrencyVND, CurrencyUSD, CurrencyEUR:
		return Currency(strings.ToUpper(strings.TrimSpace(s))), true
	}
	return "", false
}

// amountAfterAnchor matches digits (with separators) following a currency
// anchor, e.g. "₱1,500.00" or "RM 125".
var amountAfterAnchor = regexp.MustCompile(`^[\s:]*([0-9][0-9.,]*)`)

// FindAnchoredAmount scans raw text for a currency-symbol-anchored amount.
// It returns the first parseable hit. Symbol anchors double as the currency
// signal, which is why a bare number is never accepted here.
func FindAnchoredAmount(text string) (decimal.Decimal, Currency, bool) {
	upper := strings.ToUpper(text)
	for _, sym := range currencySymbols {
		anchor := strings.ToUpper(sym.anchor)
		idx := 0
		for {
			pos := strings.Index(upper[idx:], anchor)
			if pos < 0 {
				break
			}
			at := idx + pos
			// Letter anchors must start a word so "RP" does not hit "GRP"
			if at > 0 && isLetter(upper[at-1]) && isLetter(anchor[0]) {
				idx = at + len(anchor)
				continue
			}
			rest := upper[at+len(anchor):]
			if m := amountAfterAnchor.FindStringSubmatch(rest); m != nil {
				if amount, err := ParseAmount(m[1]); err == nil {
					return amount, sym.currency, true
				}
			}
			idx = at + len(anchor)
		}
	}
	return decimal.Decimal{}, "", false
}

// FindCurrency looks for any explicit currency symbol or keyword in raw text.
// Letter anchors must stand alone so "RM" never matches inside "Confirmed".
func FindCurrency(text string) (Currency, bool) {
	upper := strings.ToUpper(text)
	for _, sym := range currencySymbols {
		if containsAnchor(upper, strings.ToUpper(sym.anchor)) {
			return sym.currency, true
		}
	}
	for _, word := range strings.FieldsFunc(upper, func(r rune) bool {
		return !('A' <= r && r <= 'Z')
	}) {
		if cur, ok := currencyKeywords[word]; ok {
			return cur, true
		}
	}
	return "", false
}

// containsAnchor reports whether anchor occurs in upper. Occurrences whose
// letter edges touch adjacent letters are skipped, so "RP" does not hit "GRP"
// and "RM" does not hit "CONFIRMED".
func containsAnchor(upper, anchor string) bool {
	idx := 0
	for {
		pos := strings.Index(upper[idx:], anchor)
		if pos < 0 {
			return false
		}
		at := idx + pos
		end := at + len(anchor)
		headFree := at == 0 || !isLetter(anchor[0]) || !isLetter(upper[at-1])
		tailFree := end == len(upper) || !isLetter(anchor[len(anchor)-1]) || !isLetter(upper[end])
		if headFree && tailFree {
			return true
		}
		idx = at + 1
	}
}

func isLetter(b byte) bool {
	return b >= 'A' && b <= 'Z'
}

var thousandsComma = regexp.MustCompile(`^\d{1,3}(,\d{3})+(\.\d+)?$`)
var thousandsDot = regexp.MustCompile(`^\d{1,3}(\.\d{3})+(,\d+)?$`)

// ParseAmount parses a printed amount, stripping currency symbols and
// thousands separators. Both "1,500.00" and "1.500,00" styles are handled;
// the rightmost separator is taken as the decimal point when ambiguous.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	// Drop currency anchors and whitespace, keep digits and separators
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}
	s = strings.Trim(b.String(), ".,")
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("no digits in amount")
	}

	switch {
	case thousandsComma.MatchString(s):
		s = strings.ReplaceAll(s, ",", "")
	case thousandsDot.MatchString(s):
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	case strings.Contains(s, ",") && strings.Contains(s, "."):
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.ReplaceAll(s, ",", ".")
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case strings.Contains(s, ","):
		// Single comma: decimal separator unless it groups exactly 3 digits
		s = strings.ReplaceAll(s, ",", ".")
	}

	return decimal.NewFromString(s)
}
