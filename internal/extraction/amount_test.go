package extraction

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1,500.00", "1500"},
		{"125", "125"},
		{"1.500,00", "1500"},
		{"1.500.000", "1500000"},
		{"12,345,678.90", "12345678.9"},
		{"0.50", "0.5"},
		{"0,50", "0.5"},
		{"₱1,500.00", "1500"},
		{"RM 125", "125"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			require.NoError(t, err)
			want, _ := decimal.NewFromString(tt.want)
			assert.True(t, got.Equal(want), "got %s want %s", got, want)
		})
	}
}

func TestParseAmount_NoDigits(t *testing.T) {
	_, err := ParseAmount("no amount here")
	assert.Error(t, err)
}

func TestFindAnchoredAmount(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		amount   string
		currency Currency
	}{
		{"peso symbol", "Amount Sent ₱1,500.00 via GCash", "1500", CurrencyPHP},
		{"ringgit prefix", "Transfer RM125 successful", "125", CurrencyMYR},
		{"rupiah", "Rp 250.000 BERHASIL", "250000", CurrencyIDR},
		{"singapore dollar", "You paid S$42.50", "42.5", CurrencySGD},
		{"code anchor", "TOTAL PHP 980.00", "980", CurrencyPHP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, currency, ok := FindAnchoredAmount(tt.text)
			require.True(t, ok)
			want, _ := decimal.NewFromString(tt.amount)
			assert.True(t, amount.Equal(want), "got %s want %s", amount, want)
			assert.Equal(t, tt.currency, currency)
		})
	}
}

func TestFindAnchoredAmount_NoAnchor(t *testing.T) {
	// A bare number without a currency anchor must not be accepted
	_, _, ok := FindAnchoredAmount("transaction 1500 completed")
	assert.False(t, ok)
}

func TestFindAnchoredAmount_AnchorInsideWord(t *testing.T) {
	_, _, ok := FindAnchoredAmount("GRP 100 report")
	assert.False(t, ok)
}

func TestFindCurrency_Keyword(t *testing.T) {
	currency, ok := FindCurrency("five hundred pesos received")
	require.True(t, ok)
	assert.Equal(t, CurrencyPHP, currency)
}

func TestFindCurrency_Symbol(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		currency Currency
	}{
		{"ringgit prefix", "Transfer RM125 successful", CurrencyMYR},
		{"code after amount", "TOTAL 980.00 PHP", CurrencyPHP},
		{"symbol", "Paid ₱1,500.00", CurrencyPHP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			currency, ok := FindCurrency(tt.text)
			require.True(t, ok)
			assert.Equal(t, tt.currency, currency)
		})
	}
}

func TestFindCurrency_AnchorInsideWord(t *testing.T) {
	// Letter anchors embedded in ordinary words are not currency signals;
	// "RM" in "Confirmed", "Rp" in "Grp", "MYR" in "Myriad" must all miss.
	for _, text := range []string{
		"Payment Confirmed. Thank you.",
		"Grp transfer complete",
		"Myriad options available",
		"Transformation successful",
	} {
		t.Run(text, func(t *testing.T) {
			currency, ok := FindCurrency(text)
			assert.False(t, ok, "got %s from %q", currency, text)
		})
	}
}

func TestParseCurrency(t *testing.T) {
	cur, ok := ParseCurrency(" php ")
	require.True(t, ok)
	assert.Equal(t, CurrencyPHP, cur)

	_, ok = ParseCurrency("XYZ")
	assert.False(t, ok)
}
