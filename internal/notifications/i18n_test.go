package notifications

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLocaleNegotiatesLanguage(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{raw: "", want: "es"},
		{raw: "es-MX", want: "es"},
		{raw: "en-US,en;q=0.9", want: "en"},
		{raw: "de-DE", want: "es"},
	}
	for _, tc := range cases {
		loc, err := NewLocale(tc.raw, "")
		require.NoError(t, err, tc.raw)
		base, _ := loc.Tag().Base()
		assert.Equal(t, tc.want, base.String(), tc.raw)
	}
}

func TestNewLocaleRejectsUnknownCurrency(t *testing.T) {
	_, err := NewLocale("es", "ZZZ")
	require.Error(t, err)
}

func TestLocaleTranslatesAndFormats(t *testing.T) {
	es, err := NewLocale("es", "USD")
	require.NoError(t, err)
	en, err := NewLocale("en", "USD")
	require.NoError(t, err)

	assert.Equal(t, "Confirmación de compra T-1", es.T("Purchase confirmation %s", "T-1"))
	assert.Equal(t, "Purchase confirmation T-1", en.T("Purchase confirmation %s", "T-1"))
	assert.Equal(t, "completada parcialmente", es.Label("partially_completed"))
	assert.Equal(t, "credit card", es.Label("credit_card"))
	assert.Equal(t, "Marzo", es.MonthName(time.March))
	assert.Equal(t, "March", en.MonthName(time.March))

	day := time.Date(2026, 10, 22, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "22/10/2026", es.Date(day))
	assert.Equal(t, "Oct 22, 2026", en.Date(day))
	assert.Empty(t, es.Date(time.Time{}))

	assert.Contains(t, en.Money(123456), "1234.56")
	assert.Contains(t, en.Money(123456), "$")
}
