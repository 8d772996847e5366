package payment

import (
	"errors"
	"testing"

	"github.com/corray333/backend-labs/orderflow/internal/service/errs"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestReconcile_SplitCoversTotal(t *testing.T) {
	method, err := Reconcile(dec("100.00"), Submission{Splits: []Split{
		{Method: "pix", Amount: dec("60.00")},
		{Method: "cash", Amount: dec("40.00")},
	}})

	require.NoError(t, err)
	assert.Equal(t, "pix:60.00|cash:40.00", method)
}

func TestReconcile_KeepsSubmissionOrder(t *testing.T) {
	method, err := Reconcile(dec("30"), Submission{Splits: []Split{
		{Method: "cash", Amount: dec("5")},
		{Method: "card", Amount: dec("20")},
		{Method: "pix", Amount: dec("5")},
	}})

	require.NoError(t, err)
	assert.Equal(t, "cash:5.00|card:20.00|pix:5.00", method)
}

func TestReconcile_Underpaid(t *testing.T) {
	_, err := Reconcile(dec("100.00"), Submission{Splits: []Split{
		{Method: "pix", Amount: dec("60.00")},
		{Method: "cash", Amount: dec("30.00")},
	}})

	var verr *errs.ValidationError
	require.True(t, errors.As(err, &verr))
	require.NotNil(t, verr.Remaining)
	assert.True(t, verr.Remaining.Equal(dec("10.00")), "remaining=%s", verr.Remaining)
}

func TestReconcile_Overpaid(t *testing.T) {
	_, err := Reconcile(dec("100.00"), Submission{Splits: []Split{
		{Method: "pix", Amount: dec("70.00")},
		{Method: "cash", Amount: dec("40.00")},
	}})

	var verr *errs.ValidationError
	require.True(t, errors.As(err, &verr))
	require.NotNil(t, verr.Remaining)
	assert.True(t, verr.Remaining.Equal(dec("-10.00")), "remaining=%s", verr.Remaining)
	assert.Contains(t, verr.Error(), "-10.00")
}

func TestReconcile_WithinEpsilon(t *testing.T) {
	method, err := Reconcile(dec("100.00"), Submission{Splits: []Split{
		{Method: "pix", Amount: dec("33.33")},
		{Method: "cash", Amount: dec("33.33")},
		{Method: "card", Amount: dec("33.33")},
	}})

	require.NoError(t, err)
	assert.Equal(t, "pix:33.33|cash:33.33|card:33.33", method)
}

func TestReconcile_JustOutsideEpsilon(t *testing.T) {
	_, err := Reconcile(dec("100.00"), Submission{Splits: []Split{
		{Method: "pix", Amount: dec("99.98")},
	}})

	var verr *errs.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.True(t, verr.Remaining.Equal(dec("0.02")))
}

func TestReconcile_RejectsMalformedSplits(t *testing.T) {
	cases := map[string]Submission{
		"empty method":    {Splits: []Split{{Method: " ", Amount: dec("100")}}},
		"zero amount":     {Splits: []Split{{Method: "pix", Amount: dec("0")}, {Method: "cash", Amount: dec("100")}}},
		"negative amount": {Splits: []Split{{Method: "pix", Amount: dec("-1")}, {Method: "cash", Amount: dec("101")}}},
		"reserved char":   {Splits: []Split{{Method: "pi|x", Amount: dec("100")}}},
		"both forms":      {Method: "cash", Splits: []Split{{Method: "pix", Amount: dec("100")}}},
		"no method":       {},
	}

	for name, sub := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Reconcile(dec("100"), sub)

			var verr *errs.ValidationError
			require.True(t, errors.As(err, &verr), "err=%v", err)
			assert.Nil(t, verr.Remaining)
		})
	}
}

func TestReconcile_SingleMethod(t *testing.T) {
	method, err := Reconcile(dec("12.50"), Submission{Method: " card "})

	require.NoError(t, err)
	assert.Equal(t, "card", method)
}

func TestParse(t *testing.T) {
	splits, err := Parse("pix:60.00|cash:40.00")
	require.NoError(t, err)
	require.Len(t, splits, 2)
	assert.Equal(t, "pix", splits[0].Method)
	assert.True(t, splits[1].Amount.Equal(dec("40")))

	single, err := Parse("card")
	require.NoError(t, err)
	assert.Equal(t, []Split{{Method: "card"}}, single)

	_, err = Parse("pix:abc")
	assert.Error(t, err)
}
