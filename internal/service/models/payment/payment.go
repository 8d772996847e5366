package payment

import (
	"strconv"
	"strings"

	"github.com/corray333/backend-labs/orderflow/internal/service/errs"
	"github.com/shopspring/decimal"
)

// Epsilon is the tolerance between the split sum and the order total.
var Epsilon = decimal.New(1, -2)

const (
	splitSeparator  = "|"
	amountSeparator = ":"
)

// Split is one (method, amount) part of a split payment.
type Split struct {
	Method string          `json:"method"`
	Amount decimal.Decimal `json:"amount"`
}

// Submission is either a single method or a list of splits.
type Submission struct {
	Method string  `json:"method,omitempty"`
	Splits []Split `json:"splits,omitempty"`
}

// Reconcile validates the submission against total and returns the method string
// stored on the order: the single method, or "m1:a1|m2:a2" in submission order.
func Reconcile(total decimal.Decimal, sub Submission) (string, error) {
	if len(sub.Splits) == 0 {
		method := strings.TrimSpace(sub.Method)
		if method == "" {
			return "", errs.Validation("method", "payment method is required")
		}
		if strings.ContainsAny(method, splitSeparator+amountSeparator) {
			return "", errs.Validation("method", "payment method contains a reserved character")
		}

		return method, nil
	}
	if strings.TrimSpace(sub.Method) != "" {
		return "", errs.Validation("method", "either a single method or splits must be given, not both")
	}

	sum := decimal.Zero
	parts := make([]string, 0, len(sub.Splits))
	for i, s := range sub.Splits {
		method := strings.TrimSpace(s.Method)
		if method == "" {
			return "", errs.Validation(splitField(i, "method"), "payment method is required")
		}
		if strings.ContainsAny(method, splitSeparator+amountSeparator) {
			return "", errs.Validation(splitField(i, "method"), "payment method contains a reserved character")
		}
		if !s.Amount.IsPositive() {
			return "", errs.Validation(splitField(i, "amount"), "amount must be greater than zero")
		}
		sum = sum.Add(s.Amount)
		parts = append(parts, method+amountSeparator+s.Amount.StringFixed(2))
	}

	remaining := total.Sub(sum)
	if remaining.Abs().GreaterThan(Epsilon) {
		msg := "split amounts do not cover the order total"
		if remaining.IsNegative() {
			msg = "split amounts exceed the order total"
		}

		return "", &errs.ValidationError{Field: "splits", Message: msg, Remaining: &remaining}
	}

	return strings.Join(parts, splitSeparator), nil
}

// Parse splits a stored composite method back into its parts.
// A single method is returned as one split with a zero amount.
func Parse(method string) ([]Split, error) {
	if !strings.Contains(method, amountSeparator) {
		return []Split{{Method: method}}, nil
	}
	var out []Split
	for _, part := range strings.Split(method, splitSeparator) {
		m, a, ok := strings.Cut(part, amountSeparator)
		if !ok {
			return nil, errs.Validation("paymentMethod", "malformed composite method "+method)
		}
		amount, err := decimal.NewFromString(a)
		if err != nil {
			return nil, errs.Validation("paymentMethod", "malformed amount "+a)
		}
		out = append(out, Split{Method: m, Amount: amount})
	}

	return out, nil
}

func splitField(i int, name string) string {
	return "splits[" + strconv.Itoa(i) + "]." + name
}
