package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

var (
	// ErrModelRejected means the model returned the literal "null": it saw
	// no transaction in the message. Not a system fault; the item is routed
	// to error status for human visibility.
	ErrModelRejected = errors.New("model detected no transaction")

	// ErrSchemaMismatch means the model's output was not valid JSON or did
	// not satisfy the transaction schema. Distinct from transport failures,
	// which leave the item pending.
	ErrSchemaMismatch = errors.New("model output does not match transaction schema")
)

// ParsedTransaction is the validated form of the model's JSON payload.
type ParsedTransaction struct {
	Amount         decimal.Decimal
	ExpenseName    string
	Date           civil.Date
	Category       string
	Notes          string
	RefundRequired bool
}

// rawPayload mirrors the model's wire contract. Amount is decoded as
// json.Number so fractional currency survives unmangled into decimal.
type rawPayload struct {
	Amount         json.Number `json:"amount"`
	ExpenseName    string      `json:"expenseName"`
	Date           string      `json:"date"`
	Category       string      `json:"category"`
	Notes          string      `json:"notes"`
	RefundRequired bool        `json:"refundRequired"`
}

// ParsePayload validates cleaned model output against the transaction
// schema. The literal "null" maps to ErrModelRejected; anything else that is
// not a well-formed transaction object maps to ErrSchemaMismatch.
func ParsePayload(clean string) (*ParsedTransaction, error) {
	trimmed := strings.TrimSpace(clean)
	if trimmed == "null" {
		return nil, ErrModelRejected
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()

	var raw rawPayload
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode payload: %v: %w", err, ErrSchemaMismatch)
	}

	if raw.Amount == "" {
		return nil, fmt.Errorf("missing amount: %w", ErrSchemaMismatch)
	}
	amount, err := decimal.NewFromString(raw.Amount.String())
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", raw.Amount, ErrSchemaMismatch)
	}

	if strings.TrimSpace(raw.ExpenseName) == "" {
		return nil, fmt.Errorf("missing expenseName: %w", ErrSchemaMismatch)
	}
	if strings.TrimSpace(raw.Category) == "" {
		return nil, fmt.Errorf("missing category: %w", ErrSchemaMismatch)
	}

	date, err := civil.ParseDate(raw.Date)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", raw.Date, ErrSchemaMismatch)
	}

	return &ParsedTransaction{
		Amount:         amount,
		ExpenseName:    raw.ExpenseName,
		Date:           date,
		Category:       raw.Category,
		Notes:          raw.Notes,
		RefundRequired: raw.RefundRequired,
	}, nil
}

// CleanModelJSON strips markdown code-fence wrapping the model sometimes
// adds despite instructions, and trims stray text around the JSON object.
func CleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	if s == "null" {
		return s
	}

	// Extra safety: if there is still junk around the JSON object, keep only
	// from the first '{' to the last '}'.
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}
