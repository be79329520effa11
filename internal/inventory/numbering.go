package inventory

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var typeCodes = map[TransactionType]string{
	TransactionTypePurchase:   "PUR",
	TransactionTypeIssue:      "ISS",
	TransactionTypeTransfer:   "TRF",
	TransactionTypeReturn:     "RET",
	TransactionTypeAdjustment: "ADJ",
}

// NumberScope is the (warehouse, type, month) bucket a sequence counts within.
type NumberScope struct {
	WarehouseType string
	Type          TransactionType
	Period        string
}

// PeriodOf returns the YYMM period of t in UTC.
func PeriodOf(t time.Time) string {
	return t.UTC().Format("0601")
}

// stampWithin returns now, or the last microsecond of period once the clock has moved past it.
func stampWithin(now time.Time, period string) time.Time {
	if PeriodOf(now) == period {
		return now
	}
	start, err := time.Parse("0601", period)
	if err != nil || now.Before(start) {
		return now
	}
	return start.AddDate(0, 1, 0).Add(-time.Microsecond)
}

// TypeCode returns the three-letter code used in transaction numbers.
func TypeCode(t TransactionType) (string, error) {
	code, ok := typeCodes[t]
	if !ok {
		return "", fmt.Errorf("inventory: unknown transaction type %q", t)
	}
	return code, nil
}

// FormatNumber renders {WAREHOUSE}-{TYPE}-{YYMM}-{SEQ}; SEQ has at least four digits.
func FormatNumber(scope NumberScope, seq int) string {
	code, err := TypeCode(scope.Type)
	if err != nil {
		code = string(scope.Type)
	}
	return fmt.Sprintf("%s-%s-%s-%04d", scope.WarehouseType, code, scope.Period, seq)
}

// ParseNumber splits a transaction number into its scope and sequence.
func ParseNumber(number string) (NumberScope, int, error) {
	parts := strings.Split(number, "-")
	if len(parts) != 4 {
		return NumberScope{}, 0, fmt.Errorf("inventory: malformed transaction number %q", number)
	}
	var txType TransactionType
	for t, code := range typeCodes {
		if code == parts[1] {
			txType = t
			break
		}
	}
	if txType == "" {
		return NumberScope{}, 0, fmt.Errorf("inventory: unknown type code in %q", number)
	}
	if len(parts[2]) != 4 {
		return NumberScope{}, 0, fmt.Errorf("inventory: malformed period in %q", number)
	}
	if _, err := time.Parse("0601", parts[2]); err != nil {
		return NumberScope{}, 0, fmt.Errorf("inventory: malformed period in %q", number)
	}
	if len(parts[3]) < 4 {
		return NumberScope{}, 0, fmt.Errorf("inventory: malformed sequence in %q", number)
	}
	seq, err := strconv.Atoi(parts[3])
	if err != nil || seq < 1 {
		return NumberScope{}, 0, fmt.Errorf("inventory: malformed sequence in %q", number)
	}
	if parts[0] == "" {
		return NumberScope{}, 0, fmt.Errorf("inventory: missing warehouse in %q", number)
	}
	return NumberScope{WarehouseType: parts[0], Type: txType, Period: parts[2]}, seq, nil
}
