package catalog

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

var categoryCodePattern = regexp.MustCompile(`^[A-Z0-9]{1,10}$`)

func normalizeCategoryCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !categoryCodePattern.MatchString(code) {
		return "", fmt.Errorf("%w: category code must be 1-10 letters or digits", shared.ErrValidation)
	}
	return code, nil
}

// NextItemCode returns <prefix>-NNN where NNN is one past the highest numeric suffix among
// existing codes carrying the same prefix. Codes with other prefixes or non-numeric suffixes
// are ignored.
func NextItemCode(prefix string, existing []string) string {
	max := 0
	head := prefix + "-"
	for _, code := range existing {
		if !strings.HasPrefix(code, head) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(code, head))
		if err != nil || n < 0 {
			continue
		}
		if n > max {
			max = n
		}
	}
	return fmt.Sprintf("%s%03d", head, max+1)
}
