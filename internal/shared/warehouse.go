package shared

import (
	"fmt"
	"strings"
)

// WarehouseTypes is the configured set of warehouse type codes (OG, SP, ...).
type WarehouseTypes []string

// Normalize upper-cases code and checks it against the configured set.
func (w WarehouseTypes) Normalize(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, known := range w {
		if strings.EqualFold(known, code) {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w: unknown warehouse type %q", ErrValidation, code)
}
