package pagination

import (
	"fmt"
	"strconv"

	"medipredict-backend/pkg/constants"
)

// Params is a limit/offset window into a list
type Params struct {
	Limit  int
	Offset int
}

// Parse reads limit and offset query values. Empty values take the defaults,
// a limit above the maximum is clamped.
func Parse(limitStr, offsetStr string) (Params, error) {
	p := Params{Limit: constants.DefaultPageSize}

	if limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil {
			return Params{}, fmt.Errorf("invalid limit parameter: %w", err)
		}
		if l < 1 {
			return Params{}, fmt.Errorf("limit must be positive")
		}
		p.Limit = l
	}
	if p.Limit > constants.MaxPageSize {
		p.Limit = constants.MaxPageSize
	}

	if offsetStr != "" {
		o, err := strconv.Atoi(offsetStr)
		if err != nil {
			return Params{}, fmt.Errorf("invalid offset parameter: %w", err)
		}
		if o < 0 {
			return Params{}, fmt.Errorf("offset must not be negative")
		}
		p.Offset = o
	}

	return p, nil
}
