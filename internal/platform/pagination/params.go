package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultLimit is the page size used when the client omits limit.
	DefaultLimit = 10
	// DefaultMaxLimit caps limit to prevent unbounded queries.
	DefaultMaxLimit = 100
)

// SortOrder is the direction of the single sort clause.
type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

// Params bundles offset pagination and sorting values extracted from a request.
type Params struct {
	Page      int
	Limit     int
	SortBy    string
	SortOrder SortOrder
}

// Offset returns the number of records to skip.
func (p Params) Offset() int {
	if p.Page <= 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

// Options control how Parse behaves for a given handler.
type Options struct {
	DefaultLimit     int
	MaxLimit         int
	AllowedSortBy    []string
	DefaultSortBy    string
	DefaultSortOrder SortOrder
}

var (
	ErrInvalidPage      = errors.New("pagination: invalid page")
	ErrInvalidLimit     = errors.New("pagination: invalid limit")
	ErrInvalidSortBy    = errors.New("pagination: invalid sortBy")
	ErrInvalidSortOrder = errors.New("pagination: invalid sortOrder")
)

// FromRequest parses the supported query parameters from the supplied request.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse reads page, limit, sortBy and sortOrder. Limits above the maximum are clamped;
// non-numeric or non-positive values are rejected.
func Parse(values url.Values, opts Options) (Params, error) {
	if values == nil {
		values = url.Values{}
	}

	page, err := parsePositive(values.Get("page"), 1, ErrInvalidPage)
	if err != nil {
		return Params{}, err
	}

	limit, err := parseLimit(values.Get("limit"), opts)
	if err != nil {
		return Params{}, err
	}

	sortBy, err := parseSortBy(values.Get("sortBy"), opts)
	if err != nil {
		return Params{}, err
	}

	order, err := parseSortOrder(values.Get("sortOrder"), opts.DefaultSortOrder)
	if err != nil {
		return Params{}, err
	}

	return Params{Page: page, Limit: limit, SortBy: sortBy, SortOrder: order}, nil
}

func parsePositive(raw string, fallback int, sentinel error) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: must be an integer", sentinel)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", sentinel)
	}
	return value, nil
}

func parseLimit(raw string, opts Options) (int, error) {
	maxLimit := opts.MaxLimit
	if maxLimit <= 0 {
		maxLimit = DefaultMaxLimit
	}
	defaultLimit := opts.DefaultLimit
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	if defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}

	value, err := parsePositive(raw, defaultLimit, ErrInvalidLimit)
	if err != nil {
		return 0, err
	}
	if value > maxLimit {
		value = maxLimit
	}
	return value, nil
}

func parseSortBy(raw string, opts Options) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return opts.DefaultSortBy, nil
	}
	if !isAllowedFieldName(raw) {
		return "", fmt.Errorf("%w: invalid field %q", ErrInvalidSortBy, raw)
	}
	for _, field := range opts.AllowedSortBy {
		if field == raw {
			return raw, nil
		}
	}
	return "", fmt.Errorf("%w: field %q is not allowed", ErrInvalidSortBy, raw)
}

func parseSortOrder(raw string, fallback SortOrder) (SortOrder, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		if fallback == "" {
			return Desc, nil
		}
		return fallback, nil
	case "asc":
		return Asc, nil
	case "desc":
		return Desc, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSortOrder, raw)
	}
}

func isAllowedFieldName(field string) bool {
	if field == "" || len(field) > 64 {
		return false
	}
	for _, r := range field {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}
