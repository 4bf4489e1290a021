package job

import (
	"sort"
	"strconv"

	"tapkit/internal/domain"
	"tapkit/internal/params"
)

// Filter keys accepted by the async job search.
const (
	FilterName         = "name"
	FilterStartDate    = "start_date"
	FilterEndDate      = "end_date"
	FilterLimit        = "limit"
	FilterOffset       = "offset"
	FilterOrder        = "order"
	FilterMetadataOnly = "metadata_only"
)

var filterKeys = map[string]bool{
	FilterName:         true,
	FilterStartDate:    true,
	FilterEndDate:      true,
	FilterLimit:        true,
	FilterOffset:       true,
	FilterOrder:        true,
	FilterMetadataOnly: true,
}

// Filter restricts an async job search. Keys serialize in insertion order.
type Filter struct {
	params *params.Builder
}

// NewFilter returns an empty filter.
func NewFilter() *Filter {
	return &Filter{params: params.New()}
}

// ParseFilter builds a filter from a map, with keys in sorted order.
func ParseFilter(m map[string]string) (*Filter, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	f := NewFilter()
	for _, k := range keys {
		if err := f.Set(k, m[k]); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Set stores a filter value. Unknown keys are rejected.
func (f *Filter) Set(key, value string) error {
	if !filterKeys[key] {
		return domain.ErrValidation("invalid filter key %q", key)
	}
	if key == FilterLimit || key == FilterOffset {
		if _, err := strconv.Atoi(value); err != nil {
			return domain.ErrValidation("filter %s must be an integer, got %q", key, value)
		}
	}
	f.params.Set(key, value)
	return nil
}

// Name returns the name filter, if set.
func (f *Filter) Name() (string, bool) {
	if f == nil {
		return "", false
	}
	return f.params.Get(FilterName)
}

// Params returns the filter as request parameters.
func (f *Filter) Params() *params.Builder {
	if f == nil {
		return params.New()
	}
	return f.params.Clone()
}

// Encode returns the URL query form of the filter.
func (f *Filter) Encode() string {
	return f.Params().Encode()
}
