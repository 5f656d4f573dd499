package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// QueryFilter is the request-scoped, immutable description of what a
// query is asking for. Every bound is optional; an absent bound imposes
// no constraint. Decoded once per accepted query and never mutated
// afterwards — forwarding produces copies with an adjusted Limit/Team.
type QueryFilter struct {
	Parameter string `json:"parameter,omitempty"`

	MinValue *float64 `json:"min_value,omitempty"`
	MaxValue *float64 `json:"max_value,omitempty"`

	DateStart string `json:"date_start,omitempty"`
	DateEnd   string `json:"date_end,omitempty"`

	LatMin *float64 `json:"lat_min,omitempty"`
	LatMax *float64 `json:"lat_max,omitempty"`
	LonMin *float64 `json:"lon_min,omitempty"`
	LonMax *float64 `json:"lon_max,omitempty"`

	Team  string `json:"team,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// Clone returns a shallow copy suitable for mutating Limit/Team before
// forwarding to a neighbor.
func (f QueryFilter) Clone() QueryFilter {
	return f
}

// ParseFilter decodes raw (the queryParams JSON payload from a Query
// request) into a QueryFilter and clamps Limit to [1, defaultLimit].
// An empty payload is treated as "match everything, default limit".
func ParseFilter(raw []byte, defaultLimit int) (QueryFilter, error) {
	var f QueryFilter
	if len(raw) != 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return QueryFilter{}, fmt.Errorf("decoding query filter: %w", err)
		}
	}
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > defaultLimit {
		f.Limit = defaultLimit
	}
	if f.Limit < 1 {
		f.Limit = 1
	}
	return f, nil
}
