package api

import (
	"fmt"
	"net/http"
	"strconv"

	"rbus/internal/matching"
	"rbus/internal/model"
)

func pathID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid trip id %q", raw)
	}
	return id, nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

func nearestOptions(r *http.Request) (matching.NearestOptions, error) {
	var opts matching.NearestOptions
	var err error
	if opts.Limit, err = queryInt(r, "limit", matching.DefaultNearestLimit); err != nil {
		return opts, err
	}
	if opts.Limit == 0 || opts.Limit > 1000 {
		return opts, fmt.Errorf("limit must be between 1 and 1000")
	}
	if opts.Offset, err = queryInt(r, "offset", 0); err != nil {
		return opts, err
	}
	if opts.SortKey, err = model.ParseSortKey(r.URL.Query().Get("sort")); err != nil {
		return opts, err
	}
	return opts, nil
}

func withinMeters(r *http.Request) (float64, error) {
	v := r.URL.Query().Get("meters")
	if v == "" {
		return matching.StatsRadius, nil
	}
	m, err := strconv.ParseFloat(v, 64)
	if err != nil || m < 0 {
		return 0, fmt.Errorf("meters must be a non-negative number")
	}
	return m, nil
}

func boxParam(r *http.Request, key string) (*model.Box, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	b, err := model.ParseBox(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
