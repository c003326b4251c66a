package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/casting-agency/internal/apperr"
)

const maxBodyBytes = 1 << 20

// payload is a decoded JSON object body. Values stay raw until a field
// accessor interprets them, so a field can be told apart as absent, null or
// ill-typed.
type payload map[string]json.RawMessage

// readPayload requires the body to be a single JSON object.
func readPayload(c echo.Context) (payload, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes+1))
	if err != nil {
		return nil, apperr.BadRequest("could not read request body")
	}
	if len(body) > maxBodyBytes {
		return nil, apperr.BadRequest("request body too large")
	}
	var p payload
	if err := json.Unmarshal(body, &p); err != nil || p == nil {
		return nil, apperr.BadRequest("request body must be a JSON object")
	}
	return p, nil
}

// raw returns the value of key; null counts as absent.
func (p payload) raw(key string) (json.RawMessage, bool) {
	v, ok := p[key]
	if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return nil, false
	}
	return v, true
}

// String returns the trimmed, non-empty string at key, or nil if absent.
func (p payload) String(key string) (*string, error) {
	v, ok := p.raw(key)
	if !ok {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return nil, apperr.Invalid("%s must be a string", key)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, apperr.Invalid("%s must not be empty", key)
	}
	return &s, nil
}

// Int accepts a JSON integer or a string holding one ("42").
func (p payload) Int(key string) (*int, error) {
	v, ok := p.raw(key)
	if !ok {
		return nil, nil
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err != nil {
		var s string
		if json.Unmarshal(v, &s) != nil {
			return nil, apperr.Invalid("%s must be an integer", key)
		}
		n = json.Number(strings.TrimSpace(s))
	}
	i, err := strconv.ParseInt(n.String(), 10, 32)
	if err != nil {
		return nil, apperr.Invalid("%s must be an integer", key)
	}
	out := int(i)
	return &out, nil
}

// Date accepts any layout ParseReleaseDate knows, or a JSON number taken
// as a year.
func (p payload) Date(key string) (*time.Time, error) {
	v, ok := p.raw(key)
	if !ok {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		var n json.Number
		if json.Unmarshal(v, &n) != nil {
			return nil, apperr.Invalid("%s must be a date", key)
		}
		s = n.String()
	}
	t, err := ParseReleaseDate(s)
	if err != nil {
		return nil, apperr.Invalid("%s must be a date", key)
	}
	return &t, nil
}

// Has reports whether any of keys carries a non-null value.
func (p payload) Has(keys ...string) bool {
	for _, k := range keys {
		if _, ok := p.raw(k); ok {
			return true
		}
	}
	return false
}

var releaseDateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006-01",
	"2006",
}

var errBadDate = errors.New("unrecognised date")

// ParseReleaseDate reads a release date such as "2008", "2008-06" or
// "2008-06-27". Results are in UTC.
func ParseReleaseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range releaseDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() < 1 || t.Year() > 9999 {
				break
			}
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", errBadDate, s)
}

// parseID reads the :id path parameter. Anything but a positive integer
// that fits the store's id column is unprocessable.
func parseID(c echo.Context) (int64, error) {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 || id > math.MaxInt32 {
		return 0, apperr.Unprocessable("invalid id", fmt.Errorf("id %q", raw))
	}
	return id, nil
}
