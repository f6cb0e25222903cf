// Package timenorm turns the civil timestamps published by port information
// sources into UTC instants.
package timenorm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"berthing-hub/core/model"
)

var ErrInvalidTimestamp = errors.New("invalid timestamp")

// DefaultOffset is the fixed civil offset of the Santos port sources (BRT).
const DefaultOffset = "-03:00"

var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
}

var civilLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/06 15:04",
	"2006-01-02",
	"02/01/2006",
}

// Parse converts raw into a UTC instant. Values carrying an explicit zone
// keep it; civil values are read in loc.
func Parse(raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrInvalidTimestamp)
	}
	if loc == nil {
		loc = time.UTC
	}
	if t, ok := epoch(s); ok {
		return t, nil
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	// scraped cells often carry doubled spaces between date and time
	s = strings.Join(strings.Fields(s), " ")
	for _, layout := range civilLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
}

// epoch reads unix seconds (10 digits) or milliseconds (13 digits). The JSON
// feeds emit these as bare numbers, which arrive here as their text.
func epoch(s string) (time.Time, bool) {
	if len(s) != 10 && len(s) != 13 {
		return time.Time{}, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return time.Time{}, false
	}
	if len(s) == 13 {
		return time.UnixMilli(n).UTC(), true
	}
	return time.Unix(n, 0).UTC(), true
}

// ParseOptional treats empty input as absent rather than invalid.
func ParseOptional(raw string, loc *time.Location) (time.Time, bool, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, false, nil
	}
	t, err := Parse(raw, loc)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// ParseOffset reads a fixed offset written as "+HH:MM", "-HHMM", "-03" or
// "Z" and returns it as a location.
func ParseOffset(raw string) (*time.Location, error) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.EqualFold(s, "z") || strings.EqualFold(s, "utc") {
		return time.UTC, nil
	}
	sign := 1
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		sign = -1
		s = s[1:]
	default:
		return nil, fmt.Errorf("offset %q: missing sign", raw)
	}
	s = strings.ReplaceAll(s, ":", "")
	var hours, minutes int
	var err error
	switch len(s) {
	case 1, 2:
		hours, err = strconv.Atoi(s)
	case 4:
		hours, err = strconv.Atoi(s[:2])
		if err == nil {
			minutes, err = strconv.Atoi(s[2:])
		}
	default:
		return nil, fmt.Errorf("offset %q: bad length", raw)
	}
	if err != nil || hours > 14 || minutes > 59 {
		return nil, fmt.Errorf("offset %q: out of range", raw)
	}
	secs := sign * (hours*3600 + minutes*60)
	return time.FixedZone(formatOffset(secs), secs), nil
}

func formatOffset(secs int) string {
	sign := '+'
	if secs < 0 {
		sign = '-'
		secs = -secs
	}
	return fmt.Sprintf("UTC%c%02d:%02d", sign, secs/3600, (secs%3600)/60)
}

// Normalizer holds the fixed offset of every source category.
type Normalizer struct {
	fallback *time.Location
	offsets  map[model.Category]*time.Location
}

// NewNormalizer builds a Normalizer from "+HH:MM" strings keyed by category.
// Categories without an entry use fallback.
func NewNormalizer(fallback string, offsets map[model.Category]string) (*Normalizer, error) {
	def, err := ParseOffset(fallback)
	if err != nil {
		return nil, err
	}
	n := &Normalizer{fallback: def, offsets: make(map[model.Category]*time.Location, len(offsets))}
	for cat, raw := range offsets {
		loc, err := ParseOffset(raw)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", cat, err)
		}
		n.offsets[cat] = loc
	}
	return n, nil
}

func (n *Normalizer) Offset(cat model.Category) *time.Location {
	if n == nil {
		return time.UTC
	}
	if loc, ok := n.offsets[cat]; ok {
		return loc
	}
	return n.fallback
}

func (n *Normalizer) Parse(cat model.Category, raw string) (time.Time, error) {
	return Parse(raw, n.Offset(cat))
}

func (n *Normalizer) ParseOptional(cat model.Category, raw string) (time.Time, bool, error) {
	return ParseOptional(raw, n.Offset(cat))
}
