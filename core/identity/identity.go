// Package identity derives the stable port_call_id used as the merge key.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/zeebo/xxh3"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var ErrAmbiguousIdentity = errors.New("ambiguous identity")

const (
	prefixIMO  = "imo-"
	prefixName = "nm-"
	sep        = "\x1f"
)

// Key is the identity context carried by one source record.
type Key struct {
	IMO        string
	VesselName string
	Terminal   string
	BerthID    string
	VoyageIn   string
	// FirstEvent is the earliest instant the record carries; its civil
	// date in Loc anchors name-based keys.
	FirstEvent time.Time
	Loc        *time.Location
}

// Resolve returns the port_call_id for k. IMO-based keys are preferred
// and need a voyage; otherwise the key falls back to the vessel name and
// the date of the first known event.
func Resolve(k Key) (string, error) {
	terminal := NormalizeLocation(k.Terminal)
	berth := NormalizeLocation(k.BerthID)
	if terminal == "" || berth == "" {
		return "", fmt.Errorf("%w: terminal and berth are required", ErrAmbiguousIdentity)
	}

	if imo, ok := NormalizeIMO(k.IMO); ok {
		if voyage := NormalizeLocation(k.VoyageIn); voyage != "" {
			return prefixIMO + hash(imo, terminal, berth, voyage), nil
		}
	}

	name := NormalizeName(k.VesselName)
	if name == "" {
		return "", fmt.Errorf("%w: no usable imo/voyage and no vessel name", ErrAmbiguousIdentity)
	}
	if k.FirstEvent.IsZero() {
		return "", fmt.Errorf("%w: vessel %q has no dated event", ErrAmbiguousIdentity, name)
	}
	loc := k.Loc
	if loc == nil {
		loc = time.UTC
	}
	day := k.FirstEvent.In(loc).Format(time.DateOnly)
	return prefixName + hash(day, name, terminal, berth), nil
}

// IsIMOKey reports whether id was derived from an IMO number.
func IsIMOKey(id string) bool { return strings.HasPrefix(id, prefixIMO) }

func hash(parts ...string) string {
	return fmt.Sprintf("%016x", xxh3.HashString(strings.Join(parts, sep)))
}

var nameFolder = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
	cases.Fold(),
)

// NormalizeName case-folds a vessel name, drops diacritics and punctuation
// and collapses whitespace, so "Log-In  Discovery" and "LOG IN DISCOVERY"
// compare equal.
func NormalizeName(raw string) string {
	folded, _, err := transform.String(nameFolder, raw)
	if err != nil {
		folded = strings.ToLower(raw)
	}
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// NormalizeLocation canonicalises terminal, berth and voyage codes.
func NormalizeLocation(raw string) string {
	return strings.ToUpper(strings.Join(strings.Fields(raw), " "))
}

// NormalizeIMO extracts a seven digit IMO number and validates its check
// digit. "IMO 9321483" and "9321483" are equivalent.
func NormalizeIMO(raw string) (string, bool) {
	var digits []byte
	for i := 0; i < len(raw); i++ {
		if raw[i] >= '0' && raw[i] <= '9' {
			digits = append(digits, raw[i])
		}
	}
	if len(digits) != 7 {
		return "", false
	}
	sum := 0
	for i := 0; i < 6; i++ {
		sum += int(digits[i]-'0') * (7 - i)
	}
	if sum%10 != int(digits[6]-'0') {
		return "", false
	}
	return string(digits), true
}
