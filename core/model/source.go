package model

import "strings"

// Category labels the origin of a raw record. It decides merge precedence
// and which timestamp sub-fields the record may populate.
type Category string

const (
	SourceExpected  Category = "esperados"
	SourceScheduled Category = "programadas"
	SourceAnchored  Category = "fundeados"
	SourceBerthed   Category = "atracados"
)

var categoryAliases = map[string]Category{
	"esperados":   SourceExpected,
	"expected":    SourceExpected,
	"programadas": SourceScheduled,
	"scheduled":   SourceScheduled,
	"fundeados":   SourceAnchored,
	"anchored":    SourceAnchored,
	"atracados":   SourceBerthed,
	"berthed":     SourceBerthed,
}

func ParseCategory(raw string) (Category, bool) {
	c, ok := categoryAliases[strings.ToLower(strings.TrimSpace(raw))]
	return c, ok
}

// Rank orders categories by merge precedence; higher wins ties on
// registered and estimated values. Unknown categories rank zero.
func (c Category) Rank() int {
	switch c {
	case SourceExpected:
		return 1
	case SourceScheduled:
		return 2
	case SourceAnchored:
		return 3
	case SourceBerthed:
		return 4
	default:
		return 0
	}
}

// AuthoritativeActual reports whether the category may correct an occurred
// value or set any status.
func (c Category) AuthoritativeActual() bool {
	return c == SourceBerthed
}

func (c Category) Valid() bool { return c.Rank() > 0 }

func AllCategories() []Category {
	return []Category{SourceExpected, SourceScheduled, SourceAnchored, SourceBerthed}
}
