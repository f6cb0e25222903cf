package identity

import (
	"sort"

	"github.com/agnivade/levenshtein"
)

// NamePair is two normalized vessel names that are probably the same ship
// spelled differently by two sources.
type NamePair struct {
	A        string `json:"a"`
	B        string `json:"b"`
	Distance int    `json:"distance"`
}

// NearDuplicates compares every distinct normalized name against the others
// and returns pairs whose edit distance is within maxDistance. Names that
// already normalize to the same string are not reported since they share a
// key.
func NearDuplicates(names []string, maxDistance int) []NamePair {
	if maxDistance <= 0 {
		return []NamePair{}
	}
	seen := make(map[string]struct{}, len(names))
	uniq := make([]string, 0, len(names))
	for _, raw := range names {
		n := NormalizeName(raw)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		uniq = append(uniq, n)
	}
	sort.Strings(uniq)

	pairs := make([]NamePair, 0)
	for i := 0; i < len(uniq); i++ {
		for j := i + 1; j < len(uniq); j++ {
			if abs(len(uniq[i])-len(uniq[j])) > maxDistance {
				continue
			}
			d := levenshtein.ComputeDistance(uniq[i], uniq[j])
			if d <= maxDistance {
				pairs = append(pairs, NamePair{A: uniq[i], B: uniq[j], Distance: d})
			}
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].Distance != pairs[j].Distance {
			return pairs[i].Distance < pairs[j].Distance
		}
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})
	return pairs
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
