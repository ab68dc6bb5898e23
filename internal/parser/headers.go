package parser

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// similarity is a normalized edit-distance ratio in [0,1]; 1 means equal.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len([]rune(a)), len([]rune(b))
	max := la
	if lb > max {
		max = lb
	}
	if max == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(max)
}

// ResolveHeaderMap maps each canonical column name to its cell index in a
// header row. Exact alias matches win; a fuzzy pass catches extraction
// damage but only above minSim. Canonical names with no hit come back in
// missing.
func ResolveHeaderMap(cells []string, aliases map[string][]string, required []string, minSim float64) (map[string]int, []string) {
	normCells := make([]string, len(cells))
	for i, c := range cells {
		normCells[i] = foldLower(c)
	}
	taken := make([]bool, len(cells))
	out := map[string]int{}

	resolve := func(canonical string, fuzzy bool) bool {
		for _, alias := range append([]string{canonical}, aliases[canonical]...) {
			na := foldLower(alias)
			for i, nc := range normCells {
				if taken[i] {
					continue
				}
				if nc == na || strings.Contains(nc, na) {
					out[canonical] = i
					taken[i] = true
					return true
				}
				if fuzzy && similarity(nc, na) >= minSim {
					out[canonical] = i
					taken[i] = true
					return true
				}
			}
		}
		return false
	}

	var missing []string
	for _, canonical := range required {
		if resolve(canonical, false) {
			continue
		}
		if resolve(canonical, true) {
			continue
		}
		missing = append(missing, canonical)
	}
	return out, missing
}
