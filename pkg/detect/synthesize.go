package detect

import (
	"sort"
	"strings"

	"github.com/sloppylopez/stablemock/pkg/fieldpath"
)

// Synthesize emits one rule per field at or above minConfidence. The result is
// deduplicated and sorted, so identical input always yields identical output.
func Synthesize(fields []VaryingField, minConfidence Confidence) []Rule {
	rules := make([]Rule, 0, len(fields))
	for _, f := range fields {
		if f.Confidence < minConfidence {
			continue
		}
		rules = append(rules, Rule{Dialect: f.Dialect, Path: f.Path})
	}
	return Normalize(rules)
}

// Analyze runs Compare, classification and Synthesize over the samples of one
// endpoint.
func Analyze(c *Classifier, endpoint string, samples []fieldpath.Sample, minConfidence Confidence) ([]VaryingField, []Rule) {
	fields := c.Fields(endpoint, Compare(samples))
	return fields, Synthesize(fields, minConfidence)
}

// EquivalentGroups groups endpoints whose non-empty rule sets are identical.
// Only groups of two or more endpoints are returned; endpoints inside a group
// and the groups themselves are sorted.
func EquivalentGroups(byEndpoint map[string][]Rule) [][]string {
	buckets := make(map[string][]string)
	for endpoint, rules := range byEndpoint {
		norm := Normalize(rules)
		if len(norm) == 0 {
			continue
		}
		sig := strings.Join(RuleStrings(norm), "\n")
		buckets[sig] = append(buckets[sig], endpoint)
	}

	var groups [][]string
	for _, endpoints := range buckets {
		if len(endpoints) < 2 {
			continue
		}
		sort.Strings(endpoints)
		groups = append(groups, endpoints)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })
	return groups
}
