package normalize

import "strings"

// tradeRule maps a description keyword to a trade tag. Rules are evaluated
// in order; the first match sets the permit's primary work type.
type tradeRule struct {
	keyword string
	tag     string
}

// tradeRules is the fixed, ordered keyword table. More specific keywords
// come before generic ones (e.g. "reroof" before "roof" is unnecessary
// because both map to roofing, but "water heater" must precede "heat").
var tradeRules = []tradeRule{
	{"roof", "roofing"},
	{"shingle", "roofing"},
	{"kitchen", "kitchen_remodel"},
	{"bath", "bathroom_remodel"},
	{"water heater", "plumbing"},
	{"hvac", "hvac"},
	{"air condition", "hvac"},
	{"a/c", "hvac"},
	{"furnace", "hvac"},
	{"heat", "hvac"},
	{"solar", "solar"},
	{"electric", "electrical"},
	{"panel upgrade", "electrical"},
	{"plumb", "plumbing"},
	{"sewer", "plumbing"},
	{"gas line", "plumbing"},
	{"pool", "pool_spa"},
	{"spa", "pool_spa"},
	{"fence", "fencing"},
	{"deck", "deck_patio"},
	{"patio", "deck_patio"},
	{"window", "windows_doors"},
	{"door", "windows_doors"},
	{"siding", "siding"},
	{"foundation", "foundation"},
	{"demolition", "demolition"},
	{"demo ", "demolition"},
	{"remodel", "general_remodel"},
	{"addition", "general_remodel"},
	{"renovation", "general_remodel"},
}

// DefaultWorkType is the fallback category when no keyword rule matches.
const DefaultWorkType = "general"

// DeriveTrade matches the given description/category texts against the
// keyword table. The primary work type is the first rule hit; tags collect
// every distinct rule hit in table order, so output is deterministic.
func DeriveTrade(texts ...string) (workType string, tags []string) {
	var haystack strings.Builder
	for _, t := range texts {
		haystack.WriteString(strings.ToLower(t))
		haystack.WriteByte(' ')
	}
	corpus := haystack.String()

	seen := make(map[string]bool)
	for _, rule := range tradeRules {
		if !strings.Contains(corpus, rule.keyword) {
			continue
		}
		if workType == "" {
			workType = rule.tag
		}
		if !seen[rule.tag] {
			seen[rule.tag] = true
			tags = append(tags, rule.tag)
		}
	}

	if workType == "" {
		workType = DefaultWorkType
	}
	return workType, tags
}
