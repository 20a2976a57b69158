// Package scorer computes deterministic 0-100 opportunity scores for leads.
package scorer

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jtheoc80/permit-leads/internal/config"
	"github.com/jtheoc80/permit-leads/internal/model"
)

// Inputs are the scoring inputs for one lead. Now is explicit so identical
// inputs always produce identical output.
type Inputs struct {
	Now       time.Time
	IssuedAt  *time.Time
	TradeTags []string
	Value     *float64
	YearBuilt int
	LeadType  model.LeadType
}

// Component is one weighted scoring rule's contribution.
type Component struct {
	Name   string  `json:"name"`
	Raw    float64 `json:"raw"`
	Weight float64 `json:"weight"`
	Points float64 `json:"points"`
	Detail string  `json:"detail,omitempty"`
}

// Result is a completed scoring pass.
type Result struct {
	Score      int         `json:"score"`
	Components []Component `json:"components"`
	// Reasons lists every component that contributed points, descending by
	// contribution. Callers assert on this ordering.
	Reasons []string `json:"reasons"`
}

const (
	recencyCap     = 25.0
	tradeCap       = 25.0
	valueCap       = 25.0
	propertyAgeCap = 15.0
	ownerTypeCap   = 10.0
)

// Score computes the weighted score for one lead. Each component's raw
// points are capped, multiplied by its configured weight, summed, and the
// total clamped to [0,100].
func Score(in Inputs, cfg config.ScoringConfig) Result {
	components := []Component{
		scoreRecency(in, cfg),
		scoreTrade(in, cfg),
		scoreValue(in, cfg),
		scorePropertyAge(in, cfg),
		scoreOwnerType(in, cfg),
	}

	var total float64
	for _, c := range components {
		total += c.Points
	}
	score := int(math.Round(math.Min(100, math.Max(0, total))))

	// Contributors ordered by points descending, name ascending on ties, so
	// the reasons list is stable across runs.
	contributors := make([]Component, 0, len(components))
	for _, c := range components {
		if c.Points > 0 {
			contributors = append(contributors, c)
		}
	}
	sort.SliceStable(contributors, func(i, j int) bool {
		if contributors[i].Points != contributors[j].Points {
			return contributors[i].Points > contributors[j].Points
		}
		return contributors[i].Name < contributors[j].Name
	})

	reasons := make([]string, 0, len(contributors))
	for _, c := range contributors {
		reasons = append(reasons, fmt.Sprintf("%s: +%s points", c.Detail, trimFloat(c.Points)))
	}

	return Result{Score: score, Components: components, Reasons: reasons}
}

// scoreRecency decays linearly from the full cap at age zero to nothing at
// the configured age ceiling.
func scoreRecency(in Inputs, cfg config.ScoringConfig) Component {
	c := Component{Name: "recency", Weight: cfg.RecencyWeight, Detail: "recent permit activity"}
	if in.IssuedAt == nil {
		return c
	}

	maxAge := float64(cfg.RecencyMaxAgeDays)
	if maxAge <= 0 {
		maxAge = 180
	}
	ageDays := in.Now.Sub(*in.IssuedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	if ageDays >= maxAge {
		return c
	}

	c.Raw = recencyCap * (1 - ageDays/maxAge)
	c.Points = c.Raw * c.Weight
	c.Detail = fmt.Sprintf("permit issued %d days ago", int(ageDays))
	return c
}

// scoreTrade takes the best match among the lead's trade tags against the
// configured high-value trade table.
func scoreTrade(in Inputs, cfg config.ScoringConfig) Component {
	c := Component{Name: "trade", Weight: cfg.TradeWeight, Detail: "trade match"}
	var best float64
	var bestTag string
	for _, tag := range in.TradeTags {
		if pts, ok := cfg.HighValueTrades[tag]; ok && pts > best {
			best = pts
			bestTag = tag
		}
	}
	if best == 0 {
		return c
	}
	c.Raw = math.Min(best, tradeCap)
	c.Points = c.Raw * c.Weight
	c.Detail = fmt.Sprintf("high-value trade (%s)", bestTag)
	return c
}

// scoreValue is a monotonic bucketed function of declared project value.
func scoreValue(in Inputs, cfg config.ScoringConfig) Component {
	c := Component{Name: "value", Weight: cfg.ValueWeight, Detail: "project value"}
	if in.Value == nil || *in.Value <= 0 {
		return c
	}

	v := *in.Value
	switch {
	case v >= 100_000:
		c.Raw = valueCap
	case v >= 50_000:
		c.Raw = 20
	case v >= 25_000:
		c.Raw = 15
	case v >= 10_000:
		c.Raw = 10
	case v >= 5_000:
		c.Raw = 6
	default:
		c.Raw = 3
	}
	c.Points = c.Raw * c.Weight
	c.Detail = fmt.Sprintf("project value $%.0f", v)
	return c
}

// scorePropertyAge rewards older structures, which need more work.
func scorePropertyAge(in Inputs, cfg config.ScoringConfig) Component {
	c := Component{Name: "property_age", Weight: cfg.PropertyAgeWeight, Detail: "property age"}
	if in.YearBuilt <= 0 {
		return c
	}
	age := in.Now.Year() - in.YearBuilt
	switch {
	case age >= 40:
		c.Raw = propertyAgeCap
	case age >= 25:
		c.Raw = 11
	case age >= 15:
		c.Raw = 7
	case age >= 5:
		c.Raw = 4
	default:
		return c
	}
	c.Points = c.Raw * c.Weight
	c.Detail = fmt.Sprintf("property is %d years old", age)
	return c
}

// scoreOwnerType prefers leads whose contact is the property owner.
func scoreOwnerType(in Inputs, cfg config.ScoringConfig) Component {
	c := Component{Name: "owner_type", Weight: cfg.OwnerTypeWeight, Detail: "contact type"}
	switch in.LeadType {
	case model.LeadOwner:
		c.Raw = ownerTypeCap
		c.Detail = "owner contact available"
	case model.LeadContractor:
		c.Raw = 5
		c.Detail = "contractor contact available"
	default:
		return c
	}
	c.Points = c.Raw * c.Weight
	return c
}

// Label maps a score onto the configured hot/warm/cool bands.
func Label(score int, cfg config.ScoringConfig) string {
	switch {
	case score >= cfg.HotThreshold:
		return "hot"
	case score >= cfg.WarmThreshold:
		return "warm"
	default:
		return "cool"
	}
}

// trimFloat renders a point value without a trailing ".0".
func trimFloat(f float64) string {
	if f == math.Trunc(f) {
		return fmt.Sprintf("%.0f", f)
	}
	return fmt.Sprintf("%.1f", f)
}
