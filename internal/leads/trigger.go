// Package leads derives contactable opportunities from upserted permits.
package leads

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jtheoc80/permit-leads/internal/model"
	"github.com/jtheoc80/permit-leads/internal/store"
)

// DefaultService is the catch-all service category when a permit's work
// type maps to nothing more specific.
const DefaultService = "Home Services"

// Scorer persists a fresh score for a lead.
type Scorer interface {
	ScoreLead(ctx context.Context, lead *model.Lead, p *model.Permit) error
}

// Trigger creates at most one lead per canonical permit id.
type Trigger struct {
	store  store.Store
	scorer Scorer
	titler cases.Caser

	// categories maps source name to its configured category_fields list.
	categories map[string][]string
}

// NewTrigger builds a lead trigger. scorer may be nil for ingest-only runs;
// sources supplies the per-source category field lists echoed into lead
// metadata.
func NewTrigger(st store.Store, scorer Scorer, sources []model.SourceConfig) *Trigger {
	categories := make(map[string][]string, len(sources))
	for _, s := range sources {
		if len(s.CategoryFields) > 0 {
			categories[s.Name] = s.CategoryFields
		}
	}
	return &Trigger{
		store:      st,
		scorer:     scorer,
		titler:     cases.Title(language.AmericanEnglish),
		categories: categories,
	}
}

// MaybeCreateLead creates a lead for the permit unless one already exists
// for its canonical id. The insert races safely: the unique index on
// external_permit_id makes the second writer a no-op.
func (t *Trigger) MaybeCreateLead(ctx context.Context, p *model.Permit) (*model.Lead, bool, error) {
	existing, err := t.store.GetLeadByPermitID(ctx, p.CanonicalPermitID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	lead := t.buildLead(p)
	created, err := t.store.CreateLead(ctx, lead)
	if err != nil {
		return nil, false, err
	}
	if !created {
		// Lost the race to a concurrent writer; fetch what won.
		existing, err := t.store.GetLeadByPermitID(ctx, p.CanonicalPermitID)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, eris.Errorf("leads: lead for permit %s vanished after conflict", p.CanonicalPermitID)
		}
		return existing, false, nil
	}

	zap.L().Debug("lead created",
		zap.String("lead_id", lead.ID),
		zap.String("permit_id", p.CanonicalPermitID),
		zap.String("lead_type", string(lead.LeadType)),
	)
	return lead, true, nil
}

// ScoreLead delegates to the configured scorer.
func (t *Trigger) ScoreLead(ctx context.Context, lead *model.Lead, p *model.Permit) error {
	if t.scorer == nil {
		return nil
	}
	return t.scorer.ScoreLead(ctx, lead, p)
}

// buildLead maps a permit into a new lead. Contact precedence: owner, then
// contractor, then applicant, then "Unknown".
func (t *Trigger) buildLead(p *model.Permit) *model.Lead {
	lead := &model.Lead{
		ExternalPermitID: p.CanonicalPermitID,
		Status:           model.LeadNew,
		Jurisdiction:     p.Jurisdiction,
		Source:           p.Source,
		Address:          p.Address,
		Value:            p.Valuation,
		IssuedAt:         p.EffectiveDate(),
	}

	switch {
	case p.OwnerName != "":
		lead.Name = t.titler.String(strings.ToLower(p.OwnerName))
		lead.LeadType = model.LeadOwner
	case p.ContractorName != "":
		lead.Name = t.titler.String(strings.ToLower(p.ContractorName))
		lead.LeadType = model.LeadContractor
	case p.ApplicantName != "":
		lead.Name = t.titler.String(strings.ToLower(p.ApplicantName))
		lead.LeadType = model.LeadUnknown
	default:
		lead.Name = "Unknown"
		lead.LeadType = model.LeadUnknown
	}

	lead.Service = serviceFor(p.WorkType)
	if len(p.TradeTags) > 0 {
		lead.Trade = p.TradeTags[0]
	}

	lead.Metadata = t.buildMetadata(p)
	return lead
}

// buildMetadata records provenance without clobbering raw payload keys the
// source already supplied. Sources declaring category_fields get exactly
// those payload keys echoed; otherwise a keyword heuristic picks the
// category/work-class style fields.
func (t *Trigger) buildMetadata(p *model.Permit) map[string]any {
	meta := map[string]any{
		"source":              p.Source,
		"jurisdiction":        p.Jurisdiction,
		"canonical_permit_id": p.CanonicalPermitID,
		"source_record_id":    p.SourceRecordID,
	}
	if p.WorkType != "" {
		meta["work_type"] = p.WorkType
	}
	if len(p.TradeTags) > 0 {
		meta["trade_tags"] = p.TradeTags
	}

	if fields, ok := t.categories[p.Source]; ok {
		for _, k := range fields {
			if _, taken := meta[k]; taken {
				continue
			}
			if v, present := p.RawPayload[k]; present {
				meta[k] = v
			}
		}
		return meta
	}

	for k, v := range p.RawPayload {
		if _, taken := meta[k]; taken {
			continue
		}
		if isCategoryKey(k) {
			meta[k] = v
		}
	}
	return meta
}

// isCategoryKey keeps only the original category/work-class style fields in
// metadata instead of echoing the entire payload.
func isCategoryKey(k string) bool {
	k = strings.ToLower(k)
	return strings.Contains(k, "category") ||
		strings.Contains(k, "class") ||
		strings.Contains(k, "type")
}

// serviceFor maps a derived work type onto a customer-facing service line.
func serviceFor(workType string) string {
	switch workType {
	case "roofing":
		return "Roofing"
	case "hvac":
		return "HVAC"
	case "plumbing":
		return "Plumbing"
	case "electrical":
		return "Electrical"
	case "solar":
		return "Solar"
	case "pool_spa":
		return "Pool & Spa"
	case "kitchen_remodel", "bathroom_remodel":
		return "Remodeling"
	case "windows_doors":
		return "Windows & Doors"
	default:
		return DefaultService
	}
}
