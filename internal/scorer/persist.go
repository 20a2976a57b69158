package scorer

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jtheoc80/permit-leads/internal/config"
	"github.com/jtheoc80/permit-leads/internal/model"
	"github.com/jtheoc80/permit-leads/internal/store"
)

// Service scores leads and persists the versioned results.
type Service struct {
	store store.Store
	cfg   config.ScoringConfig
	clock clockwork.Clock
	hash  string
}

// NewService builds a scoring service. The config hash is computed once and
// stamped onto every score row it writes.
func NewService(st store.Store, cfg config.ScoringConfig, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{store: st, cfg: cfg, clock: clock, hash: ConfigHash(cfg)}
}

// ScoreLead computes a fresh score for the lead, appends a versioned score
// row, and updates the lead's denormalized score columns.
func (s *Service) ScoreLead(ctx context.Context, lead *model.Lead, p *model.Permit) error {
	in := Inputs{
		Now:      s.clock.Now().UTC(),
		IssuedAt: lead.IssuedAt,
		Value:    lead.Value,
		LeadType: lead.LeadType,
	}
	if p != nil {
		in.TradeTags = p.TradeTags
		in.YearBuilt = p.YearBuilt
		if in.IssuedAt == nil {
			in.IssuedAt = p.EffectiveDate()
		}
	} else if lead.Trade != "" {
		in.TradeTags = []string{lead.Trade}
	}

	result := Score(in, s.cfg)
	label := Label(result.Score, s.cfg)

	version, err := s.store.NextScoreVersion(ctx, lead.ID)
	if err != nil {
		return err
	}
	if err := s.store.InsertLeadScore(ctx, &model.LeadScore{
		LeadID:     lead.ID,
		Version:    version,
		Score:      result.Score,
		Label:      label,
		Reasons:    result.Reasons,
		ConfigHash: s.hash,
	}); err != nil {
		return err
	}
	if err := s.store.SetLeadScore(ctx, lead.ID, result.Score, label); err != nil {
		return err
	}

	lead.LeadScore = result.Score
	lead.ScoreLabel = label

	zap.L().Debug("lead scored",
		zap.String("lead_id", lead.ID),
		zap.Int("score", result.Score),
		zap.String("label", label),
		zap.Int("version", version),
	)
	return nil
}

// Rescore recomputes scores for every stored lead, in pages. Used after a
// scoring config change; each lead gets a new score version, history stays.
func (s *Service) Rescore(ctx context.Context) (int, error) {
	const pageSize = 500
	var scored int
	for offset := 0; ; offset += pageSize {
		leads, err := s.store.ListLeads(ctx, store.LeadFilter{Limit: pageSize, Offset: offset})
		if err != nil {
			return scored, eris.Wrap(err, "scorer: list leads for rescore")
		}
		if len(leads) == 0 {
			break
		}
		for i := range leads {
			lead := &leads[i]
			permit, err := s.permitForLead(ctx, lead)
			if err != nil {
				return scored, err
			}
			if err := s.ScoreLead(ctx, lead, permit); err != nil {
				return scored, err
			}
			scored++
		}
		if len(leads) < pageSize {
			break
		}
	}

	zap.L().Info("rescore complete", zap.Int("leads_scored", scored))
	return scored, nil
}

// permitForLead resolves the backing permit via the provenance the trigger
// stashed in lead metadata. A missing permit degrades to lead-only inputs.
func (s *Service) permitForLead(ctx context.Context, lead *model.Lead) (*model.Permit, error) {
	recordID, _ := lead.Metadata["source_record_id"].(string)
	if lead.Source == "" || recordID == "" {
		return nil, nil
	}
	return s.store.GetPermit(ctx, lead.Source, recordID)
}

// ConfigHash returns a SHA-256 hash of the scoring config for
// reproducibility.
func ConfigHash(cfg config.ScoringConfig) string {
	data, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:16])
}
