package normalize

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jtheoc80/permit-leads/internal/model"
)

// RecordHash fingerprints the normalized field set so unchanged rows can be
// detected without comparing column by column. The hash covers canonical
// fields only — never raw payload or timestamps — and marshals a fixed
// struct so key order is stable across runs.
func RecordHash(p *model.Permit) string {
	type hashFields struct {
		Source            string     `json:"source"`
		SourceRecordID    string     `json:"source_record_id"`
		CanonicalPermitID string     `json:"canonical_permit_id"`
		IssuedAt          *time.Time `json:"issued_at"`
		AppliedAt         *time.Time `json:"applied_at"`
		Address           string     `json:"address"`
		Jurisdiction      string     `json:"jurisdiction"`
		Status            string     `json:"status"`
		Description       string     `json:"description"`
		WorkType          string     `json:"work_type"`
		TradeTags         []string   `json:"trade_tags"`
		Valuation         *float64   `json:"valuation"`
		Latitude          *float64   `json:"latitude"`
		Longitude         *float64   `json:"longitude"`
		ApplicantName     string     `json:"applicant_name"`
		OwnerName         string     `json:"owner_name"`
		ContractorName    string     `json:"contractor_name"`
		YearBuilt         int        `json:"year_built"`
	}

	data, err := json.Marshal(hashFields{
		Source:            p.Source,
		SourceRecordID:    p.SourceRecordID,
		CanonicalPermitID: p.CanonicalPermitID,
		IssuedAt:          p.IssuedAt,
		AppliedAt:         p.AppliedAt,
		Address:           p.Address,
		Jurisdiction:      p.Jurisdiction,
		Status:            p.Status,
		Description:       p.Description,
		WorkType:          p.WorkType,
		TradeTags:         p.TradeTags,
		Valuation:         p.Valuation,
		Latitude:          p.Latitude,
		Longitude:         p.Longitude,
		ApplicantName:     p.ApplicantName,
		OwnerName:         p.OwnerName,
		ContractorName:    p.ContractorName,
		YearBuilt:         p.YearBuilt,
	})
	if err != nil {
		// Marshal of plain scalars cannot fail; keep the signature simple.
		return ""
	}

	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h)
}
