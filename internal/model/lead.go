package model

import "time"

// LeadType records which contact the lead name resolved from.
type LeadType string

const (
	LeadOwner      LeadType = "owner"
	LeadContractor LeadType = "contractor"
	LeadUnknown    LeadType = "unknown"
)

// LeadStatus is the sales lifecycle state of a lead.
type LeadStatus string

const (
	LeadNew       LeadStatus = "new"
	LeadQualified LeadStatus = "qualified"
	LeadContacted LeadStatus = "contacted"
	LeadWon       LeadStatus = "won"
	LeadLost      LeadStatus = "lost"
)

// Lead is a contactable opportunity derived from exactly one permit.
// ExternalPermitID equals the permit's canonical id and is unique across
// all leads, which is what makes re-ingestion idempotent.
type Lead struct {
	ID               string         `json:"id"`
	ExternalPermitID string         `json:"external_permit_id"`
	Name             string         `json:"name"`
	LeadType         LeadType       `json:"lead_type"`
	Service          string         `json:"service"`
	Trade            string         `json:"trade"`
	Value            *float64       `json:"value,omitempty"`
	Status           LeadStatus     `json:"status"`
	Jurisdiction     string         `json:"jurisdiction,omitempty"`
	Source           string         `json:"source"`
	Address          string         `json:"address,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	LeadScore        int            `json:"lead_score"`
	ScoreLabel       string         `json:"score_label,omitempty"`
	IssuedAt         *time.Time     `json:"issued_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// LeadScore is one versioned scoring pass for a lead. Historical versions
// are retained, never overwritten.
type LeadScore struct {
	ID         int64     `json:"id"`
	LeadID     string    `json:"lead_id"`
	Version    int       `json:"version"`
	Score      int       `json:"score"`
	Label      string    `json:"label"`
	Reasons    []string  `json:"reasons"`
	ConfigHash string    `json:"config_hash,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
