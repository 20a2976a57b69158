package scorer

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtheoc80/permit-leads/internal/model"
	"github.com/jtheoc80/permit-leads/internal/store"
)

// scoreStore fakes the store methods the scoring service touches.
type scoreStore struct {
	store.Store
	permits  map[string]*model.Permit
	leads    []model.Lead
	scores   []model.LeadScore
	versions map[string]int
	updated  map[string]int
}

func newScoreStore() *scoreStore {
	return &scoreStore{
		permits:  make(map[string]*model.Permit),
		versions: make(map[string]int),
		updated:  make(map[string]int),
	}
}

func (s *scoreStore) GetPermit(_ context.Context, source, recordID string) (*model.Permit, error) {
	return s.permits[source+"|"+recordID], nil
}

func (s *scoreStore) ListLeads(_ context.Context, filter store.LeadFilter) ([]model.Lead, error) {
	if filter.Offset >= len(s.leads) {
		return nil, nil
	}
	end := filter.Offset + filter.Limit
	if end > len(s.leads) {
		end = len(s.leads)
	}
	return s.leads[filter.Offset:end], nil
}

func (s *scoreStore) InsertLeadScore(_ context.Context, sc *model.LeadScore) error {
	s.scores = append(s.scores, *sc)
	return nil
}

func (s *scoreStore) NextScoreVersion(_ context.Context, leadID string) (int, error) {
	s.versions[leadID]++
	return s.versions[leadID], nil
}

func (s *scoreStore) SetLeadScore(_ context.Context, leadID string, score int, _ string) error {
	s.updated[leadID] = score
	return nil
}

func TestScoreLead_PersistsVersionedScore(t *testing.T) {
	st := newScoreStore()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC))
	svc := NewService(st, testScoringConfig(), clock)

	issued := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	value := 45000.0
	lead := &model.Lead{ID: "lead-1", LeadType: model.LeadOwner, Value: &value, IssuedAt: &issued}
	permit := &model.Permit{TradeTags: []string{"roofing"}, YearBuilt: 1985}

	require.NoError(t, svc.ScoreLead(context.Background(), lead, permit))

	require.Len(t, st.scores, 1)
	row := st.scores[0]
	assert.Equal(t, "lead-1", row.LeadID)
	assert.Equal(t, 1, row.Version)
	assert.Equal(t, 100, row.Score)
	assert.Equal(t, "hot", row.Label)
	assert.NotEmpty(t, row.Reasons)
	assert.Equal(t, svc.hash, row.ConfigHash)

	assert.Equal(t, 100, st.updated["lead-1"], "denormalized lead score column updated")
	assert.Equal(t, 100, lead.LeadScore)
	assert.Equal(t, "hot", lead.ScoreLabel)

	// Scoring again appends a new version; history is never overwritten.
	require.NoError(t, svc.ScoreLead(context.Background(), lead, permit))
	require.Len(t, st.scores, 2)
	assert.Equal(t, 2, st.scores[1].Version)
}

func TestScoreLead_FallsBackToLeadTrade(t *testing.T) {
	st := newScoreStore()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC))
	svc := NewService(st, testScoringConfig(), clock)

	lead := &model.Lead{ID: "lead-1", Trade: "hvac"}
	require.NoError(t, svc.ScoreLead(context.Background(), lead, nil))

	require.Len(t, st.scores, 1)
	assert.Greater(t, st.scores[0].Score, 0, "lead trade alone still contributes")
}

func TestRescore_PagesThroughAllLeads(t *testing.T) {
	st := newScoreStore()
	for i := 0; i < 3; i++ {
		st.leads = append(st.leads, model.Lead{
			ID:       string(rune('a' + i)),
			Trade:    "roofing",
			Source:   "austin-issued-permits",
			Metadata: map[string]any{"source_record_id": "rec"},
		})
	}
	st.permits["austin-issued-permits|rec"] = &model.Permit{TradeTags: []string{"roofing"}, YearBuilt: 1970}

	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC))
	svc := NewService(st, testScoringConfig(), clock)

	scored, err := svc.Rescore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, scored)
	assert.Len(t, st.scores, 3)
}
