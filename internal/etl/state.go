package etl

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/jtheoc80/permit-leads/internal/model"
	"github.com/jtheoc80/permit-leads/internal/store"
)

// FetchWindow computes the since boundary for one source run. A source that
// has never committed gets its configured lookback window; otherwise the
// stored watermark minus the overlap buffer, so records that landed at the
// boundary of the previous run are re-fetched and absorbed by the idempotent
// upsert.
func FetchWindow(ctx context.Context, st store.Store, cfg model.SourceConfig, now time.Time) (time.Time, error) {
	last, err := st.LastRun(ctx, cfg.Name)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "etl: read watermark for %s", cfg.Name)
	}
	if last == nil {
		return now.Add(-cfg.Lookback.Std()), nil
	}
	return last.Add(-cfg.OverlapBuffer.Std()), nil
}
