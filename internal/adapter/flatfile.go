package adapter

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jtheoc80/permit-leads/internal/fetcher"
	"github.com/jtheoc80/permit-leads/internal/model"
)

// FlatFileAdapter downloads a single CSV or XLSX document over HTTP or FTP
// and yields every row. since is deliberately ignored: the document has no
// server-side filter, so date filtering happens in the normalizer and the
// idempotent upsert absorbs the re-delivered rows.
type FlatFileAdapter struct {
	cfg  model.SourceConfig
	deps Deps
}

func (f *FlatFileAdapter) Source() string { return f.cfg.Name }

// FetchSince downloads the document once and streams its rows as raw
// records keyed by the header row.
func (f *FlatFileAdapter) FetchSince(ctx context.Context, _ time.Time, _ int) (<-chan model.RawRecord, <-chan error) {
	recCh := make(chan model.RawRecord, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(recCh)
		defer close(errCh)

		log := zap.L().With(zap.String("source", f.cfg.Name), zap.String("adapter", "flat-file"))

		path, err := f.download(ctx)
		if err != nil {
			errCh <- err
			return
		}
		defer os.Remove(path) //nolint:errcheck

		switch f.cfg.Format {
		case model.FormatXLSX:
			err = f.streamXLSX(ctx, path, recCh)
		default:
			err = f.streamCSV(ctx, path, recCh)
		}
		if err != nil {
			errCh <- err
			return
		}

		log.Debug("flat file complete")
	}()

	return recCh, errCh
}

func (f *FlatFileAdapter) download(ctx context.Context) (string, error) {
	if err := os.MkdirAll(f.deps.TempDir, 0o755); err != nil {
		return "", eris.Wrap(err, "flat file: create temp dir")
	}
	path := filepath.Join(f.deps.TempDir, fmt.Sprintf("%s.%s", f.cfg.Name, f.cfg.Format))

	u, err := url.Parse(f.cfg.URL)
	if err != nil {
		return "", eris.Wrapf(err, "flat file: parse url for %s", f.cfg.Name)
	}

	if u.Scheme == "ftp" {
		if f.deps.FTP == nil {
			return "", eris.Errorf("flat file: %s needs an ftp fetcher", f.cfg.Name)
		}
		if _, err := f.deps.FTP.DownloadToFile(ctx, f.cfg.URL, path); err != nil {
			return "", eris.Wrapf(err, "flat file: ftp download for %s", f.cfg.Name)
		}
		return path, nil
	}

	if _, err := f.deps.HTTP.DownloadToFile(ctx, f.cfg.Name, f.cfg.URL, path); err != nil {
		return "", eris.Wrapf(err, "flat file: download for %s", f.cfg.Name)
	}
	return path, nil
}

func (f *FlatFileAdapter) streamCSV(ctx context.Context, path string, recCh chan<- model.RawRecord) error {
	file, err := os.Open(path)
	if err != nil {
		return eris.Wrap(err, "flat file: open csv")
	}
	defer file.Close() //nolint:errcheck

	headerCh := make(chan []string, 1)
	rowCh, csvErrCh := fetcher.StreamCSV(ctx, file, fetcher.CSVOptions{
		HasHeader:  true,
		HeaderCh:   headerCh,
		LazyQuotes: true,
		TrimSpace:  true,
		SkipRows:   f.cfg.SkipRows,
	})

	var header []string
	fetchedAt := f.deps.Clock.Now().UTC()
	for row := range rowCh {
		if header == nil {
			select {
			case header = <-headerCh:
			default:
				return eris.Errorf("flat file: %s csv missing header row", f.cfg.Name)
			}
		}
		select {
		case recCh <- rowRecord(f.cfg.Name, fetchedAt, header, row):
		case <-ctx.Done():
			return eris.Wrap(ctx.Err(), "flat file: cancelled")
		}
	}

	if err := <-csvErrCh; err != nil {
		return eris.Wrapf(err, "flat file: parse csv for %s", f.cfg.Name)
	}
	return nil
}

func (f *FlatFileAdapter) streamXLSX(ctx context.Context, path string, recCh chan<- model.RawRecord) error {
	header, rows, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{
		SheetName: f.cfg.SheetName,
		SkipRows:  f.cfg.SkipRows,
	})
	if err != nil {
		return eris.Wrapf(err, "flat file: parse xlsx for %s", f.cfg.Name)
	}

	fetchedAt := f.deps.Clock.Now().UTC()
	for _, row := range rows {
		select {
		case recCh <- rowRecord(f.cfg.Name, fetchedAt, header, row):
		case <-ctx.Done():
			return eris.Wrap(ctx.Err(), "flat file: cancelled")
		}
	}
	return nil
}

// rowRecord zips a header and a data row into a raw record. Header names
// are lower-cased so alias tables don't chase spreadsheet capitalization.
func rowRecord(source string, fetchedAt time.Time, header, row []string) model.RawRecord {
	fields := make(map[string]any, len(header))
	for i, col := range header {
		if col == "" {
			continue
		}
		var v string
		if i < len(row) {
			v = row[i]
		}
		fields[strings.ToLower(strings.TrimSpace(col))] = v
	}
	return model.RawRecord{Source: source, FetchedAt: fetchedAt, Fields: fields}
}
