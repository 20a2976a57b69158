package fetcher

import (
	"context"
	"io"
	"net/http"
)

// Fetcher defines the interface for pulling remote data on behalf of a source.
type Fetcher interface {
	// Get issues a GET for the URL with optional extra headers and returns
	// the response body. The source name selects the rate limiter and tags
	// error classification.
	Get(ctx context.Context, source, rawURL string, header http.Header) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to path. Returns bytes written.
	DownloadToFile(ctx context.Context, source, rawURL, path string) (int64, error)
}
