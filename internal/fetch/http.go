package fetch

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cavaliergopher/grab/v3"
	"github.com/rs/zerolog"

	"github.com/andresuchdata/history-extracts/pkg/logger"
)

const partSuffix = ".part"

// HTTPFetcher downloads over plain HTTP with grab. Partial downloads are kept
// as <name>.part and grab resumes them with a Range request on the next
// attempt when the server accepts ranges.
type HTTPFetcher struct {
	client  *grab.Client
	baseURL string
	log     zerolog.Logger
}

// NewHTTPFetcher fetches from baseURL. A nil client means http.DefaultClient;
// snapshot downloads run for hours so no client timeout is set here.
func NewHTTPFetcher(client *http.Client, baseURL string) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	gc := grab.NewClient()
	gc.HTTPClient = client
	gc.UserAgent = "history-extracts/1.0"
	return &HTTPFetcher{
		client:  gc,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		log:     logger.With("fetch"),
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, name, destDir string) error {
	dest := filepath.Join(destDir, name)
	done, err := exists(dest)
	if err != nil {
		return err
	}
	if done {
		f.log.Info().Str("file", name).Msg("already present, not fetching")
		return nil
	}

	part := dest + partSuffix
	req, err := grab.NewRequest(part, f.baseURL+"/"+name)
	if err != nil {
		return fmt.Errorf("get %s: %w", name, err)
	}
	req = req.WithContext(ctx)

	resp := f.client.Do(req)
	if err := resp.Err(); err != nil {
		return fmt.Errorf("get %s: %w", name, err)
	}
	if resp.DidResume {
		f.log.Info().Str("file", name).Msg("resumed partial download")
	}

	if err := os.Rename(part, dest); err != nil {
		return fmt.Errorf("finalize %s: %w", name, err)
	}
	f.log.Info().Str("file", name).Int64("bytes", resp.Size()).Msg("download complete")
	return nil
}

var _ Fetcher = (*HTTPFetcher)(nil)
