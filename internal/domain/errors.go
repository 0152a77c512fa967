package domain

import "errors"

// Failure classes of a run. Each maps to a distinct process exit code so cron
// wrappers can tell "got no bytes" from "got the wrong bytes".
var (
	ErrCatalogUnavailable = errors.New("catalog unavailable")
	ErrDownloadFailed     = errors.New("download failed")
	ErrChecksumMismatch   = errors.New("checksum mismatch")
	ErrSplitterFailed     = errors.New("splitter failed")
	ErrPublishFailed      = errors.New("publish failed")
)

// Process exit codes.
const (
	ExitOK                 = 0
	ExitCatalogUnavailable = 1
	ExitChecksumMismatch   = 2
	ExitDownloadFailed     = 3
	ExitSplitterFailed     = 4
	ExitPublishFailed      = 5
	ExitInternal           = 6
)

var exitCodes = []struct {
	err  error
	code int
}{
	{ErrCatalogUnavailable, ExitCatalogUnavailable},
	{ErrChecksumMismatch, ExitChecksumMismatch},
	{ErrDownloadFailed, ExitDownloadFailed},
	{ErrSplitterFailed, ExitSplitterFailed},
	{ErrPublishFailed, ExitPublishFailed},
}

// ExitCode returns the process exit code for err. A nil error is success.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	for _, ec := range exitCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return ExitInternal
}
