package fetch

import (
	"errors"
	"fmt"
)

// DownloadError reports a failed archive download. Its message is meant for
// people; the transport error, when there is one, is kept for Unwrap.
type DownloadError struct {
	URL        string
	StatusCode int
	Message    string
	Err        error
}

func (e *DownloadError) Error() string {
	return e.Message
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// IsDownloadError reports whether err is or wraps a *DownloadError.
func IsDownloadError(err error) bool {
	var de *DownloadError
	return errors.As(err, &de)
}

func statusError(url string, code int, text string) *DownloadError {
	return &DownloadError{URL: url, StatusCode: code, Message: fmt.Sprintf("%d - %s", code, text)}
}

func sizeError(url string, limit int64) *DownloadError {
	return &DownloadError{URL: url, Message: fmt.Sprintf("Maximum file size of %d bytes exceeded", limit)}
}

func requestError(url string, err error) *DownloadError {
	return &DownloadError{URL: url, Message: fmt.Sprintf("Request failed with %v", err), Err: err}
}

func downloadError(url, format string, args ...any) *DownloadError {
	return &DownloadError{URL: url, Message: fmt.Sprintf(format, args...)}
}
