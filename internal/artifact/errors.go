package artifact

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a download failure. The kind decides what happens to the
// partial file on disk.
type ErrorKind int

const (
	// KindUnexpected covers anything outside the other kinds. The partial file is deleted.
	KindUnexpected ErrorKind = iota
	// KindAuthentication is HTTP 401/403. The partial file is kept.
	KindAuthentication
	// KindNotFound is HTTP 404. The partial file is kept.
	KindNotFound
	// KindTransient covers timeouts, resets, I/O failures and cancellation. The partial file is kept.
	KindTransient
	// KindVerification means the transfer finished but the file does not match expectations.
	KindVerification
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindVerification:
		return "verification"
	default:
		return "unexpected"
	}
}

var (
	// ErrDownloadInProgress is returned when Download is called while another download runs.
	ErrDownloadInProgress = errors.New("artifact: download already in progress")

	// ErrInvalidToken indicates the bearer token failed the local format check.
	ErrInvalidToken = errors.New("artifact: invalid access token")

	// ErrSizeMismatch indicates the file on disk does not have the expected length.
	ErrSizeMismatch = errors.New("artifact: size mismatch")

	// ErrChecksumMismatch indicates the file digest differs from the configured checksum.
	ErrChecksumMismatch = errors.New("artifact: checksum mismatch")
)

// DownloadError is the error type returned by Downloader.Download.
type DownloadError struct {
	Kind       ErrorKind
	StatusCode int // HTTP status when the failure came from the response, else 0
	Err        error
}

func (e *DownloadError) Error() string {
	msg := "model download failed: " + e.Kind.String()
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DownloadError) Unwrap() error { return e.Err }

func newError(kind ErrorKind, status int, err error) *DownloadError {
	return &DownloadError{Kind: kind, StatusCode: status, Err: err}
}

// KindOf returns the kind of a download error, or KindUnexpected for foreign errors.
func KindOf(err error) ErrorKind {
	var de *DownloadError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnexpected
}

func isKind(err error, k ErrorKind) bool {
	var de *DownloadError
	return errors.As(err, &de) && de.Kind == k
}

// IsAuthentication reports whether err is a 401/403 failure.
func IsAuthentication(err error) bool { return isKind(err, KindAuthentication) }

// IsNotFound reports whether the artifact URL returned 404.
func IsNotFound(err error) bool { return isKind(err, KindNotFound) }

// IsTransient reports whether err is worth retrying later from the same offset.
func IsTransient(err error) bool { return isKind(err, KindTransient) }

// IsVerification reports whether the finished transfer failed size/checksum checks.
func IsVerification(err error) bool { return isKind(err, KindVerification) }

// IsUnexpected reports whether err is an unclassified download failure.
func IsUnexpected(err error) bool { return isKind(err, KindUnexpected) }

// HTTPStatus maps the error kind to a status for API callers.
func (e *DownloadError) HTTPStatus() int {
	switch e.Kind {
	case KindAuthentication:
		return 401
	case KindNotFound:
		return 404
	case KindTransient:
		return 503
	case KindVerification:
		return 422
	default:
		return 502
	}
}
