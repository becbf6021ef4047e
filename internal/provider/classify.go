package provider

import (
	"net/http"

	slerrors "github.com/mrz1836/storyloom/internal/errors"
)

// classifyStatus maps an HTTP status to a provider error class. Rate
// limits, timeouts and server errors are transient; everything else a
// provider refuses is fatal.
func classifyStatus(id string, status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status >= http.StatusInternalServerError:
		return slerrors.NewTransient(id, err)
	case status >= http.StatusBadRequest:
		return slerrors.NewFatal(id, err)
	default:
		return slerrors.NewTransient(id, err)
	}
}
