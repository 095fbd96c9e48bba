package util

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Error kinds returned by ClassifyError.
const (
	KindNone           = ""
	KindDecode         = "decode_error"
	KindNotFound       = "not_found"
	KindDuplicateKey   = "duplicate_key"
	KindDBConnection   = "db_connection_error"
	KindNetworkTimeout = "network_timeout"
	KindNetwork        = "network_error"
	KindTimeout        = "timeout"
	KindCanceled       = "context_canceled"
	KindUnknown        = "unknown_error"
)

// ClassifyError determines whether an infrastructure error is worth retrying
// and returns a short kind for logs and metrics.
func ClassifyError(err error) (retryable bool, kind string) {
	if err == nil {
		return false, KindNone
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false, KindDecode
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return false, KindNotFound
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true, KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return false, KindCanceled
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true, KindNetworkTimeout
		}
		return true, KindNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, KindNetworkTimeout
		}
		return true, KindNetwork
	}

	errStr := err.Error()
	if strings.Contains(errStr, "duplicate key") || strings.Contains(errStr, "UNIQUE constraint") {
		return false, KindDuplicateKey
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "timeout") {
		return true, KindDBConnection
	}

	return false, KindUnknown
}
