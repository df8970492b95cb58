package errors

import (
	"context"
	"errors"
	"strings"
)

// IsRetryableError determines if an error is transient and the operation should be retried.
// This includes network timeouts, temporary unavailability, and other transient conditions.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var tErr *Error
	if As(err, &tErr) {
		switch tErr.Code() {
		case ERR_NETWORK_TIMEOUT,
			ERR_NETWORK_ERROR,
			ERR_NETWORK_CONNECTION_REFUSED,
			ERR_SERVICE_UNAVAILABLE:
			return true
		}
	}

	return false
}

// IsNetworkError determines if an error is network-related.
// This includes timeouts, connection failures, and resets reported by the OS.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var tErr *Error
	if As(err, &tErr) {
		switch tErr.Code() {
		case ERR_NETWORK_ERROR,
			ERR_NETWORK_TIMEOUT,
			ERR_NETWORK_CONNECTION_REFUSED,
			ERR_NETWORK_HANDSHAKE,
			ERR_NETWORK_PEER_MALICIOUS:
			return true
		}
	}

	errStr := strings.ToLower(err.Error())
	networkStrings := []string{
		"connection",
		"timeout",
		"dial tcp",
		"broken pipe",
		"eof",
	}

	for _, s := range networkStrings {
		if strings.Contains(errStr, s) {
			return true
		}
	}

	return false
}

// IsValidationError reports whether err is a rule rejection of a transaction or block.
// Duplicates and orphans are not rejections.
func IsValidationError(err error) bool {
	code := CodeOf(err)

	switch code {
	case ERR_TX_EXISTS, ERR_BLOCK_EXISTS, ERR_BLOCK_ORPHAN, ERR_MEMPOOL_FULL, ERR_TX_NOT_FOUND, ERR_BLOCK_NOT_FOUND:
		return false
	}

	return (code >= ERR_TX_INVALID && code < ERR_STORAGE_ERROR) || code == ERR_MALFORMED
}

// IsMaliciousResponseError reports whether err means the remote side sent data that cannot be
// valid: malformed encodings, protocol violations or rule-breaking objects.
func IsMaliciousResponseError(err error) bool {
	if err == nil {
		return false
	}

	if CodeOf(err) == ERR_NETWORK_PEER_MALICIOUS {
		return true
	}

	return IsValidationError(err)
}

// IsFatalError reports whether err is an internal consistency failure that must stop the node.
func IsFatalError(err error) bool {
	if err == nil {
		return false
	}

	return Is(err, ErrUtxoInvariant)
}
