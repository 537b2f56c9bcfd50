package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"

	"github.com/mcdev12/numguess/go/clients"
	"github.com/mcdev12/numguess/go/clients/game_api_client"
)

// FailureKind classifies request errors.
type FailureKind string

const (
	// KindTransient covers dropped connections and generic 5xx: retried on cadence.
	KindTransient FailureKind = "transient"
	// KindColdStart is a timeout or an internal-error 5xx from a backend that is still booting.
	KindColdStart FailureKind = "cold-start"
	// KindMalformed is a response that could not be decoded.
	KindMalformed FailureKind = "malformed"
	// KindRejected is the server refusing a user action. It never affects health.
	KindRejected FailureKind = "rejected"
)

// Classify maps a request error onto a FailureKind.
func Classify(err error) FailureKind {
	if err == nil {
		return ""
	}

	var rejected *game_api_client.RejectedError
	if errors.As(err, &rejected) {
		return KindRejected
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindColdStart
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindColdStart
	}

	var statusErr *clients.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.ServerError() && strings.Contains(strings.ToLower(statusErr.Body), "internal"):
			return KindColdStart
		case statusErr.ServerError():
			return KindTransient
		default:
			return KindRejected
		}
	}

	var decodeErr *clients.DecodeError
	if errors.As(err, &decodeErr) {
		return KindMalformed
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return KindMalformed
	}

	return KindTransient
}
