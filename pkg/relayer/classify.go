package relayer

import (
	"errors"
	"strings"

	"github.com/predictx/predictx/pkg/settlement"
)

// Verdict is the retry decision for a failed submission.
type Verdict int

const (
	// NonRetryable failures are settlement-logic errors: resubmitting the
	// same batch can never succeed, so its fills are dropped and their
	// resting orders purged.
	NonRetryable Verdict = iota
	// Retryable failures are environmental and assumed to eventually
	// clear: congestion, RPC flakiness, gas spikes, nonce races.
	Retryable
)

func (v Verdict) String() string {
	if v == Retryable {
		return "retryable"
	}
	return "non-retryable"
}

// Substring patterns for free-text RPC errors, checked in order. The
// non-retryable list is consulted first so a revert reason embedded in a
// wrapped message ("gas estimation failed: insufficient collateral") drops
// the batch instead of looping on the "gas" pattern.
var nonRetryablePatterns = []string{
	"invalid signature",
	"order expired",
	"expired",
	"insufficient",
	"overfill",
	"invalid nonce",
	"nonce cancelled",
	"cancelled nonce",
	"unauthorized taker",
	"unsupported collateral",
	"invalid outcome",
	"invalid amount",
}

var retryablePatterns = []string{
	"network",
	"timeout",
	"deadline exceeded",
	"context canceled",
	"connection",
	"econnrefused",
	"enotfound",
	"429",
	"502",
	"503",
	"rate limit",
	"gateway",
	"nonce too low",
	"replacement transaction underpriced",
	"underpriced",
	"gas",
}

// Classify decides whether a settlement failure is worth retrying. A
// structured settlement.Error code wins outright; free-text messages fall
// back to substring matching. Anything unrecognized is non-retryable:
// dropping a fill with a clear rejection beats an unbounded retry loop.
func Classify(err error) Verdict {
	if err == nil {
		return NonRetryable
	}

	var serr *settlement.Error
	if errors.As(err, &serr) && serr.Code != settlement.CodeUnknown {
		if serr.Code.Retryable() {
			return Retryable
		}
		return NonRetryable
	}

	msg := strings.ToLower(err.Error())

	// Out of gas is a permanent failure even though it mentions gas:
	// the batch itself consumed more than any limit we would set.
	if strings.Contains(msg, "out of gas") {
		return NonRetryable
	}
	for _, p := range nonRetryablePatterns {
		if strings.Contains(msg, p) {
			return NonRetryable
		}
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return Retryable
		}
	}
	return NonRetryable
}
