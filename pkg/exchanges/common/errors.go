package common

import "errors"

var (
	// ErrRejected means the exchange (or a local precondition) refused the
	// request. Nothing was committed; the caller's state is untouched.
	ErrRejected = errors.New("exchange rejected")

	// ErrUnavailable means the gateway could not be reached. No partial
	// state was committed, so the operation is safe to retry.
	ErrUnavailable = errors.New("exchange unavailable")

	// ErrUnknownSymbol means the pair is not listed on the exchange.
	ErrUnknownSymbol = errors.New("unknown symbol")
)
