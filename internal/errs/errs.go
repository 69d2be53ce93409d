// Package errs defines the named error kinds that cross component boundaries.
//
// Most failures are just wrapped stdlib errors (fmt.Errorf with %w); these
// sentinels name the few failure kinds that cross a component boundary, so
// a caller can match them with errors.Is.
package errs

import "errors"

// ErrUpstreamUnavailable is returned by the market-data client after its
// retry budget is exhausted, or when the response body isn't the expected
// JSON array shape.
var ErrUpstreamUnavailable = errors.New("market: upstream unavailable")

// ErrPriceUnavailable names the gather-stage condition where no mark price
// can be derived from stored candles. The orchestrator logs it and returns a
// skipped CycleResult with a nil error; no Decision is journaled.
var ErrPriceUnavailable = errors.New("orchestrator: price unavailable")

// ErrInvalidCommand marks a malformed request on the command surface. The
// API handlers do not return it; they answer malformed requests with HTTP 400
// directly.
var ErrInvalidCommand = errors.New("api: invalid command")
