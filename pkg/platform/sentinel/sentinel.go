package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and provider adapters return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity or checkout session does not exist
// - ErrAlreadyUsed: a unique key (payment intent, active membership) is taken
// - ErrUnavailable: store or payment provider temporarily unavailable
// - ErrRejected: payment provider refused the request as invalid
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrAlreadyUsed = errors.New("already used")
	ErrUnavailable = errors.New("unavailable")
	ErrRejected    = errors.New("rejected")
)
