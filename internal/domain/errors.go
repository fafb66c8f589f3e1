package domain

import "errors"

var (
	// ErrInsufficientData marks an asset without enough price history.
	// Recovered locally: the asset's score becomes zero.
	ErrInsufficientData = errors.New("insufficient price history")

	// ErrMissingQuote aborts the cycle before any order is submitted.
	ErrMissingQuote = errors.New("missing live quote")

	// ErrOrderSubmissionFailed is logged and the intent skipped.
	ErrOrderSubmissionFailed = errors.New("order submission failed")

	// ErrOrderTimedOut means polling gave up before a terminal status.
	ErrOrderTimedOut = errors.New("order did not reach a terminal state")

	// ErrPersistence means state or ledger could not be written.
	ErrPersistence = errors.New("persistence failure")

	// ErrCycleInProgress means another cycle holds the instance lock.
	ErrCycleInProgress = errors.New("rebalance cycle already in progress")
)
