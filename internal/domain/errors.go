package domain

import "errors"

var (
	// ErrBlockNotFound means the node has not produced the requested height yet.
	ErrBlockNotFound = errors.New("block not found")
	// ErrMalformedResponse marks node responses that could not be decoded.
	ErrMalformedResponse = errors.New("malformed rpc response")
)

// ErrDuplicateTransaction is returned when a transaction hash is already
// stored. Reprocessing a committed block surfaces it instead of writing
// duplicate rows.
var ErrDuplicateTransaction = errors.New("duplicate transaction hash")
