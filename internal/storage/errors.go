package storage

import "errors"

var (
	// ErrNotFound is returned when a lookup matches no row, or when a live
	// candle merge targets a row that is missing or belongs to another bucket.
	ErrNotFound = errors.New("storage: not found")

	// ErrDuplicateKey is returned when a transaction (pool, block, log index)
	// or a closed candle (pool, interval, open time) is already stored.
	ErrDuplicateKey = errors.New("storage: duplicate key")

	// ErrInvalidInput is returned for nil records or records missing their key.
	ErrInvalidInput = errors.New("storage: invalid input")
)
