package evm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/rpc"
)

// Provider error kinds recognised from JSON-RPC errors.
var (
	// ErrResultTooLarge is matched when a provider refuses a log query because
	// the result set is too big. Callers narrow the block range.
	ErrResultTooLarge = errors.New("log query result too large")

	// ErrBlockNotFound is matched when a provider has not indexed a requested block yet.
	ErrBlockNotFound = errors.New("block not found")
)

var (
	resultTooLargeMessages = []string{
		"query returned more than 10000 results",
		"log response size exceeded",
	}
	blockNotFoundMessages = []string{
		"one of the blocks specified in filter (fromblock, toblock or blockhash) cannot be found",
		"header not found",
		"unknown block",
	}
)

// classify tags err with ErrResultTooLarge or ErrBlockNotFound when the node's
// answer means one of them. The original error stays in the chain.
func classify(err error) error {
	if errors.Is(err, ethereum.NotFound) {
		return fmt.Errorf("%w: %w", ErrBlockNotFound, err)
	}
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return err
	}
	switch {
	case containsAny(rpcErr.Error(), resultTooLargeMessages):
		return fmt.Errorf("%w: %w", ErrResultTooLarge, err)
	case containsAny(rpcErr.Error(), blockNotFoundMessages):
		return fmt.Errorf("%w: %w", ErrBlockNotFound, err)
	}
	return err
}

// retryable reports whether err is a transport failure worth another attempt.
// Answers from the node, including null results, are final.
func retryable(err error) bool {
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return false
	}
	return !errors.Is(err, ethereum.NotFound)
}

func containsAny(msg string, needles []string) bool {
	msg = strings.ToLower(msg)
	for _, n := range needles {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}
