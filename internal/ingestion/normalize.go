package ingestion

import (
	"errors"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"dex-candles/internal/domain"
	"dex-candles/internal/protocol"
)

// TransactionNormalizer converts raw swap logs of one pool into transactions
// without timestamps. Degenerate and undecodable logs are dropped.
type TransactionNormalizer struct {
	pool       domain.Pool
	normalizer protocol.Normalizer
	logger     *zap.Logger
}

// NewTransactionNormalizer creates a normalizer for pool.
func NewTransactionNormalizer(pool domain.Pool, n protocol.Normalizer, logger *zap.Logger) *TransactionNormalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransactionNormalizer{pool: pool, normalizer: n, logger: logger}
}

// Normalize returns one transaction per usable log, in input order.
func (n *TransactionNormalizer) Normalize(logs []types.Log) []*domain.Transaction {
	out := make([]*domain.Transaction, 0, len(logs))
	for _, lg := range logs {
		if tx, ok := n.NormalizeOne(lg); ok {
			out = append(out, tx)
		}
	}
	return out
}

// NormalizeOne converts a single log. Returns false when the log is dropped.
func (n *TransactionNormalizer) NormalizeOne(lg types.Log) (*domain.Transaction, bool) {
	amounts, err := n.normalizer.ExtractAmounts(lg)
	if err != nil {
		n.logger.Warn("undecodable swap log dropped",
			zap.Uint64("block", lg.BlockNumber), zap.Uint("log_index", lg.Index), zap.Error(err))
		return nil, false
	}

	tx, err := protocol.FormatTransaction(n.pool, amounts)
	if err != nil {
		if errors.Is(err, protocol.ErrDegenerateTransaction) {
			n.logger.Info("degenerate swap dropped",
				zap.Uint64("block", lg.BlockNumber), zap.Uint("log_index", lg.Index))
		} else {
			n.logger.Warn("swap formatting failed",
				zap.Uint64("block", lg.BlockNumber), zap.Uint("log_index", lg.Index), zap.Error(err))
		}
		return nil, false
	}
	return tx, true
}
