package ingestion

import (
	"dex-candles/internal/domain"
)

// BoundaryMarker is the last block covered by backfill together with the log
// indexes already persisted in that block.
type BoundaryMarker struct {
	Block      uint64
	LogIndexes map[uint]bool
}

// NewBoundaryMarker builds a marker at the block of the last transaction in txs,
// collecting log indexes of every transaction in that block.
// Returns nil when txs is empty.
func NewBoundaryMarker(txs []*domain.Transaction) *BoundaryMarker {
	if len(txs) == 0 {
		return nil
	}
	block := txs[len(txs)-1].BlockNumber
	m := &BoundaryMarker{Block: block, LogIndexes: make(map[uint]bool)}
	for _, tx := range txs {
		if tx.BlockNumber == block {
			m.LogIndexes[tx.LogIndex] = true
		}
	}
	return m
}

// Add records tx if it belongs to the marker block.
func (m *BoundaryMarker) Add(tx *domain.Transaction) {
	if tx.BlockNumber == m.Block {
		m.LogIndexes[tx.LogIndex] = true
	}
}

// Covers reports whether tx is already accounted for by backfill.
func (m *BoundaryMarker) Covers(tx *domain.Transaction) bool {
	if m == nil {
		return false
	}
	if tx.BlockNumber < m.Block {
		return true
	}
	return tx.BlockNumber == m.Block && m.LogIndexes[tx.LogIndex]
}

// Reconcile returns the buffered live transactions not covered by marker,
// preserving arrival order. With a nil marker every transaction is kept.
// Earlier blocks are not revalidated; storage uniqueness catches the rest.
func Reconcile(marker *BoundaryMarker, buffered []*domain.Transaction) (kept []*domain.Transaction, discarded int) {
	kept = make([]*domain.Transaction, 0, len(buffered))
	for _, tx := range buffered {
		if marker.Covers(tx) {
			discarded++
			continue
		}
		kept = append(kept, tx)
	}
	return kept, discarded
}
