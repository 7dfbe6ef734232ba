package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"dex-candles/internal/domain"
	"dex-candles/internal/storage"
)

// TransactionStore implements storage.TransactionStore using PostgreSQL.
type TransactionStore struct {
	pool *Pool
}

// NewTransactionStore creates a new TransactionStore.
func NewTransactionStore(pool *Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TransactionStore = (*TransactionStore)(nil)

var transactionColumns = []string{
	"pool_contract", "block_number", "log_index", "protocol", "timestamp", "price", "volume",
}

const selectTransactions = `
	SELECT pool_contract, block_number, log_index, protocol, timestamp, price, volume
	FROM transactions
`

// Insert adds a transaction. Returns ErrDuplicateKey if (pool_contract, block_number, log_index) exists.
func (s *TransactionStore) Insert(ctx context.Context, tx *domain.Transaction) (err error) {
	defer observe("insert_transaction", time.Now(), &err)

	query := `
		INSERT INTO transactions (
			pool_contract, block_number, log_index, protocol, timestamp, price, volume
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = s.pool.Exec(ctx, query, transactionRow(tx)...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// InsertBulk adds multiple transactions atomically using COPY. Fails entire batch on any duplicate.
func (s *TransactionStore) InsertBulk(ctx context.Context, txs []*domain.Transaction) (err error) {
	if len(txs) == 0 {
		return nil
	}
	defer observe("insert_transactions_bulk", time.Now(), &err)

	_, err = s.pool.CopyFrom(ctx,
		pgx.Identifier{"transactions"},
		transactionColumns,
		pgx.CopyFromSlice(len(txs), func(i int) ([]any, error) {
			return transactionRow(txs[i]), nil
		}),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("copy transactions: %w", err)
	}
	return nil
}

// GetLast returns the highest (block_number, log_index) transaction of a pool.
func (s *TransactionStore) GetLast(ctx context.Context, pool string) (_ *domain.Transaction, err error) {
	defer observe("get_last_transaction", time.Now(), &err)

	query := selectTransactions + `
		WHERE pool_contract = $1
		ORDER BY block_number DESC, log_index DESC
		LIMIT 1
	`

	rows, err := s.pool.Query(ctx, query, pool)
	if err != nil {
		return nil, fmt.Errorf("get last transaction: %w", err)
	}
	defer rows.Close()

	txs, err := scanTransactions(rows)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, storage.ErrNotFound
	}
	return txs[0], nil
}

// GetFromBlock returns transactions with block_number >= fromBlock, ordered by (block_number, log_index) ASC.
func (s *TransactionStore) GetFromBlock(ctx context.Context, pool string, fromBlock uint64) (_ []*domain.Transaction, err error) {
	defer observe("get_transactions_from_block", time.Now(), &err)

	query := selectTransactions + `
		WHERE pool_contract = $1 AND block_number >= $2
		ORDER BY block_number ASC, log_index ASC
	`

	rows, err := s.pool.Query(ctx, query, pool, int64(fromBlock))
	if err != nil {
		return nil, fmt.Errorf("get transactions from block: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// GetInBlock returns the transactions of a single block ordered by log_index ASC.
func (s *TransactionStore) GetInBlock(ctx context.Context, pool string, block uint64) (_ []*domain.Transaction, err error) {
	defer observe("get_transactions_in_block", time.Now(), &err)

	query := selectTransactions + `
		WHERE pool_contract = $1 AND block_number = $2
		ORDER BY log_index ASC
	`

	rows, err := s.pool.Query(ctx, query, pool, int64(block))
	if err != nil {
		return nil, fmt.Errorf("get transactions in block: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func transactionRow(tx *domain.Transaction) []any {
	return []any{
		tx.PoolContract,
		int64(tx.BlockNumber),
		int32(tx.LogIndex),
		string(tx.Protocol),
		tx.Timestamp,
		tx.Price,
		tx.Volume,
	}
}

// scanTransactions scans multiple rows into a slice of Transaction.
func scanTransactions(rows pgx.Rows) ([]*domain.Transaction, error) {
	var txs []*domain.Transaction

	for rows.Next() {
		var (
			tx       domain.Transaction
			block    int64
			logIndex int32
			protocol string
		)

		err := rows.Scan(
			&tx.PoolContract,
			&block,
			&logIndex,
			&protocol,
			&tx.Timestamp,
			&tx.Price,
			&tx.Volume,
		)
		if err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		tx.BlockNumber = uint64(block)
		tx.LogIndex = uint(logIndex)
		tx.Protocol = domain.Protocol(protocol)

		txs = append(txs, &tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction rows: %w", err)
	}

	return txs, nil
}
