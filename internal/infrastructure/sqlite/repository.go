package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"ethledger/internal/application"
	"ethledger/internal/domain"

	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// insertChunkSize keeps multi-row inserts under SQLite's variable limit.
const insertChunkSize = 500

// Repository is the embedded ledger used for local runs and tests. It holds
// a single connection, so writes are serialised and ":memory:" databases
// stay shared across calls.
type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS blocks (
			id INTEGER PRIMARY KEY,
			block_time DATETIME NOT NULL,
			total_txns INTEGER NOT NULL DEFAULT 0,
			token_txns INTEGER NOT NULL DEFAULT 0,
			fully_parsed INTEGER NOT NULL DEFAULT 0,
			block_hash TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tokens (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			wallet TEXT NOT NULL UNIQUE,
			symbol TEXT NULL,
			decimals INTEGER NULL,
			total_supply TEXT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			t_hash TEXT NOT NULL UNIQUE,
			block_id INTEGER NOT NULL,
			t_from TEXT NOT NULL,
			t_to TEXT NOT NULL,
			quantity TEXT NOT NULL,
			input TEXT NOT NULL,
			created DATETIME NOT NULL,
			confirmed INTEGER NOT NULL DEFAULT 0,
			is_token INTEGER NOT NULL DEFAULT 0,
			token_id INTEGER NULL,
			token_quantity TEXT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS transactions_block_idx ON transactions (block_id, confirmed)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) WithBlock(ctx context.Context, fn func(application.BlockWriter) error) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&blockWriter{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type blockWriter struct {
	tx *sql.Tx
}

func (w *blockWriter) InsertBlock(ctx context.Context, block domain.Block) (uint64, error) {
	_, err := w.tx.ExecContext(ctx, `INSERT INTO blocks (id, block_time, total_txns, token_txns, fully_parsed, block_hash)
		VALUES (?, ?, ?, ?, ?, ?)`,
		block.Number, block.Timestamp.UTC(), block.TotalTxns, block.TokenTxns, block.FullyParsed, block.Hash)
	if err != nil {
		return 0, err
	}
	return block.Number, nil
}

func (w *blockWriter) BulkInsertTransactions(ctx context.Context, blockID uint64, txns []domain.Transaction) error {
	for start := 0; start < len(txns); start += insertChunkSize {
		end := min(start+insertChunkSize, len(txns))
		query, args := transactionInsert(blockID, txns[start:end])
		if _, err := w.tx.ExecContext(ctx, query, args...); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %v", domain.ErrDuplicateTransaction, err)
			}
			return err
		}
	}
	return nil
}

func (w *blockWriter) AdvanceConfirmations(ctx context.Context, blockID uint64, policy domain.ConfirmationPolicy) (int64, error) {
	from, to, ok := policy.Window(blockID)
	if !ok {
		return 0, nil
	}
	res, err := w.tx.ExecContext(ctx, `UPDATE transactions SET confirmed = 1
		WHERE confirmed = 0 AND block_id BETWEEN ? AND ?`, from, to)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func transactionInsert(blockID uint64, txns []domain.Transaction) (string, []any) {
	var b strings.Builder
	b.WriteString(`INSERT INTO transactions (t_hash, block_id, t_from, t_to, quantity, input, created, confirmed, is_token, token_id, token_quantity) VALUES `)
	args := make([]any, 0, len(txns)*11)
	for i, tx := range txns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		var tokenID, tokenQuantity any
		if tx.TokenID != nil {
			tokenID = *tx.TokenID
		}
		if tx.TokenQuantity != nil {
			tokenQuantity = tx.TokenQuantity.String()
		}
		args = append(args, tx.Hash, blockID, tx.From, tx.To, tx.Quantity.String(), tx.Input, tx.Created.UTC(), tx.Confirmed, tx.IsToken, tokenID, tokenQuantity)
	}
	return b.String(), args
}

func (r *Repository) GetOrCreateToken(ctx context.Context, wallet string) (domain.Token, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `INSERT INTO tokens (wallet) VALUES (?) ON CONFLICT(wallet) DO NOTHING`, wallet)
	if err != nil {
		return domain.Token{}, false, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return domain.Token{}, false, err
	}

	var (
		token    domain.Token
		symbol   sql.NullString
		decimals sql.NullInt16
		supply   decimal.NullDecimal
	)
	err = r.db.QueryRowContext(ctx, `SELECT id, wallet, symbol, decimals, total_supply FROM tokens WHERE wallet = ?`, wallet).
		Scan(&token.ID, &token.Wallet, &symbol, &decimals, &supply)
	if err != nil {
		return domain.Token{}, false, err
	}
	if symbol.Valid {
		token.Symbol = &symbol.String
	}
	if decimals.Valid {
		d := uint8(decimals.Int16)
		token.Decimals = &d
	}
	if supply.Valid {
		token.TotalSupply = &supply.Decimal
	}
	return token, inserted == 1, nil
}

// ResolveToken back-fills token metadata. Production deployments leave this
// to the external metadata resolver; local runs and tests call it directly.
func (r *Repository) ResolveToken(ctx context.Context, wallet, symbol string, decimals uint8, supply decimal.Decimal) error {
	_, err := r.db.ExecContext(ctx, `UPDATE tokens SET symbol = ?, decimals = ?, total_supply = ? WHERE wallet = ?`,
		symbol, decimals, supply.String(), wallet)
	return err
}

func (r *Repository) MaxParsedBlock(ctx context.Context) (uint64, bool, error) {
	var max sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(id) FROM blocks WHERE fully_parsed = 1`).Scan(&max); err != nil {
		return 0, false, err
	}
	if !max.Valid {
		return 0, false, nil
	}
	return uint64(max.Int64), true, nil
}

// Transaction loads a stored transaction by hash.
func (r *Repository) Transaction(ctx context.Context, hash string) (domain.Transaction, bool, error) {
	var (
		tx            domain.Transaction
		tokenID       sql.NullInt64
		tokenQuantity sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `SELECT t_hash, block_id, t_from, t_to, quantity, input, created, confirmed, is_token, token_id, token_quantity
		FROM transactions WHERE t_hash = ?`, hash).
		Scan(&tx.Hash, &tx.BlockNumber, &tx.From, &tx.To, &tx.Quantity, &tx.Input, &tx.Created, &tx.Confirmed, &tx.IsToken, &tokenID, &tokenQuantity)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Transaction{}, false, nil
	}
	if err != nil {
		return domain.Transaction{}, false, err
	}
	if tokenID.Valid {
		id := uint64(tokenID.Int64)
		tx.TokenID = &id
	}
	if tokenQuantity.Valid {
		amount, ok := new(big.Int).SetString(tokenQuantity.String, 10)
		if !ok {
			return domain.Transaction{}, false, fmt.Errorf("invalid token quantity %q", tokenQuantity.String)
		}
		tx.TokenQuantity = amount
	}
	return tx, true, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
