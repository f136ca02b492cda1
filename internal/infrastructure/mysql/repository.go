package mysql

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

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	errDuplicateEntry = 1062
	// insertChunkSize keeps multi-row inserts under the placeholder limit.
	insertChunkSize = 1000
)

type Repository struct {
	db *sql.DB
}

func NewRepository(dsn string) (*Repository, error) {
	if dsn == "" {
		return nil, errors.New("db dsn is required")
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	db := sql.OpenDB(connector)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS blocks (
			id BIGINT UNSIGNED NOT NULL,
			block_time DATETIME NOT NULL,
			total_txns INT UNSIGNED NOT NULL DEFAULT 0,
			token_txns INT UNSIGNED NOT NULL DEFAULT 0,
			fully_parsed TINYINT(1) NOT NULL DEFAULT 0,
			block_hash VARCHAR(66) NOT NULL,
			PRIMARY KEY (id)
		)`,
		`CREATE TABLE IF NOT EXISTS tokens (
			id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
			wallet VARCHAR(42) NOT NULL,
			symbol VARCHAR(64) NULL,
			decimals TINYINT UNSIGNED NULL,
			total_supply DECIMAL(65,0) NULL,
			PRIMARY KEY (id),
			UNIQUE KEY tokens_wallet (wallet)
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
			t_hash VARCHAR(66) NOT NULL,
			block_id BIGINT UNSIGNED NOT NULL,
			t_from VARCHAR(42) NOT NULL,
			t_to VARCHAR(42) NOT NULL,
			quantity DECIMAL(65,30) NOT NULL,
			input MEDIUMTEXT NOT NULL,
			created DATETIME NOT NULL,
			confirmed TINYINT(1) NOT NULL DEFAULT 0,
			is_token TINYINT(1) NOT NULL DEFAULT 0,
			token_id BIGINT UNSIGNED NULL,
			token_quantity DECIMAL(65,0) NULL,
			PRIMARY KEY (id),
			UNIQUE KEY transactions_hash (t_hash),
			KEY transactions_block_idx (block_id, confirmed),
			KEY transactions_token_idx (token_id)
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) WithBlock(ctx context.Context, fn func(application.BlockWriter) error) error {
	ctx, span := startDBSpan(ctx, "mysql.WithBlock")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	if err := fn(&blockWriter{tx: tx}); err != nil {
		_ = tx.Rollback()
		recordSpanError(span, err)
		return err
	}
	if err := tx.Commit(); err != nil {
		recordSpanError(span, err)
		return err
	}
	return nil
}

type blockWriter struct {
	tx *sql.Tx
}

func (w *blockWriter) InsertBlock(ctx context.Context, block domain.Block) (uint64, error) {
	ctx, span := startDBSpan(ctx, "mysql.InsertBlock", attribute.Int64("block.number", int64(block.Number)))
	defer span.End()

	_, err := w.tx.ExecContext(ctx, `INSERT INTO blocks (id, block_time, total_txns, token_txns, fully_parsed, block_hash)
		VALUES (?, ?, ?, ?, ?, ?)`,
		block.Number, block.Timestamp.UTC(), block.TotalTxns, block.TokenTxns, block.FullyParsed, block.Hash)
	if err != nil {
		recordSpanError(span, err)
		return 0, err
	}
	return block.Number, nil
}

func (w *blockWriter) BulkInsertTransactions(ctx context.Context, blockID uint64, txns []domain.Transaction) error {
	if len(txns) == 0 {
		return nil
	}
	ctx, span := startDBSpan(ctx, "mysql.BulkInsertTransactions",
		attribute.Int64("block.number", int64(blockID)),
		attribute.Int("tx.count", len(txns)),
	)
	defer span.End()

	for start := 0; start < len(txns); start += insertChunkSize {
		end := min(start+insertChunkSize, len(txns))
		query, args := transactionInsert(blockID, txns[start:end])
		if _, err := w.tx.ExecContext(ctx, query, args...); err != nil {
			if isDuplicateEntry(err) {
				err = fmt.Errorf("%w: %v", domain.ErrDuplicateTransaction, err)
			}
			recordSpanError(span, err)
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
	ctx, span := startDBSpan(ctx, "mysql.AdvanceConfirmations",
		attribute.Int64("window.from", int64(from)),
		attribute.Int64("window.to", int64(to)),
	)
	defer span.End()

	res, err := w.tx.ExecContext(ctx, `UPDATE transactions SET confirmed = 1
		WHERE confirmed = 0 AND block_id BETWEEN ? AND ?`, from, to)
	if err != nil {
		recordSpanError(span, err)
		return 0, err
	}
	return res.RowsAffected()
}

func transactionInsert(blockID uint64, txns []domain.Transaction) (string, []any) {
	const columns = 11
	var b strings.Builder
	b.WriteString(`INSERT INTO transactions (t_hash, block_id, t_from, t_to, quantity, input, created, confirmed, is_token, token_id, token_quantity) VALUES `)
	args := make([]any, 0, len(txns)*columns)
	for i, tx := range txns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			tx.Hash,
			blockID,
			tx.From,
			tx.To,
			tx.Quantity,
			tx.Input,
			tx.Created.UTC(),
			tx.Confirmed,
			tx.IsToken,
			nullableID(tx.TokenID),
			nullableAmount(tx.TokenQuantity),
		)
	}
	return b.String(), args
}

func (r *Repository) GetOrCreateToken(ctx context.Context, wallet string) (domain.Token, bool, error) {
	ctx, span := startDBSpan(ctx, "mysql.GetOrCreateToken", attribute.String("token.wallet", wallet))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	token, found, err := r.tokenByWallet(ctx, wallet)
	if err != nil {
		recordSpanError(span, err)
		return domain.Token{}, false, err
	}
	if found {
		return token, false, nil
	}

	res, err := r.db.ExecContext(ctx, `INSERT IGNORE INTO tokens (wallet) VALUES (?)`, wallet)
	if err != nil {
		recordSpanError(span, err)
		return domain.Token{}, false, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		recordSpanError(span, err)
		return domain.Token{}, false, err
	}
	token, found, err = r.tokenByWallet(ctx, wallet)
	if err != nil {
		recordSpanError(span, err)
		return domain.Token{}, false, err
	}
	if !found {
		err := fmt.Errorf("token %s missing after insert", wallet)
		recordSpanError(span, err)
		return domain.Token{}, false, err
	}
	return token, inserted == 1, nil
}

func (r *Repository) tokenByWallet(ctx context.Context, wallet string) (domain.Token, bool, error) {
	var (
		token    domain.Token
		symbol   sql.NullString
		decimals sql.NullInt16
		supply   decimal.NullDecimal
	)
	err := r.db.QueryRowContext(ctx, `SELECT id, wallet, symbol, decimals, total_supply FROM tokens WHERE wallet = ?`, wallet).
		Scan(&token.ID, &token.Wallet, &symbol, &decimals, &supply)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Token{}, false, nil
	}
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
	return token, true, nil
}

func (r *Repository) MaxParsedBlock(ctx context.Context) (uint64, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var max sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(id) FROM blocks WHERE fully_parsed = 1`).Scan(&max); err != nil {
		return 0, false, err
	}
	if !max.Valid {
		return 0, false, nil
	}
	return uint64(max.Int64), true, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == errDuplicateEntry
}

func nullableID(id *uint64) any {
	if id == nil {
		return nil
	}
	return *id
}

func nullableAmount(amount *big.Int) any {
	if amount == nil {
		return nil
	}
	return amount.String()
}

func startDBSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("db.system", "mysql"))
	return otel.Tracer("ethledger/mysql").Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
