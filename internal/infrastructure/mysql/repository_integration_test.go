//go:build integration

package mysql

import (
	"context"
	"math/big"
	"testing"
	"time"

	"ethledger/internal/application"
	"ethledger/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"
)

const mysqlImage = "mysql:8.0.36"

type RepositorySuite struct {
	suite.Suite
	ctx       context.Context
	cancel    context.CancelFunc
	container *tcmysql.MySQLContainer
	repo      *Repository
}

func TestRepositorySuite(t *testing.T) {
	suite.Run(t, new(RepositorySuite))
}

func (s *RepositorySuite) SetupSuite() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Minute)

	container, err := tcmysql.Run(s.ctx,
		mysqlImage,
		tcmysql.WithDatabase("ledger"),
		tcmysql.WithUsername("ledger"),
		tcmysql.WithPassword("ledger"),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(s.ctx)
	s.Require().NoError(err)
	s.repo, err = NewRepository(dsn)
	s.Require().NoError(err)
}

func (s *RepositorySuite) TearDownSuite() {
	if s.repo != nil {
		_ = s.repo.Close()
	}
	if s.container != nil {
		s.Require().NoError(s.container.Terminate(context.Background()))
	}
	s.cancel()
}

func (s *RepositorySuite) SetupTest() {
	for _, table := range []string{"transactions", "blocks", "tokens"} {
		_, err := s.repo.db.ExecContext(s.ctx, "TRUNCATE TABLE "+table)
		s.Require().NoError(err)
	}
}

func (s *RepositorySuite) storeBlock(number uint64, txns ...domain.Transaction) (int64, error) {
	var confirmed int64
	err := s.repo.WithBlock(s.ctx, func(w application.BlockWriter) error {
		id, err := w.InsertBlock(s.ctx, domain.Block{
			Number:      number,
			Hash:        "0xhash",
			Timestamp:   time.Unix(1700000000, 0).UTC(),
			TotalTxns:   len(txns),
			FullyParsed: true,
		})
		if err != nil {
			return err
		}
		if err := w.BulkInsertTransactions(s.ctx, id, txns); err != nil {
			return err
		}
		confirmed, err = w.AdvanceConfirmations(s.ctx, id, domain.ConfirmationPolicy{Depth: 1, Factor: 2})
		return err
	})
	return confirmed, err
}

func tx(hash string, block uint64) domain.Transaction {
	return domain.Transaction{
		Hash:        hash,
		BlockNumber: block,
		From:        "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		To:          "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		Quantity:    decimal.RequireFromString("0.000000000000000001"),
		Input:       "0x",
		Created:     time.Unix(1700000000, 0).UTC(),
	}
}

func (s *RepositorySuite) TestBlockLifecycle() {
	_, ok, err := s.repo.MaxParsedBlock(s.ctx)
	s.Require().NoError(err)
	s.False(ok)

	token, created, err := s.repo.GetOrCreateToken(s.ctx, "0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB")
	s.Require().NoError(err)
	s.True(created)
	s.False(token.Resolved())

	again, created, err := s.repo.GetOrCreateToken(s.ctx, "0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB")
	s.Require().NoError(err)
	s.False(created)
	s.Equal(token.ID, again.ID)

	tokenTx := tx("0xtoken", 1)
	tokenTx.IsToken = true
	tokenTx.TokenID = &token.ID
	tokenTx.TokenQuantity = big.NewInt(100)
	tokenTx.Quantity = decimal.NewFromInt(100)

	_, err = s.storeBlock(1, tx("0xplain", 1), tokenTx)
	s.Require().NoError(err)
	confirmed, err := s.storeBlock(2)
	s.Require().NoError(err)
	s.Equal(int64(2), confirmed)

	last, ok, err := s.repo.MaxParsedBlock(s.ctx)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(uint64(2), last)

	var quantity decimal.Decimal
	s.Require().NoError(s.repo.db.QueryRowContext(s.ctx, `SELECT quantity FROM transactions WHERE t_hash = '0xplain'`).Scan(&quantity))
	s.True(decimal.RequireFromString("0.000000000000000001").Equal(quantity))
}

func (s *RepositorySuite) TestDuplicateHashRollsBackBlock() {
	_, err := s.storeBlock(1, tx("0xa", 1))
	s.Require().NoError(err)

	_, err = s.storeBlock(2, tx("0xb", 2), tx("0xa", 2))
	s.Require().ErrorIs(err, domain.ErrDuplicateTransaction)

	last, _, err := s.repo.MaxParsedBlock(s.ctx)
	s.Require().NoError(err)
	s.Equal(uint64(1), last)
}
