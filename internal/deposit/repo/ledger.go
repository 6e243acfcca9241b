package repo

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"depositgate.com/internal/deposit/domain"
	"depositgate.com/pkg/orm"
	"depositgate.com/pkg/xerr"
)

// errAlreadyCredited 用来回滚事务，不会返回给调用方
var errAlreadyCredited = errors.New("already credited")

// 确保实现接口
var _ domain.Ledger = (*Repo)(nil)

// TryCredit 一个事务里：插入入账记录 (tx_hash 冲突则什么都不做) + 加余额
func (r *Repo) TryCredit(ctx context.Context, account, txHash string, amount *big.Int, blockNumber uint64) (res domain.CreditResult, err error) {
	start := time.Now()
	defer func() { observe("try_credit", start, err) }()

	amt := decimal.NewFromBigInt(amount, 0)
	now := time.Now().UTC()

	err = r.Transaction(ctx, func(txCtx context.Context) error {
		row := &CreditedDeposit{
			TxHash:      txHash,
			Account:     account,
			Amount:      NewWei(amt),
			BlockNumber: blockNumber,
			CreditedAt:  now,
		}
		ins := r.getDb(txCtx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "tx_hash"}}, DoNothing: true}).
			Create(row)
		if orm.IsDuplicateKey(ins.Error) {
			// 并发插入同一个 hash：数据库唯一键兜底
			return errAlreadyCredited
		}
		if ins.Error != nil {
			return ins.Error
		}
		if ins.RowsAffected == 0 {
			return errAlreadyCredited
		}
		return r.addBalance(txCtx, account, amt, now)
	})

	switch {
	case err == nil:
		return domain.Credited, nil
	case errors.Is(err, errAlreadyCredited):
		return domain.AlreadyCredited, nil
	default:
		return 0, xerr.Wrap(err, xerr.DbError, "credit deposit")
	}
}

// addBalance 先保证账户行存在，再锁行读出来在 Go 里做大数加法
func (r *Repo) addBalance(txCtx context.Context, account string, amt decimal.Decimal, now time.Time) error {
	db := r.getDb(txCtx)
	zero := &AccountBalance{Account: account, Balance: NewWei(decimal.Zero), UpdatedAt: now}
	if err := db.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "account"}}, DoNothing: true}).
		Create(zero).Error; err != nil {
		return err
	}

	var bal AccountBalance
	if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account = ?", account).First(&bal).Error; err != nil {
		return err
	}

	upd := db.Model(&AccountBalance{}).
		Where("id = ? AND version = ?", bal.ID, bal.Version).
		Updates(map[string]any{
			"balance":    NewWei(bal.Balance.Add(amt)),
			"version":    bal.Version + 1,
			"updated_at": now,
		})
	if upd.Error != nil {
		return upd.Error
	}
	if upd.RowsAffected != 1 {
		return fmt.Errorf("balance of %s changed concurrently", account)
	}
	return nil
}

func (r *Repo) HasCredited(ctx context.Context, txHash string) (ok bool, err error) {
	start := time.Now()
	defer func() { observe("has_credited", start, err) }()

	var n int64
	if err = r.getDb(ctx).Model(&CreditedDeposit{}).Where("tx_hash = ?", txHash).Count(&n).Error; err != nil {
		return false, xerr.Wrap(err, xerr.DbError, "query credited deposit")
	}
	return n > 0, nil
}

func (r *Repo) GetCredit(ctx context.Context, txHash string) (*domain.Credit, error) {
	var row CreditedDeposit
	err := r.getDb(ctx).Where("tx_hash = ?", txHash).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrCreditNotFound
	}
	if err != nil {
		return nil, xerr.Wrap(err, xerr.DbError, "get credited deposit")
	}
	return toCredit(&row), nil
}

// GetBalance 没有记录的账户余额为 0
func (r *Repo) GetBalance(ctx context.Context, account string) (*big.Int, error) {
	var row AccountBalance
	err := r.getDb(ctx).Where("account = ?", account).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, xerr.Wrap(err, xerr.DbError, "get balance")
	}
	return row.Balance.BigInt(), nil
}

func (r *Repo) ListCredits(ctx context.Context, account string, page, limit int) ([]*domain.Credit, error) {
	var rows []*CreditedDeposit
	q := r.getDb(ctx).Where("account = ?", account).Order("id DESC")
	if err := orm.ApplyPagination(q, page, limit).Find(&rows).Error; err != nil {
		return nil, xerr.Wrap(err, xerr.DbError, "list credited deposits")
	}
	out := make([]*domain.Credit, 0, len(rows))
	for _, row := range rows {
		out = append(out, toCredit(row))
	}
	return out, nil
}

func toCredit(row *CreditedDeposit) *domain.Credit {
	return &domain.Credit{
		TxHash:      row.TxHash,
		Account:     row.Account,
		Amount:      row.Amount.BigInt(),
		BlockNumber: row.BlockNumber,
		CreditedAt:  row.CreditedAt,
	}
}
