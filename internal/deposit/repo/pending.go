package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"depositgate.com/internal/deposit/domain"
	"depositgate.com/pkg/xerr"
)

type PendingRepo struct {
	db *gorm.DB
}

var _ domain.PendingStore = (*PendingRepo)(nil)

func NewPendingRepo(db *gorm.DB) *PendingRepo { return &PendingRepo{db: db} }

// Get 不存在返回 nil, nil
func (r *PendingRepo) Get(ctx context.Context, txHash string) (*domain.PendingClaim, error) {
	var row PendingClaim
	err := r.db.WithContext(ctx).Where("tx_hash = ?", txHash).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, xerr.Wrap(err, xerr.DbError, "get pending claim")
	}
	return toPending(&row), nil
}

// Save upsert；已存在时保留 first_seen_at
func (r *PendingRepo) Save(ctx context.Context, p *domain.PendingClaim) (err error) {
	start := time.Now()
	defer func() { observe("save_pending", start, err) }()

	row := &PendingClaim{
		TxHash:        p.TxHash,
		Reason:        string(p.Reason),
		Attempts:      p.Attempts,
		FirstSeenAt:   p.FirstSeenAt.UTC(),
		NextAttemptAt: p.NextAttemptAt.UTC(),
		LastError:     truncate(p.LastError, 512),
	}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tx_hash"}},
			DoUpdates: clause.AssignmentColumns([]string{"reason", "attempts", "next_attempt_at", "last_error"}),
		}).
		Create(row).Error
	if err != nil {
		return xerr.Wrap(err, xerr.DbError, "save pending claim")
	}
	return nil
}

func (r *PendingRepo) Delete(ctx context.Context, txHash string) error {
	if err := r.db.WithContext(ctx).Where("tx_hash = ?", txHash).Delete(&PendingClaim{}).Error; err != nil {
		return xerr.Wrap(err, xerr.DbError, "delete pending claim")
	}
	return nil
}

// Due 取出到期需要重查的声明，最早到期的在前
func (r *PendingRepo) Due(ctx context.Context, now time.Time, limit int) ([]*domain.PendingClaim, error) {
	var rows []*PendingClaim
	err := r.db.WithContext(ctx).
		Where("next_attempt_at <= ?", now.UTC()).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, xerr.Wrap(err, xerr.DbError, "load due pending claims")
	}
	out := make([]*domain.PendingClaim, 0, len(rows))
	for _, row := range rows {
		out = append(out, toPending(row))
	}
	return out, nil
}

func toPending(row *PendingClaim) *domain.PendingClaim {
	return &domain.PendingClaim{
		TxHash:        row.TxHash,
		Reason:        domain.Reason(row.Reason),
		Attempts:      row.Attempts,
		FirstSeenAt:   row.FirstSeenAt,
		NextAttemptAt: row.NextAttemptAt,
		LastError:     row.LastError,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
