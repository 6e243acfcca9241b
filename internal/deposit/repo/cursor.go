package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"depositgate.com/pkg/xerr"
)

// CursorRepo 扫块游标，一个扫描器一行
type CursorRepo struct {
	db *gorm.DB
}

func NewCursorRepo(db *gorm.DB) *CursorRepo { return &CursorRepo{db: db} }

// Load 没有记录说明是第一次运行，返回 ok=false
func (r *CursorRepo) Load(ctx context.Context, name string) (height uint64, ok bool, err error) {
	start := time.Now()
	defer func() { observe("load_cursor", start, err) }()

	var row ScanCursor
	err = r.db.WithContext(ctx).Where("name = ?", name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, xerr.Wrap(err, xerr.DbError, "query cursor")
	}
	return row.Height, true, nil
}

// Store upsert：不存在则插入，存在则更新
func (r *CursorRepo) Store(ctx context.Context, name string, height uint64) (err error) {
	start := time.Now()
	defer func() { observe("store_cursor", start, err) }()

	row := &ScanCursor{Name: name, Height: height, UpdatedAt: time.Now().UTC()}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"height", "updated_at"}),
	}).Create(row).Error
	if err != nil {
		return xerr.Wrap(err, xerr.DbError, "update cursor")
	}
	return nil
}
