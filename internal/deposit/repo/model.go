package repo

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Wei 金额列。sqlite 的 decimal 实际按 REAL/INTEGER 存，超过 2^63 会丢精度，所以 sqlite 下存十进制字符串
type Wei struct {
	decimal.Decimal
}

func NewWei(d decimal.Decimal) Wei { return Wei{Decimal: d} }

func (Wei) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "sqlite" {
		return "text"
	}
	return "decimal(65,0)"
}

// CreditedDeposit 已入账记录，只追加；tx_hash 唯一保证每笔链上交易只入账一次
type CreditedDeposit struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	TxHash      string    `gorm:"type:varchar(66);not null;uniqueIndex:uk_credited_tx_hash"`
	Account     string    `gorm:"type:varchar(42);not null;index:idx_credited_account"`
	Amount      Wei       `gorm:"not null"`
	BlockNumber uint64    `gorm:"not null"`
	CreditedAt  time.Time `gorm:"not null"`
}

func (CreditedDeposit) TableName() string { return "credited_deposits" }

// AccountBalance 只在插入 CreditedDeposit 的同一个事务里修改
type AccountBalance struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	Account   string `gorm:"type:varchar(42);not null;uniqueIndex:uk_balance_account"`
	Balance   Wei    `gorm:"not null"`
	Version   int64  `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

func (AccountBalance) TableName() string { return "account_balances" }

// PendingClaim 暂时没有结论的声明，到 Done / Rejected 就删掉
type PendingClaim struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement"`
	TxHash        string    `gorm:"type:varchar(66);not null;uniqueIndex:uk_pending_tx_hash"`
	Reason        string    `gorm:"type:varchar(32);not null"`
	Attempts      int       `gorm:"not null;default:0"`
	FirstSeenAt   time.Time `gorm:"not null"`
	NextAttemptAt time.Time `gorm:"not null;index:idx_pending_next_attempt"`
	LastError     string    `gorm:"type:varchar(512)"`
}

func (PendingClaim) TableName() string { return "pending_claims" }

// ScanCursor 扫块进度：height 及之前的块都已处理
type ScanCursor struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"type:varchar(64);not null;uniqueIndex:uk_cursor_name"`
	Height    uint64 `gorm:"not null"`
	UpdatedAt time.Time
}

func (ScanCursor) TableName() string { return "scan_cursors" }

// Migrate 建表 (开发环境 / 测试用，生产走迁移脚本)
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&CreditedDeposit{}, &AccountBalance{}, &PendingClaim{}, &ScanCursor{})
}
