package handler

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"depositgate.com/internal/deposit"
	"depositgate.com/internal/deposit/domain"
	"depositgate.com/pkg/common"
	"depositgate.com/pkg/logger"
	"depositgate.com/pkg/xerr"
)

// Service handler 依赖的业务能力
type Service interface {
	DepositInfo() domain.Info
	DepositBalance(ctx context.Context) (*big.Int, error)
	SubmitClaim(ctx context.Context, claim domain.Claim) (*domain.Result, error)
	Balance(ctx context.Context, account string) (string, *big.Int, error)
	Credit(ctx context.Context, txHash string) (*domain.Credit, error)
	Credits(ctx context.Context, account string, page, limit int) ([]*domain.Credit, error)
}

type Deposit struct {
	svc      Service
	decimals int32
}

func NewDeposit(svc Service, decimals int32) *Deposit {
	return &Deposit{svc: svc, decimals: decimals}
}

type submitReq struct {
	TransactionHash string `json:"transaction_hash"`
}

var rejectMessages = map[domain.Reason]string{
	domain.ReasonNotFound:          "transaction was not found on chain",
	domain.ReasonWrongRecipient:    "transaction was not sent to the deposit address",
	domain.ReasonTransactionFailed: "transaction failed on chain",
	domain.ReasonBelowMinimum:      "deposit amount is below the minimum deposit",
	domain.ReasonInvalidHash:       "transaction_hash must be 0x followed by 64 hex characters",
}

// Info GET /deposit
// 链不可用时 current_balance 为 null，其余字段照常返回
func (d *Deposit) Info(c *gin.Context) {
	info := d.svc.DepositInfo()
	// 配置里写的 ".5" / "+1" 不是合法 JSON 数字，统一从 wei 换算
	minimum := deposit.FromWei(info.MinimumDeposit, d.decimals).String()

	var current, currentWei any
	bal, err := d.svc.DepositBalance(c.Request.Context())
	if err != nil {
		logger.Warn(c, "deposit address balance unavailable", zap.Error(err))
	} else {
		current = json.Number(deposit.FromWei(bal, d.decimals).String())
		currentWei = bal.String()
	}

	c.JSON(http.StatusOK, gin.H{
		"deposit_address":        info.DepositAddress,
		"minimum_deposit":        json.Number(minimum),
		"minimum_deposit_wei":    info.MinimumDeposit.String(),
		"current_balance":        current,
		"current_balance_wei":    currentWei,
		"required_confirmations": info.RequiredConfirmations,
		"instructions": "Send at least " + minimum + " ETH to " + info.DepositAddress +
			", then POST the transaction hash to /deposit. The deposit is credited to the sending address after " +
			strconv.FormatUint(info.RequiredConfirmations, 10) + " confirmations.",
	})
}

// Submit POST /deposit
func (d *Deposit) Submit(c *gin.Context) {
	var req submitReq
	if err := c.ShouldBindJSON(&req); err != nil || req.TransactionHash == "" {
		rejected(c, http.StatusBadRequest, domain.ReasonInvalidHash, "")
		return
	}

	res, err := d.svc.SubmitClaim(c.Request.Context(), domain.Claim{TxHash: req.TransactionHash})
	if err != nil {
		common.FailFromErr(c, err)
		return
	}

	switch res.Outcome {
	case domain.OutcomeDone:
		c.JSON(http.StatusOK, gin.H{
			"status":           domain.OutcomeDone,
			"transaction_hash": res.TxHash,
			"account":          res.Account,
			"amount":           res.Amount.String(),
			"amount_units":     json.Number(deposit.FromWei(res.Amount, d.decimals).String()),
			"already_credited": res.AlreadyCredited,
		})
	case domain.OutcomePending:
		secs := int64(math.Ceil(res.RetryAfter.Seconds()))
		c.Header("Retry-After", strconv.FormatInt(secs, 10))
		c.JSON(http.StatusOK, gin.H{
			"status":              domain.OutcomePending,
			"transaction_hash":    res.TxHash,
			"reason":              res.Reason,
			"retry_after_seconds": secs,
		})
	default:
		rejected(c, rejectStatus(res.Reason), res.Reason, res.TxHash)
	}
}

// Credit GET /deposit/:tx_hash
func (d *Deposit) Credit(c *gin.Context) {
	credit, err := d.svc.Credit(c.Request.Context(), c.Param("tx_hash"))
	switch {
	case errors.Is(err, domain.ErrInvalidHash):
		common.Fail(c, http.StatusBadRequest, xerr.RequestParamsError, rejectMessages[domain.ReasonInvalidHash])
		return
	case errors.Is(err, domain.ErrCreditNotFound):
		common.Fail(c, http.StatusNotFound, xerr.RecordNotFound, "deposit has not been credited")
		return
	case err != nil:
		common.FailFromErr(c, err)
		return
	}
	c.JSON(http.StatusOK, d.creditView(credit))
}

// Balance GET /balance/:account
func (d *Deposit) Balance(c *gin.Context) {
	account, bal, err := d.svc.Balance(c.Request.Context(), c.Param("account"))
	if errors.Is(err, domain.ErrInvalidAddress) {
		common.Fail(c, http.StatusBadRequest, xerr.RequestParamsError, "account must be a 0x hex address")
		return
	}
	if err != nil {
		common.FailFromErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account":       account,
		"balance":       bal.String(),
		"balance_units": json.Number(deposit.FromWei(bal, d.decimals).String()),
	})
}

// Credits GET /balance/:account/credits?page=1&limit=20
func (d *Deposit) Credits(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	list, err := d.svc.Credits(c.Request.Context(), c.Param("account"), page, limit)
	if errors.Is(err, domain.ErrInvalidAddress) {
		common.Fail(c, http.StatusBadRequest, xerr.RequestParamsError, "account must be a 0x hex address")
		return
	}
	if err != nil {
		common.FailFromErr(c, err)
		return
	}
	items := make([]gin.H, 0, len(list))
	for _, cr := range list {
		items = append(items, d.creditView(cr))
	}
	c.JSON(http.StatusOK, gin.H{"page": page, "limit": limit, "items": items})
}

func (d *Deposit) creditView(cr *domain.Credit) gin.H {
	return gin.H{
		"transaction_hash": cr.TxHash,
		"account":          cr.Account,
		"amount":           cr.Amount.String(),
		"amount_units":     json.Number(deposit.FromWei(cr.Amount, d.decimals).String()),
		"block_number":     cr.BlockNumber,
		"credited_at":      cr.CreditedAt.UTC().Format(time.RFC3339),
	}
}

func rejected(c *gin.Context, status int, reason domain.Reason, txHash string) {
	body := gin.H{
		"status":  domain.OutcomeRejected,
		"reason":  reason,
		"message": rejectMessages[reason],
	}
	if txHash != "" {
		body["transaction_hash"] = txHash
	}
	c.JSON(status, body)
}

func rejectStatus(reason domain.Reason) int {
	switch reason {
	case domain.ReasonInvalidHash:
		return http.StatusBadRequest
	case domain.ReasonNotFound:
		return http.StatusNotFound
	default:
		return http.StatusUnprocessableEntity
	}
}
