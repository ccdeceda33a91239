package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"corebank/internal/audit"
	"corebank/internal/model"
	"corebank/internal/service"
	"corebank/pkg/response"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	accounts *service.AccountService
	ledger   *service.LedgerService
	codes    *service.CodeService
	audit    audit.Logger
}

func NewHandler(accounts *service.AccountService, ledger *service.LedgerService, codes *service.CodeService, auditLog audit.Logger) *Handler {
	return &Handler{
		accounts: accounts,
		ledger:   ledger,
		codes:    codes,
		audit:    auditLog,
	}
}

// fail maps a service error onto an HTTP status and the response envelope.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	var typed *service.Error
	if !errors.As(err, &typed) {
		response.ServerError(c, "internal server error")
		return
	}
	switch typed.Kind {
	case service.KindValidation:
		response.Fail(c, http.StatusBadRequest, response.CodeValidationFailed, typed.Code, err.Error(), false)
	case service.KindState:
		status := http.StatusConflict
		switch typed {
		case service.ErrAccountNotFound, service.ErrTransactionNotFound, service.ErrCodeNotFound:
			status = http.StatusNotFound
		case service.ErrRecipientNotFound:
			status = http.StatusUnprocessableEntity
		}
		response.Fail(c, status, response.CodeStateConflict, typed.Code, err.Error(), false)
	case service.KindContention:
		response.Fail(c, http.StatusConflict, response.CodeContention, typed.Code, err.Error(), true)
	default:
		response.Fail(c, http.StatusInternalServerError, response.CodeServerError, typed.Code, "internal server error", false)
	}
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

// ownedAccount loads the account and checks that the caller may act on it.
func (h *Handler) ownedAccount(c *gin.Context, id int64) (*model.Account, bool) {
	account, err := h.accounts.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return nil, false
	}
	if !isAdmin(c) && account.UserID != actorID(c) {
		response.Forbidden(c, "account belongs to another user")
		return nil, false
	}
	return account, true
}

func (h *Handler) rejected(c *gin.Context, op, subject string, err error) {
	h.audit.RecordEvent(c.Request.Context(), audit.EventOperationRejected, actorID(c), subject, map[string]any{
		"op":     op,
		"reason": service.CodeOf(err),
	})
	fail(c, err)
}

// ============================================================
// Accounts
// ============================================================

type OpenAccountRequest struct {
	UserID      int64  `json:"user_id"` // admin only; defaults to the caller
	Currency    string `json:"currency" binding:"required,len=3"`
	AccountType string `json:"account_type"`
}

// OpenAccount POST /api/v1/accounts
func (h *Handler) OpenAccount(c *gin.Context) {
	var req OpenAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	userID := actorID(c)
	if req.UserID != 0 && req.UserID != userID {
		if !isAdmin(c) {
			response.Forbidden(c, "cannot open an account for another user")
			return
		}
		userID = req.UserID
	}

	account, err := h.accounts.Open(c.Request.Context(), &service.OpenAccountRequest{
		UserID:      userID,
		Currency:    req.Currency,
		AccountType: req.AccountType,
	})
	if err != nil {
		fail(c, err)
		return
	}
	h.audit.RecordEvent(c.Request.Context(), audit.EventAccountOpened, actorID(c), account.AccountNumber, map[string]any{
		"account_id": account.ID,
		"user_id":    account.UserID,
		"type":       account.AccountType,
	})
	response.Created(c, account)
}

// GetAccount GET /api/v1/accounts/:id
func (h *Handler) GetAccount(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	account, ok := h.ownedAccount(c, id)
	if !ok {
		return
	}
	response.Success(c, account)
}

// ListTransactions GET /api/v1/accounts/:id/transactions?page=1&page_size=20
func (h *Handler) ListTransactions(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if _, ok := h.ownedAccount(c, id); !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	rows, total, err := h.accounts.History(c.Request.Context(), id, page, pageSize)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":      rows,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

type ChangeStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason"`
}

// ChangeAccountStatus PUT /api/v1/accounts/:id/status (admin)
func (h *Handler) ChangeAccountStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req ChangeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	account, err := h.accounts.ChangeStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		fail(c, err)
		return
	}
	h.audit.RecordEvent(c.Request.Context(), audit.EventAccountStatus, actorID(c), account.AccountNumber, map[string]any{
		"account_id": account.ID,
		"status":     account.Status,
		"reason":     req.Reason,
	})
	response.Success(c, account)
}

// ============================================================
// Ledger
// ============================================================

type MovementRequest struct {
	AccountID      int64          `json:"account_id" binding:"required"`
	Amount         int64          `json:"amount" binding:"required,gt=0"`
	Fee            *int64         `json:"fee"` // admin only
	Channel        string         `json:"channel"`
	Description    string         `json:"description"`
	Metadata       model.Metadata `json:"metadata"`
	AuthCode       string         `json:"auth_code"`
	IdempotencyKey string         `json:"idempotency_key"`
}

func idempotencyKey(c *gin.Context, body string) string {
	if key := c.GetHeader("Idempotency-Key"); key != "" {
		return key
	}
	return body
}

// Deposit POST /api/v1/ledger/deposit
//
// Customers can only deposit into their own account and need an
// authorization code issued by an administrator.
func (h *Handler) Deposit(c *gin.Context) {
	var req MovementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	account, ok := h.ownedAccount(c, req.AccountID)
	if !ok {
		return
	}
	if !isAdmin(c) && req.AuthCode == "" {
		response.Forbidden(c, "an authorization code is required")
		return
	}

	trans, err := h.ledger.Deposit(c.Request.Context(), &service.DepositRequest{
		AccountID:      account.ID,
		Amount:         req.Amount,
		Channel:        req.Channel,
		Description:    req.Description,
		Metadata:       req.Metadata,
		AuthCode:       req.AuthCode,
		ActorID:        actorID(c),
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
	})
	if err != nil {
		h.rejected(c, model.TransactionTypeDeposit, account.AccountNumber, err)
		return
	}
	h.audit.RecordEvent(c.Request.Context(), audit.EventDeposit, actorID(c), account.AccountNumber, map[string]any{
		"reference": trans.Reference,
		"amount":    trans.Amount,
		"auth_code": req.AuthCode,
	})
	response.Success(c, trans)
}

// Withdraw POST /api/v1/ledger/withdraw
//
// Like deposits, customer withdrawals consume an authorization code.
func (h *Handler) Withdraw(c *gin.Context) {
	var req MovementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	account, ok := h.ownedAccount(c, req.AccountID)
	if !ok {
		return
	}
	if req.Fee != nil && !isAdmin(c) {
		response.Forbidden(c, "only administrators may set the fee")
		return
	}
	if !isAdmin(c) && req.AuthCode == "" {
		response.Forbidden(c, "an authorization code is required")
		return
	}

	trans, err := h.ledger.Withdraw(c.Request.Context(), &service.WithdrawRequest{
		AccountID:      account.ID,
		Amount:         req.Amount,
		Fee:            req.Fee,
		Channel:        req.Channel,
		Description:    req.Description,
		Metadata:       req.Metadata,
		AuthCode:       req.AuthCode,
		ActorID:        actorID(c),
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
	})
	if err != nil {
		h.rejected(c, model.TransactionTypeWithdrawal, account.AccountNumber, err)
		return
	}
	h.audit.RecordEvent(c.Request.Context(), audit.EventWithdrawal, actorID(c), account.AccountNumber, map[string]any{
		"reference": trans.Reference,
		"amount":    trans.Amount,
		"fee":       trans.Fee,
		"channel":   trans.Channel,
	})
	response.Success(c, trans)
}

type TransferRequest struct {
	AccountID              int64          `json:"account_id" binding:"required"`
	RecipientAccountNumber string         `json:"recipient_account_number" binding:"required"`
	Amount                 int64          `json:"amount" binding:"required,gt=0"`
	Fee                    *int64         `json:"fee"` // admin only
	Description            string         `json:"description"`
	Metadata               model.Metadata `json:"metadata"`
	AuthCode               string         `json:"auth_code"`
	IdempotencyKey         string         `json:"idempotency_key"`
}

// Transfer POST /api/v1/ledger/transfer
//
// Customer transfers consume a transfer authorization code.
func (h *Handler) Transfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	account, ok := h.ownedAccount(c, req.AccountID)
	if !ok {
		return
	}
	if req.Fee != nil && !isAdmin(c) {
		response.Forbidden(c, "only administrators may set the fee")
		return
	}
	if !isAdmin(c) && req.AuthCode == "" {
		response.Forbidden(c, "an authorization code is required")
		return
	}

	trans, err := h.ledger.Transfer(c.Request.Context(), &service.TransferRequest{
		SenderAccountID:        account.ID,
		RecipientAccountNumber: req.RecipientAccountNumber,
		Amount:                 req.Amount,
		Fee:                    req.Fee,
		Description:            req.Description,
		Metadata:               req.Metadata,
		AuthCode:               req.AuthCode,
		ActorID:                actorID(c),
		IdempotencyKey:         idempotencyKey(c, req.IdempotencyKey),
	})
	if err != nil {
		h.rejected(c, model.TransactionTypeTransfer, account.AccountNumber, err)
		return
	}
	h.audit.RecordEvent(c.Request.Context(), audit.EventTransfer, actorID(c), account.AccountNumber, map[string]any{
		"reference": trans.Reference,
		"recipient": req.RecipientAccountNumber,
		"amount":    trans.Amount,
		"fee":       trans.Fee,
	})
	response.Success(c, trans)
}

type ReverseRequest struct {
	Reference string `json:"reference" binding:"required"`
	Reason    string `json:"reason" binding:"required"`
}

// Reverse POST /api/v1/ledger/reverse (admin)
func (h *Handler) Reverse(c *gin.Context) {
	var req ReverseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	rows, err := h.ledger.Reverse(c.Request.Context(), &service.ReverseRequest{
		Reference: req.Reference,
		ActorID:   actorID(c),
		Reason:    req.Reason,
	})
	if err != nil {
		h.rejected(c, "reversal", req.Reference, err)
		return
	}
	refs := make([]string, 0, len(rows))
	for _, row := range rows {
		refs = append(refs, row.Reference)
	}
	h.audit.RecordEvent(c.Request.Context(), audit.EventReversal, actorID(c), req.Reference, map[string]any{
		"refunds": refs,
		"reason":  req.Reason,
	})
	response.Success(c, gin.H{"reversal_of": req.Reference, "transactions": rows})
}

// GetTransaction GET /api/v1/ledger/transactions/:reference
func (h *Handler) GetTransaction(c *gin.Context) {
	trans, err := h.accounts.GetTransaction(c.Request.Context(), c.Param("reference"))
	if err != nil {
		fail(c, err)
		return
	}
	if _, ok := h.ownedAccount(c, trans.AccountID); !ok {
		return
	}
	response.Success(c, trans)
}

// QuoteFee GET /api/v1/ledger/fee?type=withdrawal&channel=wire&amount=10000
func (h *Handler) QuoteFee(c *gin.Context) {
	amount, err := strconv.ParseInt(c.Query("amount"), 10, 64)
	if err != nil {
		response.ParamError(c, "amount must be an integer in minor units")
		return
	}
	txType := c.Query("type")
	channel := c.DefaultQuery("channel", model.ChannelInternal)

	policy := h.ledger.Policy()
	if err := policy.ValidateAmount(amount, txType); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"type":    txType,
		"channel": channel,
		"amount":  amount,
		"fee":     policy.ComputeFee(amount, txType, channel),
	})
}

// ============================================================
// Authorization codes
// ============================================================

type GenerateCodeRequest struct {
	Type   string `json:"type" binding:"required,oneof=deposit withdrawal transfer"`
	Amount *int64 `json:"amount"`
	Expiry string `json:"expiry"` // Go duration, e.g. "2h"
	Notes  string `json:"notes"`
}

// GenerateCode POST /api/v1/codes (admin)
func (h *Handler) GenerateCode(c *gin.Context) {
	var req GenerateCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	var expiry time.Duration
	if req.Expiry != "" {
		d, err := time.ParseDuration(req.Expiry)
		if err != nil || d <= 0 {
			response.ParamError(c, "expiry must be a positive duration")
			return
		}
		expiry = d
	}

	code, err := h.codes.Generate(c.Request.Context(), &service.GenerateCodeRequest{
		Type:      req.Type,
		Amount:    req.Amount,
		Expiry:    expiry,
		CreatedBy: actorID(c),
		Notes:     req.Notes,
	})
	if err != nil {
		fail(c, err)
		return
	}
	h.audit.RecordEvent(c.Request.Context(), audit.EventCodeGenerated, actorID(c), code.Code, map[string]any{
		"type":       code.Type,
		"ceiling":    code.AmountCeiling,
		"expires_at": code.ExpiresAt,
	})
	response.Created(c, code)
}

// CheckCode GET /api/v1/codes/:code/check?type=deposit&amount=5000
func (h *Handler) CheckCode(c *gin.Context) {
	amount, err := strconv.ParseInt(c.DefaultQuery("amount", "0"), 10, 64)
	if err != nil {
		response.ParamError(c, "amount must be an integer in minor units")
		return
	}
	code, err := h.codes.Check(c.Request.Context(), c.Param("code"), c.Query("type"), amount)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"code":       code.Code,
		"type":       code.Type,
		"ceiling":    code.AmountCeiling,
		"expires_at": code.ExpiresAt,
		"valid":      true,
	})
}
