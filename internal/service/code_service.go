package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"corebank/internal/config"
	"corebank/internal/model"
	"corebank/internal/repository"

	"github.com/sirupsen/logrus"
)

// 32 symbols so that every random byte maps to a symbol without bias.
// 0/O and 1/I are left out.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

type CodeService struct {
	store  repository.Store
	cfg    config.CodesConfig
	random io.Reader
	now    func() time.Time
	log    *logrus.Entry
}

type CodeOption func(*CodeService)

// WithRandom replaces the crypto/rand source used for code strings.
func WithRandom(r io.Reader) CodeOption {
	return func(s *CodeService) { s.random = r }
}

func WithCodeClock(now func() time.Time) CodeOption {
	return func(s *CodeService) { s.now = now }
}

func NewCodeService(store repository.Store, cfg config.CodesConfig, opts ...CodeOption) *CodeService {
	if cfg.MaxGenerateAttempts <= 0 {
		cfg.MaxGenerateAttempts = 5
	}
	if cfg.RandomLength <= 0 {
		cfg.RandomLength = 8
	}
	if cfg.DefaultExpiry <= 0 {
		cfg.DefaultExpiry = 24 * time.Hour
	}
	s := &CodeService{
		store:  store,
		cfg:    cfg,
		random: rand.Reader,
		now:    time.Now,
		log:    logrus.WithField("component", "codes"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type GenerateCodeRequest struct {
	Type      string
	Amount    *int64 // ceiling, nil for unrestricted
	Expiry    time.Duration
	CreatedBy int64
	Notes     string
}

func validCodeType(t string) bool {
	switch t {
	case model.TransactionTypeDeposit, model.TransactionTypeWithdrawal, model.TransactionTypeTransfer:
		return true
	}
	return false
}

// Generate issues a new unused code. Collisions with any existing code,
// used or not, are retried up to the configured attempt count.
func (s *CodeService) Generate(ctx context.Context, req *GenerateCodeRequest) (*model.AuthorizationCode, error) {
	if !validCodeType(req.Type) {
		return nil, fmt.Errorf("%w: unsupported code type %q", ErrInvalidRequest, req.Type)
	}
	if req.Amount != nil && *req.Amount <= 0 {
		return nil, fmt.Errorf("%w: ceiling must be positive", ErrAmountOutOfRange)
	}
	expiry := req.Expiry
	if expiry <= 0 {
		expiry = s.cfg.DefaultExpiry
	}

	for attempt := 1; attempt <= s.cfg.MaxGenerateAttempts; attempt++ {
		value, err := s.randomCode()
		if err != nil {
			return nil, fmt.Errorf("generate code: %w", err)
		}

		code := &model.AuthorizationCode{
			Code:          value,
			Type:          req.Type,
			AmountCeiling: req.Amount,
			CreatedBy:     req.CreatedBy,
			ExpiresAt:     s.now().Add(expiry),
			Notes:         req.Notes,
		}
		err = s.store.InTx(ctx, func(tx repository.Tx) error {
			return tx.CreateCode(ctx, code)
		})
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("store code: %w", err)
		}
		s.log.WithField("attempt", attempt).Warn("authorization code collision, retrying")
	}
	return nil, ErrCodeGenerationExhausted
}

func (s *CodeService) randomCode() (string, error) {
	buf := make([]byte, s.cfg.RandomLength)
	if _, err := io.ReadFull(s.random, buf); err != nil {
		return "", err
	}
	var b strings.Builder
	b.Grow(len(s.cfg.Prefix) + len(buf))
	b.WriteString(s.cfg.Prefix)
	for _, c := range buf {
		b.WriteByte(codeAlphabet[int(c)%len(codeAlphabet)])
	}
	return b.String(), nil
}

type RedeemRequest struct {
	Code           string
	UserID         int64
	Type           string
	Amount         int64
	TransactionRef string
}

// Redeem claims the code inside tx. The row stays locked until tx ends, and
// the used flag only persists if the rest of tx commits.
func (s *CodeService) Redeem(ctx context.Context, tx repository.Tx, req *RedeemRequest) (*model.AuthorizationCode, error) {
	code, err := tx.LockCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, repository.ErrCodeNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, err
	}
	if err := s.validate(code, req.Type, req.Amount); err != nil {
		return nil, err
	}

	now := s.now()
	userID, ref := req.UserID, req.TransactionRef
	code.Used = true
	code.UsedAt = &now
	code.UsedBy = &userID
	code.TransactionRef = &ref
	if err := tx.UpdateCode(ctx, code); err != nil {
		return nil, err
	}
	return code, nil
}

// Check runs the redemption checks without claiming the code.
func (s *CodeService) Check(ctx context.Context, value, txType string, amount int64) (*model.AuthorizationCode, error) {
	code, err := s.Get(ctx, value)
	if err != nil {
		return nil, err
	}
	if err := s.validate(code, txType, amount); err != nil {
		return code, err
	}
	return code, nil
}

func (s *CodeService) Get(ctx context.Context, value string) (*model.AuthorizationCode, error) {
	code, err := s.store.GetCode(ctx, value)
	if err != nil {
		if errors.Is(err, repository.ErrCodeNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, err
	}
	return code, nil
}

func (s *CodeService) validate(code *model.AuthorizationCode, txType string, amount int64) error {
	switch {
	case code.Expired(s.now()):
		return ErrCodeExpired
	case code.Used:
		return ErrCodeAlreadyUsed
	case code.Type != txType:
		return fmt.Errorf("%w: code is for %s", ErrTypeMismatch, code.Type)
	case code.AmountCeiling != nil && amount > *code.AmountCeiling:
		return fmt.Errorf("%w: %d > %d", ErrAmountExceedsCeiling, amount, *code.AmountCeiling)
	}
	return nil
}
