package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"corebank/internal/config"
	"corebank/internal/model"
	"corebank/internal/repository/memory"
	"corebank/internal/service"
	"corebank/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type auditEntry struct {
	event   string
	actor   int64
	details map[string]any
}

type memoryAudit struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (a *memoryAudit) RecordEvent(_ context.Context, event string, actor int64, _ string, details map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, auditEntry{event: event, actor: actor, details: details})
}

func (a *memoryAudit) events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.event)
	}
	return out
}

type testServer struct {
	router *gin.Engine
	audit  *memoryAudit
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.NewStore(time.Second)
	policy, err := service.NewPolicy(config.LedgerConfig{
		MinAmount: 1,
		MaxAmount: 1_000_000,
		Fees: map[string]map[string]config.FeeRule{
			model.TransactionTypeWithdrawal: {model.ChannelCash: {Fixed: 100}},
		},
		DailyWindowTZ: "UTC",
	})
	require.NoError(t, err)
	codes := service.NewCodeService(store, config.CodesConfig{Prefix: "AUTH", RandomLength: 8, DefaultExpiry: time.Hour})
	ledger := service.NewLedgerService(store, policy, codes)
	accounts := service.NewAccountService(store, nil)

	auditLog := &memoryAudit{}
	h := NewHandler(accounts, ledger, codes, auditLog)
	return &testServer{router: SetupRouter(h, testSecret, gin.TestMode), audit: auditLog}
}

func token(t *testing.T, userID int64, role string) string {
	t.Helper()
	tok, err := GenerateToken(userID, role, testSecret, time.Hour)
	require.NoError(t, err)
	return tok
}

type result struct {
	status int
	body   response.Response
	data   map[string]any
}

func (s *testServer) do(t *testing.T, method, path, tok string, body any, headers ...string) result {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	res := result{status: w.Code}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res.body), w.Body.String())
	if m, ok := res.body.Data.(map[string]any); ok {
		res.data = m
	}
	return res
}

func idOf(t *testing.T, data map[string]any) int64 {
	t.Helper()
	v, ok := data["id"].(float64)
	require.True(t, ok)
	return int64(v)
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)
	res := s.do(t, http.MethodGet, "/api/v1/accounts/1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.status)

	forged, err := GenerateToken(1, RoleAdmin, "other-secret", time.Hour)
	require.NoError(t, err)
	res = s.do(t, http.MethodGet, "/api/v1/accounts/1", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, res.status)
}

func TestAccountAndMovementFlow(t *testing.T) {
	s := newTestServer(t)
	admin := token(t, 1, RoleAdmin)
	alice := token(t, 100, "user")
	bob := token(t, 200, "user")

	res := s.do(t, http.MethodPost, "/api/v1/accounts", alice, gin.H{"currency": "usd", "account_type": "current"})
	require.Equal(t, http.StatusCreated, res.status)
	aliceID := idOf(t, res.data)
	res = s.do(t, http.MethodPost, "/api/v1/accounts", bob, gin.H{"currency": "USD", "account_type": "current"})
	require.Equal(t, http.StatusCreated, res.status)
	bobID := idOf(t, res.data)
	bobNumber := res.data["account_number"].(string)

	res = s.do(t, http.MethodPost, "/api/v1/accounts", alice, gin.H{"currency": "USD"})
	assert.Equal(t, http.StatusConflict, res.status)
	assert.Equal(t, "AccountExists", res.body.Reason)

	// customers cannot see each other's accounts
	res = s.do(t, http.MethodGet, "/api/v1/accounts/"+strconv.FormatInt(bobID, 10), alice, nil)
	assert.Equal(t, http.StatusForbidden, res.status)

	// customer deposits need a code
	res = s.do(t, http.MethodPost, "/api/v1/ledger/deposit", alice, gin.H{"account_id": aliceID, "amount": 5000})
	assert.Equal(t, http.StatusForbidden, res.status)

	res = s.do(t, http.MethodPost, "/api/v1/codes", alice, gin.H{"type": "deposit"})
	assert.Equal(t, http.StatusForbidden, res.status)
	res = s.do(t, http.MethodPost, "/api/v1/codes", admin, gin.H{"type": "deposit", "amount": 5000, "expiry": "30m"})
	require.Equal(t, http.StatusCreated, res.status)
	code := res.data["code"].(string)

	res = s.do(t, http.MethodGet, "/api/v1/codes/"+code+"/check?type=deposit&amount=6000", alice, nil)
	assert.Equal(t, http.StatusBadRequest, res.status)
	assert.Equal(t, "AmountExceedsCeiling", res.body.Reason)

	res = s.do(t, http.MethodPost, "/api/v1/ledger/deposit", alice, gin.H{"account_id": aliceID, "amount": 5000, "auth_code": code})
	require.Equal(t, http.StatusOK, res.status)
	assert.EqualValues(t, 5000, res.data["new_balance"])

	res = s.do(t, http.MethodPost, "/api/v1/ledger/deposit", alice, gin.H{"account_id": aliceID, "amount": 5000, "auth_code": code})
	assert.Equal(t, http.StatusConflict, res.status)
	assert.Equal(t, "CodeAlreadyUsed", res.body.Reason)

	// only admins choose the fee
	res = s.do(t, http.MethodPost, "/api/v1/ledger/withdraw", alice, gin.H{"account_id": aliceID, "amount": 1000, "fee": 0})
	assert.Equal(t, http.StatusForbidden, res.status)

	res = s.do(t, http.MethodPost, "/api/v1/codes", admin, gin.H{"type": "withdrawal", "amount": 2000})
	require.Equal(t, http.StatusCreated, res.status)
	withdrawCode := res.data["code"].(string)

	res = s.do(t, http.MethodPost, "/api/v1/ledger/withdraw", alice, gin.H{"account_id": aliceID, "amount": 1000, "auth_code": withdrawCode}, "Idempotency-Key", "w-1")
	require.Equal(t, http.StatusOK, res.status)
	assert.EqualValues(t, 100, res.data["fee"])
	assert.EqualValues(t, 3900, res.data["new_balance"])
	withdrawRef := res.data["reference"].(string)

	res = s.do(t, http.MethodPost, "/api/v1/ledger/withdraw", alice, gin.H{"account_id": aliceID, "amount": 1000, "auth_code": withdrawCode}, "Idempotency-Key", "w-1")
	require.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, withdrawRef, res.data["reference"])

	// admins move money without a code
	res = s.do(t, http.MethodPost, "/api/v1/ledger/withdraw", admin, gin.H{"account_id": aliceID, "amount": 100_000})
	assert.Equal(t, http.StatusConflict, res.status)
	assert.Equal(t, "InsufficientBalance", res.body.Reason)
	assert.Equal(t, response.CodeStateConflict, res.body.Code)

	res = s.do(t, http.MethodPost, "/api/v1/ledger/transfer", admin, gin.H{"account_id": aliceID, "recipient_account_number": "0000000000", "amount": 100})
	assert.Equal(t, http.StatusUnprocessableEntity, res.status)
	assert.Equal(t, "RecipientNotFound", res.body.Reason)

	res = s.do(t, http.MethodPost, "/api/v1/codes", admin, gin.H{"type": "transfer"})
	require.Equal(t, http.StatusCreated, res.status)
	transferCode := res.data["code"].(string)

	res = s.do(t, http.MethodPost, "/api/v1/ledger/transfer", alice, gin.H{"account_id": aliceID, "recipient_account_number": bobNumber, "amount": 1500, "auth_code": transferCode})
	require.Equal(t, http.StatusOK, res.status)
	assert.EqualValues(t, 2400, res.data["new_balance"])
	transferRef := res.data["reference"].(string)

	res = s.do(t, http.MethodGet, "/api/v1/ledger/transactions/"+transferRef, bob, nil)
	assert.Equal(t, http.StatusForbidden, res.status)
	res = s.do(t, http.MethodGet, "/api/v1/ledger/transactions/"+transferRef, alice, nil)
	assert.Equal(t, http.StatusOK, res.status)

	res = s.do(t, http.MethodPost, "/api/v1/ledger/reverse", alice, gin.H{"reference": transferRef, "reason": "mistake"})
	assert.Equal(t, http.StatusForbidden, res.status)
	res = s.do(t, http.MethodPost, "/api/v1/ledger/reverse", admin, gin.H{"reference": transferRef, "reason": "mistake"})
	require.Equal(t, http.StatusOK, res.status)
	assert.Len(t, res.data["transactions"], 2)

	res = s.do(t, http.MethodGet, "/api/v1/accounts/"+strconv.FormatInt(aliceID, 10)+"/transactions?page=1&page_size=2", alice, nil)
	require.Equal(t, http.StatusOK, res.status)
	assert.EqualValues(t, 4, res.data["total"])
	assert.Len(t, res.data["list"], 2)

	res = s.do(t, http.MethodGet, "/api/v1/accounts/"+strconv.FormatInt(aliceID, 10), alice, nil)
	require.Equal(t, http.StatusOK, res.status)
	assert.EqualValues(t, 3900, res.data["balance"])

	assert.Equal(t, []string{
		"account.opened", "account.opened", "code.generated", "ledger.deposit", "ledger.rejected",
		"code.generated", "ledger.withdrawal", "ledger.withdrawal", "ledger.rejected", "ledger.rejected",
		"code.generated", "ledger.transfer", "ledger.reversal",
	}, s.audit.events())
}

func TestCustomerMovementsNeedACode(t *testing.T) {
	s := newTestServer(t)
	admin := token(t, 1, RoleAdmin)
	carol := token(t, 500, "user")

	res := s.do(t, http.MethodPost, "/api/v1/accounts", carol, gin.H{"currency": "USD"})
	require.Equal(t, http.StatusCreated, res.status)
	carolID := idOf(t, res.data)
	res = s.do(t, http.MethodPost, "/api/v1/accounts", token(t, 600, "user"), gin.H{"currency": "USD"})
	require.Equal(t, http.StatusCreated, res.status)
	daveNumber := res.data["account_number"].(string)

	res = s.do(t, http.MethodPost, "/api/v1/ledger/deposit", admin, gin.H{"account_id": carolID, "amount": 10_000})
	require.Equal(t, http.StatusOK, res.status)

	res = s.do(t, http.MethodPost, "/api/v1/ledger/withdraw", carol, gin.H{"account_id": carolID, "amount": 1000})
	assert.Equal(t, http.StatusForbidden, res.status)
	res = s.do(t, http.MethodPost, "/api/v1/ledger/transfer", carol, gin.H{"account_id": carolID, "recipient_account_number": daveNumber, "amount": 1000})
	assert.Equal(t, http.StatusForbidden, res.status)

	// a deposit code does not authorize a withdrawal
	res = s.do(t, http.MethodPost, "/api/v1/codes", admin, gin.H{"type": "deposit"})
	require.Equal(t, http.StatusCreated, res.status)
	res = s.do(t, http.MethodPost, "/api/v1/ledger/withdraw", carol, gin.H{"account_id": carolID, "amount": 1000, "auth_code": res.data["code"]})
	assert.Equal(t, http.StatusBadRequest, res.status)
	assert.Equal(t, "TypeMismatch", res.body.Reason)

	res = s.do(t, http.MethodGet, "/api/v1/accounts/"+strconv.FormatInt(carolID, 10), carol, nil)
	require.Equal(t, http.StatusOK, res.status)
	assert.EqualValues(t, 10_000, res.data["balance"])
}

func TestChangeStatusEndpoint(t *testing.T) {
	s := newTestServer(t)
	admin := token(t, 1, RoleAdmin)
	user := token(t, 300, "user")

	res := s.do(t, http.MethodPost, "/api/v1/accounts", user, gin.H{"currency": "EUR"})
	require.Equal(t, http.StatusCreated, res.status)
	path := "/api/v1/accounts/" + strconv.FormatInt(idOf(t, res.data), 10) + "/status"

	res = s.do(t, http.MethodPut, path, user, gin.H{"status": "frozen"})
	assert.Equal(t, http.StatusForbidden, res.status)

	res = s.do(t, http.MethodPut, path, admin, gin.H{"status": "frozen", "reason": "fraud review"})
	require.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, "frozen", res.data["status"])

	res = s.do(t, http.MethodPut, path, admin, gin.H{"status": "suspended"})
	assert.Equal(t, http.StatusConflict, res.status)
	assert.Equal(t, "InvalidStatusTransition", res.body.Reason)

	res = s.do(t, http.MethodPut, "/api/v1/accounts/abc/status", admin, gin.H{"status": "active"})
	assert.Equal(t, http.StatusBadRequest, res.status)
	res = s.do(t, http.MethodPut, "/api/v1/accounts/9999/status", admin, gin.H{"status": "active"})
	assert.Equal(t, http.StatusNotFound, res.status)
}

func TestQuoteFee(t *testing.T) {
	s := newTestServer(t)
	user := token(t, 400, "user")

	res := s.do(t, http.MethodGet, "/api/v1/ledger/fee?type=withdrawal&channel=cash&amount=5000", user, nil)
	require.Equal(t, http.StatusOK, res.status)
	assert.EqualValues(t, 100, res.data["fee"])

	res = s.do(t, http.MethodGet, "/api/v1/ledger/fee?type=withdrawal&amount=0", user, nil)
	assert.Equal(t, http.StatusBadRequest, res.status)
	assert.Equal(t, "AmountOutOfRange", res.body.Reason)

	res = s.do(t, http.MethodGet, "/api/v1/ledger/fee?type=withdrawal&amount=ten", user, nil)
	assert.Equal(t, http.StatusBadRequest, res.status)
}

func TestFailMapsContention(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	fail(c, service.ErrContention)

	assert.Equal(t, http.StatusConflict, w.Code)
	var body response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, response.CodeContention, body.Code)
	assert.True(t, body.Retryable)
}

func TestParseTokenRejectsMissingUser(t *testing.T) {
	tok, err := GenerateToken(0, RoleAdmin, testSecret, time.Hour)
	require.NoError(t, err)
	_, err = ParseToken(tok, testSecret)
	assert.Error(t, err)

	expired, err := GenerateToken(5, RoleAdmin, testSecret, -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(expired, testSecret)
	assert.Error(t, err)
}
