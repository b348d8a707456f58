package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/eaglebank/transaction-core/internal/cqrs"
	"github.com/eaglebank/transaction-core/internal/logging"
	"github.com/eaglebank/transaction-core/internal/models"
	"github.com/eaglebank/transaction-core/internal/query"
	"github.com/eaglebank/transaction-core/internal/verify"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// ---- mock implementations ----

type mockCommander struct {
	createFn      func(cqrs.CreateTransferCommand) (*models.Transaction, error)
	createAsyncFn func(cqrs.CreateTransferCommand) (string, error)
	atmFn         func(cqrs.AtmOperationCommand) (*models.Transaction, error)
	freeFn        func(cqrs.FreeTransactionCommand) (*models.Transaction, error)
	acceptFn      func(cqrs.ReviewCommand) (*models.Transaction, error)
	rejectFn      func(cqrs.ReviewCommand) (*models.Transaction, error)
	verifyFn      func(cqrs.AutoVerifyCommand) (*verify.Result, error)
}

func (m *mockCommander) CreateTransfer(_ context.Context, cmd cqrs.CreateTransferCommand) (*models.Transaction, error) {
	if m.createFn != nil {
		return m.createFn(cmd)
	}
	return nil, fmt.Errorf("not configured")
}

func (m *mockCommander) CreateTransferAsync(_ context.Context, cmd cqrs.CreateTransferCommand) (string, error) {
	if m.createAsyncFn != nil {
		return m.createAsyncFn(cmd)
	}
	return "", fmt.Errorf("not configured")
}

func (m *mockCommander) AtmOperation(_ context.Context, cmd cqrs.AtmOperationCommand) (*models.Transaction, error) {
	if m.atmFn != nil {
		return m.atmFn(cmd)
	}
	return nil, fmt.Errorf("not configured")
}

func (m *mockCommander) Free(_ context.Context, cmd cqrs.FreeTransactionCommand) (*models.Transaction, error) {
	if m.freeFn != nil {
		return m.freeFn(cmd)
	}
	return nil, fmt.Errorf("not configured")
}

func (m *mockCommander) Accept(_ context.Context, cmd cqrs.ReviewCommand) (*models.Transaction, error) {
	if m.acceptFn != nil {
		return m.acceptFn(cmd)
	}
	return nil, fmt.Errorf("not configured")
}

func (m *mockCommander) Reject(_ context.Context, cmd cqrs.ReviewCommand) (*models.Transaction, error) {
	if m.rejectFn != nil {
		return m.rejectFn(cmd)
	}
	return nil, fmt.Errorf("not configured")
}

func (m *mockCommander) AutoVerify(_ context.Context, cmd cqrs.AutoVerifyCommand) (*verify.Result, error) {
	if m.verifyFn != nil {
		return m.verifyFn(cmd)
	}
	return nil, fmt.Errorf("not configured")
}

type mockQuerier struct {
	getFn          func(cqrs.GetTransactionQuery) (*models.TransactionView, error)
	confirmationFn func(cqrs.GetConfirmationQuery) (*models.Confirmation, error)
	listFlagsFn    func(cqrs.ListFlagsQuery) ([]models.RiskFlag, error)
	getFlagFn      func(cqrs.GetFlagQuery) (*query.FlagDetail, error)
}

func (m *mockQuerier) GetTransaction(_ context.Context, q cqrs.GetTransactionQuery) (*models.TransactionView, error) {
	if m.getFn != nil {
		return m.getFn(q)
	}
	return nil, fmt.Errorf("not configured")
}

func (m *mockQuerier) GetConfirmation(_ context.Context, q cqrs.GetConfirmationQuery) (*models.Confirmation, error) {
	if m.confirmationFn != nil {
		return m.confirmationFn(q)
	}
	return nil, fmt.Errorf("not configured")
}

func (m *mockQuerier) ListFlags(_ context.Context, q cqrs.ListFlagsQuery) ([]models.RiskFlag, error) {
	if m.listFlagsFn != nil {
		return m.listFlagsFn(q)
	}
	return nil, fmt.Errorf("not configured")
}

func (m *mockQuerier) GetFlag(_ context.Context, q cqrs.GetFlagQuery) (*query.FlagDetail, error) {
	if m.getFlagFn != nil {
		return m.getFlagFn(q)
	}
	return nil, fmt.Errorf("not configured")
}

// ---- helpers ----

func fakeAuth(userID, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("userId", userID)
		c.Set("role", role)
		c.Next()
	}
}

func newTestRouter(cmds *mockCommander, qrys *mockQuerier, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(fakeAuth(userID, "aml"))
	tx := NewTransactionHandler(cmds, qrys)
	atm := NewAtmHandler(cmds)
	review := NewReviewHandler(cmds, qrys)
	v := NewVerifyHandler(cmds)

	v1 := r.Group("/v1")
	v1.POST("/transfers", tx.CreateTransfer)
	v1.GET("/transactions/:transactionId", tx.GetTransaction)
	v1.GET("/transactions/:transactionId/confirmation", tx.GetConfirmation)
	v1.POST("/atm/withdrawals", atm.Withdraw)
	v1.POST("/atm/deposits", atm.Deposit)
	v1.POST("/atm/transactions/:transactionId/free", atm.Free)
	v1.GET("/aml/flags", review.ListFlags)
	v1.GET("/aml/flags/:transactionId", review.GetFlag)
	v1.POST("/aml/transactions/:transactionId/accept", review.Accept)
	v1.POST("/aml/transactions/:transactionId/reject", review.Reject)
	v1.POST("/verify-transaction-auto", v.VerifyTransactionAuto)
	return r
}

func doRequest(router *gin.Engine, method, url string, body interface{}) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, url, nil)
	if body != nil {
		b, _ := json.Marshal(body)
		req, _ = http.NewRequest(method, url, strings.NewReader(string(b)))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// ---- test data ----

var testTransaction = &models.Transaction{
	ID: "tan-000000000001", FromAccountID: "acc-1", ToAccountID: "acc-2",
	Amount: decimal.NewFromInt(60), Type: models.TypeTransfer, Status: models.StatusPending,
	CreatedAt: time.Now(),
}

func transferBody() map[string]interface{} {
	return map[string]interface{}{"senderAccountNumber": "11111111", "receiverAccountNumber": "22222222", "amount": 60}
}

func atmBody() map[string]interface{} {
	return map[string]interface{}{"cardId": "crd-1", "pin": "1234", "atmId": "atm-1", "amount": "50"}
}

// ---- tests ----

func TestCreateTransfer(t *testing.T) {
	tests := []struct {
		name           string
		url            string
		body           interface{}
		createFn       func(cqrs.CreateTransferCommand) (*models.Transaction, error)
		createAsyncFn  func(cqrs.CreateTransferCommand) (string, error)
		expectedStatus int
		expectedKind   string
	}{
		{
			name: "accepted - transfer created",
			url:  "/v1/transfers",
			body: transferBody(),
			createFn: func(cmd cqrs.CreateTransferCommand) (*models.Transaction, error) {
				if cmd.UserID != "usr-1" || !cmd.Amount.Equal(decimal.NewFromInt(60)) {
					return nil, fmt.Errorf("unexpected command %+v", cmd)
				}
				return testTransaction, nil
			},
			expectedStatus: http.StatusAccepted,
		},
		{
			name:           "accepted - deferred create",
			url:            "/v1/transfers?async=true",
			body:           transferBody(),
			createAsyncFn:  func(cmd cqrs.CreateTransferCommand) (string, error) { return "tan-000000000002", nil },
			expectedStatus: http.StatusAccepted,
		},
		{
			name:           "forbidden - sender is not the caller's",
			url:            "/v1/transfers",
			body:           transferBody(),
			createFn:       func(cmd cqrs.CreateTransferCommand) (*models.Transaction, error) { return nil, models.ErrForbidden },
			expectedStatus: http.StatusForbidden,
			expectedKind:   "Forbidden",
		},
		{
			name: "unprocessable entity - insufficient funds",
			url:  "/v1/transfers",
			body: transferBody(),
			createFn: func(cmd cqrs.CreateTransferCommand) (*models.Transaction, error) {
				return nil, fmt.Errorf("%w: balance 10.00", models.ErrInsufficientFunds)
			},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedKind:   "InsufficientFunds",
		},
		{
			name:           "conflict - account busy",
			url:            "/v1/transfers",
			body:           transferBody(),
			createFn:       func(cmd cqrs.CreateTransferCommand) (*models.Transaction, error) { return nil, models.ErrResourceBusy },
			expectedStatus: http.StatusConflict,
			expectedKind:   "ResourceBusy",
		},
		{
			name:           "bad request - missing fields",
			url:            "/v1/transfers",
			body:           map[string]interface{}{},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "bad request - negative amount",
			url:            "/v1/transfers",
			body:           map[string]interface{}{"senderAccountNumber": "11111111", "receiverAccountNumber": "22222222", "amount": -5},
			expectedStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmds := &mockCommander{createFn: tt.createFn, createAsyncFn: tt.createAsyncFn}
			router := newTestRouter(cmds, &mockQuerier{}, "usr-1")
			w := doRequest(router, http.MethodPost, tt.url, tt.body)
			if w.Code != tt.expectedStatus {
				t.Errorf("[%s] expected %d got %d; body: %s", tt.name, tt.expectedStatus, w.Code, w.Body.String())
			}
			if tt.expectedKind != "" && !strings.Contains(w.Body.String(), `"kind":"`+tt.expectedKind+`"`) {
				t.Errorf("[%s] expected kind %s; body: %s", tt.name, tt.expectedKind, w.Body.String())
			}
		})
	}
}

func TestAtmOperations(t *testing.T) {
	tests := []struct {
		name           string
		url            string
		body           interface{}
		atmFn          func(cqrs.AtmOperationCommand) (*models.Transaction, error)
		expectedStatus int
	}{
		{
			name: "accepted - withdrawal",
			url:  "/v1/atm/withdrawals",
			body: atmBody(),
			atmFn: func(cmd cqrs.AtmOperationCommand) (*models.Transaction, error) {
				if cmd.Type != models.TypeWithdrawal || cmd.DeviceID != "atm-1" {
					return nil, fmt.Errorf("unexpected command %+v", cmd)
				}
				return &models.Transaction{ID: "tan-1", DeviceID: "atm-1"}, nil
			},
			expectedStatus: http.StatusAccepted,
		},
		{
			name: "accepted - deposit",
			url:  "/v1/atm/deposits",
			body: atmBody(),
			atmFn: func(cmd cqrs.AtmOperationCommand) (*models.Transaction, error) {
				if cmd.Type != models.TypeDeposit {
					return nil, fmt.Errorf("unexpected command %+v", cmd)
				}
				return &models.Transaction{ID: "tan-1", DeviceID: "atm-1"}, nil
			},
			expectedStatus: http.StatusAccepted,
		},
		{
			name:           "unauthorized - wrong pin",
			url:            "/v1/atm/withdrawals",
			body:           atmBody(),
			atmFn:          func(cmd cqrs.AtmOperationCommand) (*models.Transaction, error) { return nil, models.ErrInvalidCredential },
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "bad request - not a multiple of ten",
			url:            "/v1/atm/withdrawals",
			body:           atmBody(),
			atmFn:          func(cmd cqrs.AtmOperationCommand) (*models.Transaction, error) { return nil, models.ErrInvalidAmount },
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "not found - unknown card",
			url:            "/v1/atm/withdrawals",
			body:           atmBody(),
			atmFn:          func(cmd cqrs.AtmOperationCommand) (*models.Transaction, error) { return nil, models.ErrResourceNotFound },
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "bad request - pin is not four digits",
			url:            "/v1/atm/withdrawals",
			body:           map[string]interface{}{"cardId": "crd-1", "pin": "12ab", "amount": "50"},
			expectedStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&mockCommander{atmFn: tt.atmFn}, &mockQuerier{}, "")
			w := doRequest(router, http.MethodPost, tt.url, tt.body)
			if w.Code != tt.expectedStatus {
				t.Errorf("[%s] expected %d got %d; body: %s", tt.name, tt.expectedStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestFree(t *testing.T) {
	tests := []struct {
		name           string
		freeFn         func(cqrs.FreeTransactionCommand) (*models.Transaction, error)
		expectedStatus int
	}{
		{
			name: "success - pending transaction cancelled",
			freeFn: func(cmd cqrs.FreeTransactionCommand) (*models.Transaction, error) {
				return &models.Transaction{ID: cmd.TransactionID, Status: models.StatusFailed}, nil
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "conflict - already being processed",
			freeFn:         func(cmd cqrs.FreeTransactionCommand) (*models.Transaction, error) { return nil, models.ErrResourceBusy },
			expectedStatus: http.StatusConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&mockCommander{freeFn: tt.freeFn}, &mockQuerier{}, "")
			w := doRequest(router, http.MethodPost, "/v1/atm/transactions/tan-1/free", nil)
			if w.Code != tt.expectedStatus {
				t.Errorf("[%s] expected %d got %d; body: %s", tt.name, tt.expectedStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestPolling(t *testing.T) {
	qrys := &mockQuerier{
		getFn: func(q cqrs.GetTransactionQuery) (*models.TransactionView, error) {
			if q.TransactionID != "tan-1" {
				return nil, models.ErrResourceNotFound
			}
			return testTransaction.ToView(), nil
		},
		confirmationFn: func(q cqrs.GetConfirmationQuery) (*models.Confirmation, error) {
			return models.NewConfirmation(&models.Transaction{ID: q.TransactionID, Status: models.StatusBlocked}, ""), nil
		},
	}
	router := newTestRouter(&mockCommander{}, qrys, "")

	if w := doRequest(router, http.MethodGet, "/v1/transactions/tan-1", nil); w.Code != http.StatusOK {
		t.Errorf("expected 200 got %d", w.Code)
	}
	if w := doRequest(router, http.MethodGet, "/v1/transactions/tan-9", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 got %d", w.Code)
	}

	w := doRequest(router, http.MethodGet, "/v1/transactions/tan-1/confirmation", nil)
	var c models.Confirmation
	if err := json.Unmarshal(w.Body.Bytes(), &c); err != nil {
		t.Fatal(err)
	}
	if c.Outcome != models.OutcomeManualReview {
		t.Errorf("unexpected confirmation %+v", c)
	}
}

func TestMalformedTransactionID(t *testing.T) {
	reached := func(t *testing.T) { t.Helper(); t.Error("service called for a malformed id") }
	tests := []struct {
		name   string
		method string
		url    string
	}{
		{name: "get transaction - foreign prefix", method: http.MethodGet, url: "/v1/transactions/acc-1"},
		{name: "confirmation - bare prefix", method: http.MethodGet, url: "/v1/transactions/tan-/confirmation"},
		{name: "free - no prefix", method: http.MethodPost, url: "/v1/atm/transactions/12345/free"},
		{name: "flag detail - foreign prefix", method: http.MethodGet, url: "/v1/aml/flags/flg-1"},
		{name: "accept - foreign prefix", method: http.MethodPost, url: "/v1/aml/transactions/acc-1/accept"},
		{name: "reject - no prefix", method: http.MethodPost, url: "/v1/aml/transactions/x/reject"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmds := &mockCommander{
				freeFn:   func(cqrs.FreeTransactionCommand) (*models.Transaction, error) { reached(t); return nil, nil },
				acceptFn: func(cqrs.ReviewCommand) (*models.Transaction, error) { reached(t); return nil, nil },
				rejectFn: func(cqrs.ReviewCommand) (*models.Transaction, error) { reached(t); return nil, nil },
			}
			qrys := &mockQuerier{
				getFn:          func(cqrs.GetTransactionQuery) (*models.TransactionView, error) { reached(t); return nil, nil },
				confirmationFn: func(cqrs.GetConfirmationQuery) (*models.Confirmation, error) { reached(t); return nil, nil },
				getFlagFn:      func(cqrs.GetFlagQuery) (*query.FlagDetail, error) { reached(t); return nil, nil },
			}
			router := newTestRouter(cmds, qrys, "usr-aml")
			w := doRequest(router, tt.method, tt.url, nil)
			if w.Code != http.StatusNotFound {
				t.Errorf("[%s] expected 404 got %d; body: %s", tt.name, w.Code, w.Body.String())
			}
		})
	}
}

func TestReview(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		url            string
		cmds           *mockCommander
		qrys           *mockQuerier
		expectedStatus int
	}{
		{
			name:   "success - list pending flags",
			method: http.MethodGet,
			url:    "/v1/aml/flags",
			qrys: &mockQuerier{listFlagsFn: func(q cqrs.ListFlagsQuery) ([]models.RiskFlag, error) {
				return []models.RiskFlag{{ID: "flg-1", TransactionID: "tan-1", Reasoning: "is_large_transaction"}}, nil
			}},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "bad request - unknown flag status",
			method:         http.MethodGet,
			url:            "/v1/aml/flags?status=open",
			qrys:           &mockQuerier{},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:   "success - flag detail",
			method: http.MethodGet,
			url:    "/v1/aml/flags/tan-1",
			qrys: &mockQuerier{getFlagFn: func(q cqrs.GetFlagQuery) (*query.FlagDetail, error) {
				return &query.FlagDetail{Flag: models.RiskFlag{ID: "flg-1"}, Transaction: *testTransaction.ToView()}, nil
			}},
			expectedStatus: http.StatusOK,
		},
		{
			name:   "success - accept",
			method: http.MethodPost,
			url:    "/v1/aml/transactions/tan-1/accept",
			cmds: &mockCommander{acceptFn: func(cmd cqrs.ReviewCommand) (*models.Transaction, error) {
				if cmd.ReviewerID != "usr-aml" {
					return nil, fmt.Errorf("unexpected reviewer %s", cmd.ReviewerID)
				}
				return &models.Transaction{ID: "tan-1", Status: models.StatusCompleted}, nil
			}},
			expectedStatus: http.StatusOK,
		},
		{
			name:   "conflict - accept keeps new findings blocked",
			method: http.MethodPost,
			url:    "/v1/aml/transactions/tan-1/accept",
			cmds: &mockCommander{acceptFn: func(cmd cqrs.ReviewCommand) (*models.Transaction, error) {
				return nil, models.ErrRiskBlocked
			}},
			expectedStatus: http.StatusConflict,
		},
		{
			name:   "conflict - reject a transaction that is not blocked",
			method: http.MethodPost,
			url:    "/v1/aml/transactions/tan-1/reject",
			cmds: &mockCommander{rejectFn: func(cmd cqrs.ReviewCommand) (*models.Transaction, error) {
				return nil, models.ErrInvalidTransition
			}},
			expectedStatus: http.StatusConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmds, qrys := tt.cmds, tt.qrys
			if cmds == nil {
				cmds = &mockCommander{}
			}
			if qrys == nil {
				qrys = &mockQuerier{}
			}
			router := newTestRouter(cmds, qrys, "usr-aml")
			w := doRequest(router, tt.method, tt.url, nil)
			if w.Code != tt.expectedStatus {
				t.Errorf("[%s] expected %d got %d; body: %s", tt.name, tt.expectedStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestVerifyTransactionAuto(t *testing.T) {
	tests := []struct {
		name           string
		body           interface{}
		verifyFn       func(cqrs.AutoVerifyCommand) (*verify.Result, error)
		expectedStatus int
	}{
		{
			name: "success - completed",
			body: map[string]interface{}{"transaction_id": "tan-1"},
			verifyFn: func(cmd cqrs.AutoVerifyCommand) (*verify.Result, error) {
				return &verify.Result{Status: verify.ResultCompleted}, nil
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "forbidden - wrong status",
			body:           map[string]interface{}{"transaction_id": "tan-1"},
			verifyFn:       func(cmd cqrs.AutoVerifyCommand) (*verify.Result, error) { return nil, models.ErrForbidden },
			expectedStatus: http.StatusForbidden,
		},
		{
			name:           "not found",
			body:           map[string]interface{}{"transaction_id": "tan-9"},
			verifyFn:       func(cmd cqrs.AutoVerifyCommand) (*verify.Result, error) { return nil, models.ErrResourceNotFound },
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "bad request - missing id",
			body:           map[string]interface{}{},
			expectedStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&mockCommander{verifyFn: tt.verifyFn}, &mockQuerier{}, "")
			w := doRequest(router, http.MethodPost, "/v1/verify-transaction-auto", tt.body)
			if w.Code != tt.expectedStatus {
				t.Errorf("[%s] expected %d got %d; body: %s", tt.name, tt.expectedStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestRouterGuardsRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cmds, qrys := &mockCommander{}, &mockQuerier{}
	router := NewRouter(Handlers{
		Transactions: NewTransactionHandler(cmds, qrys),
		Atm:          NewAtmHandler(cmds),
		Review:       NewReviewHandler(cmds, qrys),
		Verify:       NewVerifyHandler(cmds),
	}, []byte("secret"), logging.Discard())

	if w := doRequest(router, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Errorf("expected health 200, got %d", w.Code)
	}
	if w := doRequest(router, http.MethodPost, "/v1/transfers", transferBody()); w.Code != http.StatusUnauthorized {
		t.Errorf("expected transfers to need a token, got %d", w.Code)
	}
	if w := doRequest(router, http.MethodGet, "/v1/aml/flags", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("expected reviewer routes to need a token, got %d", w.Code)
	}
}
