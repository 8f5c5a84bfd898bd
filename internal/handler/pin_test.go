package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/swappo/pin-server-go/internal/database"
	"github.com/swappo/pin-server-go/internal/middleware"
	"github.com/swappo/pin-server-go/internal/model"
	"github.com/swappo/pin-server-go/internal/repository"
	"github.com/swappo/pin-server-go/internal/service"
)

// Mock repositories

type mockTradeRepo struct {
	mock.Mock
}

func (m *mockTradeRepo) FindByID(ctx context.Context, id string) (*model.Trade, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Trade), args.Error(1)
}

func (m *mockTradeRepo) Complete(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockTradeRepo) WithTx(tx *sqlx.Tx) repository.TradeRepository {
	return m
}

type mockPinRepo struct {
	mock.Mock
}

func (m *mockPinRepo) FindByTradeID(ctx context.Context, tradeID string) (*model.PinRecord, error) {
	args := m.Called(ctx, tradeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PinRecord), args.Error(1)
}

func (m *mockPinRepo) CreateOrReplace(ctx context.Context, params model.CreatePinRecordParams) (*model.PinRecord, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PinRecord), args.Error(1)
}

func (m *mockPinRepo) MarkVerified(ctx context.Context, tradeID string, expectedGeneration int, verifiedAt time.Time) (bool, error) {
	args := m.Called(ctx, tradeID, expectedGeneration, verifiedAt)
	return args.Bool(0), args.Error(1)
}

func (m *mockPinRepo) DeleteClosed(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockPinRepo) WithTx(tx *sqlx.Tx) repository.PinRecordRepository {
	return m
}

const (
	testTradeID     = "5f1c2a74-9f32-4f7e-8d1a-2b7c90f4e611"
	testOwnerID     = "11111111-1111-4111-8111-111111111111"
	testRequesterID = "22222222-2222-4222-8222-222222222222"
)

func acceptedTrade() *model.Trade {
	return &model.Trade{
		ID:          testTradeID,
		OwnerID:     testOwnerID,
		RequesterID: testRequesterID,
		Status:      model.TradeStatusAccepted,
	}
}

func noopMiddleware(next http.Handler) http.Handler {
	return next
}

func injectParty(party *model.Party) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if party != nil {
				r = r.WithContext(context.WithValue(r.Context(), middleware.PartyContextKey, party))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func newTestServer(t *testing.T, trades *mockTradeRepo, pins *mockPinRepo, party *model.Party) (http.Handler, sqlmock.Sqlmock) {
	t.Helper()
	rawDB, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { rawDB.Close() })

	db := &database.DB{DB: sqlx.NewDb(rawDB, "sqlmock")}
	svc := service.NewPinService(db, trades, pins, 24*time.Hour)
	h := NewPinHandler(svc, noopMiddleware)

	r := chi.NewRouter()
	r.Route("/pins", func(r chi.Router) {
		r.Use(injectParty(party))
		r.Mount("/", h.Routes())
	})
	return r, sqlMock
}

func doRequest(t *testing.T, server http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestGenerateEndpoint(t *testing.T) {
	t.Run("owner receives the generated code", func(t *testing.T) {
		trades := new(mockTradeRepo)
		pins := new(mockPinRepo)
		server, _ := newTestServer(t, trades, pins, &model.Party{ID: testOwnerID})

		now := time.Now()
		trades.On("FindByID", mock.Anything, testTradeID).Return(acceptedTrade(), nil)
		pins.On("CreateOrReplace", mock.Anything, mock.Anything).Return(&model.PinRecord{
			TradeID:     testTradeID,
			Code:        "482917",
			Generation:  1,
			GeneratedAt: now,
			ExpiresAt:   now.Add(24 * time.Hour),
		}, nil)

		rec, body := doRequest(t, server, http.MethodPost, "/pins/generate/"+testTradeID, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["success"])

		pin := body["pin"].(map[string]any)
		assert.Equal(t, "482917", pin["code"])
		assert.Equal(t, float64(1), pin["generation"])
	})

	t.Run("requester is forbidden", func(t *testing.T) {
		trades := new(mockTradeRepo)
		pins := new(mockPinRepo)
		server, _ := newTestServer(t, trades, pins, &model.Party{ID: testRequesterID})

		trades.On("FindByID", mock.Anything, testTradeID).Return(acceptedTrade(), nil)

		rec, body := doRequest(t, server, http.MethodPost, "/pins/generate/"+testTradeID, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "NOT_AUTHORIZED", body["code"])
	})

	t.Run("unauthenticated request is rejected", func(t *testing.T) {
		trades := new(mockTradeRepo)
		pins := new(mockPinRepo)
		server, _ := newTestServer(t, trades, pins, nil)

		rec, _ := doRequest(t, server, http.MethodPost, "/pins/generate/"+testTradeID, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed trade id is rejected", func(t *testing.T) {
		trades := new(mockTradeRepo)
		pins := new(mockPinRepo)
		server, _ := newTestServer(t, trades, pins, &model.Party{ID: testOwnerID})

		rec, _ := doRequest(t, server, http.MethodPost, "/pins/generate/not-a-uuid", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestVerifyEndpoint(t *testing.T) {
	t.Run("display-formatted code verifies and completes the trade", func(t *testing.T) {
		trades := new(mockTradeRepo)
		pins := new(mockPinRepo)
		server, sqlMock := newTestServer(t, trades, pins, &model.Party{ID: testRequesterID})

		now := time.Now()
		trades.On("FindByID", mock.Anything, testTradeID).Return(acceptedTrade(), nil)
		pins.On("FindByTradeID", mock.Anything, testTradeID).Return(&model.PinRecord{
			TradeID:     testTradeID,
			Code:        "482917",
			Generation:  1,
			GeneratedAt: now,
			ExpiresAt:   now.Add(24 * time.Hour),
		}, nil)
		sqlMock.ExpectBegin()
		sqlMock.ExpectCommit()
		pins.On("MarkVerified", mock.Anything, testTradeID, 1, mock.Anything).Return(true, nil)
		trades.On("Complete", mock.Anything, testTradeID).Return(true, nil)

		rec, body := doRequest(t, server, http.MethodPost, "/pins/verify/"+testTradeID,
			map[string]string{"pinCode": "482 917"})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["success"])
		assert.NotEmpty(t, body["verifiedAt"])
	})

	t.Run("short code is rejected before the gate", func(t *testing.T) {
		trades := new(mockTradeRepo)
		pins := new(mockPinRepo)
		server, _ := newTestServer(t, trades, pins, &model.Party{ID: testRequesterID})

		rec, body := doRequest(t, server, http.MethodPost, "/pins/verify/"+testTradeID,
			map[string]string{"pinCode": "48291"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_FORMAT", body["code"])
		trades.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
	})

	t.Run("missing pinCode is rejected", func(t *testing.T) {
		trades := new(mockTradeRepo)
		pins := new(mockPinRepo)
		server, _ := newTestServer(t, trades, pins, &model.Party{ID: testRequesterID})

		rec, body := doRequest(t, server, http.MethodPost, "/pins/verify/"+testTradeID,
			map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "MISSING_REQUIRED", body["code"])
	})

	t.Run("verify before generate is not found", func(t *testing.T) {
		trades := new(mockTradeRepo)
		pins := new(mockPinRepo)
		server, _ := newTestServer(t, trades, pins, &model.Party{ID: testRequesterID})

		trades.On("FindByID", mock.Anything, testTradeID).Return(acceptedTrade(), nil)
		pins.On("FindByTradeID", mock.Anything, testTradeID).Return(nil, nil)

		rec, body := doRequest(t, server, http.MethodPost, "/pins/verify/"+testTradeID,
			map[string]string{"pinCode": "482917"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "NOT_FOUND", body["code"])
	})

	t.Run("wrong code returns invalid code", func(t *testing.T) {
		trades := new(mockTradeRepo)
		pins := new(mockPinRepo)
		server, _ := newTestServer(t, trades, pins, &model.Party{ID: testRequesterID})

		now := time.Now()
		trades.On("FindByID", mock.Anything, testTradeID).Return(acceptedTrade(), nil)
		pins.On("FindByTradeID", mock.Anything, testTradeID).Return(&model.PinRecord{
			TradeID:    testTradeID,
			Code:       "482917",
			Generation: 1,
			ExpiresAt:  now.Add(24 * time.Hour),
		}, nil)

		rec, body := doRequest(t, server, http.MethodPost, "/pins/verify/"+testTradeID,
			map[string]string{"pinCode": "111111"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_CODE", body["code"])
	})
}

func TestStatusEndpoint(t *testing.T) {
	now := time.Now()
	record := &model.PinRecord{
		TradeID:     testTradeID,
		Code:        "482917",
		Generation:  2,
		GeneratedAt: now,
		ExpiresAt:   now.Add(24 * time.Hour),
	}

	t.Run("owner view includes the code", func(t *testing.T) {
		trades := new(mockTradeRepo)
		pins := new(mockPinRepo)
		server, _ := newTestServer(t, trades, pins, &model.Party{ID: testOwnerID})

		trades.On("FindByID", mock.Anything, testTradeID).Return(acceptedTrade(), nil)
		pins.On("FindByTradeID", mock.Anything, testTradeID).Return(record, nil)

		rec, body := doRequest(t, server, http.MethodGet, "/pins/status/"+testTradeID, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "owner", body["userRole"])
		assert.Equal(t, true, body["pinExists"])

		status := body["pinStatus"].(map[string]any)
		assert.Equal(t, "482917", status["pinCode"])
		assert.Equal(t, float64(2), status["generation"])
	})

	t.Run("requester view omits the code", func(t *testing.T) {
		trades := new(mockTradeRepo)
		pins := new(mockPinRepo)
		server, _ := newTestServer(t, trades, pins, &model.Party{ID: testRequesterID})

		trades.On("FindByID", mock.Anything, testTradeID).Return(acceptedTrade(), nil)
		pins.On("FindByTradeID", mock.Anything, testTradeID).Return(record, nil)

		rec, body := doRequest(t, server, http.MethodGet, "/pins/status/"+testTradeID, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "requester", body["userRole"])

		status := body["pinStatus"].(map[string]any)
		_, hasCode := status["pinCode"]
		assert.False(t, hasCode)
	})

	t.Run("no record projects pinExists=false", func(t *testing.T) {
		trades := new(mockTradeRepo)
		pins := new(mockPinRepo)
		server, _ := newTestServer(t, trades, pins, &model.Party{ID: testRequesterID})

		trades.On("FindByID", mock.Anything, testTradeID).Return(acceptedTrade(), nil)
		pins.On("FindByTradeID", mock.Anything, testTradeID).Return(nil, nil)

		rec, body := doRequest(t, server, http.MethodGet, "/pins/status/"+testTradeID, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, false, body["pinExists"])
		assert.Nil(t, body["pinStatus"])
	})

	t.Run("stranger is forbidden", func(t *testing.T) {
		trades := new(mockTradeRepo)
		pins := new(mockPinRepo)
		server, _ := newTestServer(t, trades, pins, &model.Party{ID: "33333333-3333-4333-8333-333333333333"})

		trades.On("FindByID", mock.Anything, testTradeID).Return(acceptedTrade(), nil)

		rec, _ := doRequest(t, server, http.MethodGet, "/pins/status/"+testTradeID, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}
