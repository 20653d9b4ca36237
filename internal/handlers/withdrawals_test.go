package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"

	"referralpay/internal/models"
	"referralpay/internal/services"
)

func TestRequestWithdrawal(t *testing.T) {
	var got services.WithdrawalRequest
	handler := newTestHandler(Deps{
		Withdrawals: stubWithdrawals{
			requestFn: func(_ context.Context, req services.WithdrawalRequest) (models.Withdrawal, error) {
				got = req
				return models.Withdrawal{ID: "wd-1", Status: models.WithdrawalPending}, nil
			},
		},
	})

	rr := serve(t, handler, http.MethodPost, "/withdrawals", "user-1", map[string]string{
		"amount":      "20.00",
		"destination": "acct_123",
		"pin":         "1234",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.UserID != "user-1" || !got.Amount.Equal(decimal.RequireFromString("20")) || got.Pin != "1234" {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestRequestWithdrawalErrors(t *testing.T) {
	cases := map[error]int{
		services.ErrBelowMinimum:      http.StatusBadRequest,
		services.ErrInsufficientFunds: http.StatusBadRequest,
		services.ErrAccountFrozen:     http.StatusForbidden,
		services.ErrWithdrawalsPaused: http.StatusForbidden,
		services.ErrKYCRequired:       http.StatusForbidden,
		services.ErrPinNotSet:         http.StatusForbidden,
		services.ErrInvalidPin:        http.StatusForbidden,
	}
	for err, want := range cases {
		handler := newTestHandler(Deps{
			Withdrawals: stubWithdrawals{
				requestFn: func(context.Context, services.WithdrawalRequest) (models.Withdrawal, error) {
					return models.Withdrawal{}, err
				},
			},
		})
		rr := serve(t, handler, http.MethodPost, "/withdrawals", "user-1", map[string]string{"amount": "20", "destination": "acct_123", "pin": "1234"})
		if rr.Code != want {
			t.Fatalf("%v: expected %d, got %d", err, want, rr.Code)
		}
		if body := decodeBody[map[string]string](t, rr); body["error"] == "" {
			t.Fatalf("%v: expected an error code", err)
		}
	}
}

func TestListWithdrawals(t *testing.T) {
	handler := newTestHandler(Deps{
		Withdrawals: stubWithdrawals{
			listForUserFn: func(_ context.Context, userID string, limit, offset int) ([]models.Withdrawal, error) {
				if userID != "user-1" || limit != 20 || offset != 0 {
					t.Fatalf("unexpected query %s %d %d", userID, limit, offset)
				}
				return []models.Withdrawal{{ID: "wd-1"}}, nil
			},
		},
	})
	rr := serve(t, handler, http.MethodGet, "/withdrawals", "user-1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rows := decodeBody[[]map[string]any](t, rr); len(rows) != 1 {
		t.Fatalf("expected one withdrawal, got %v", rows)
	}
}
