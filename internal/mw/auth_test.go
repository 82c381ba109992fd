package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const secret = "test-secret"

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func TestAuthMiddleware(t *testing.T) {
	var gotStaff string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotStaff = StaffID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := AuthMiddleware(secret)(next)

	valid := sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{
		"staff_id": "staff-7",
		"exp":      time.Now().Add(time.Hour).Unix(),
	})

	t.Run("accepts a valid bearer token", func(t *testing.T) {
		gotStaff = ""
		req := httptest.NewRequest(http.MethodGet, "/orders", nil)
		req.Header.Set("Authorization", "Bearer "+valid)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected status 204, got %d", rec.Code)
		}
		if gotStaff != "staff-7" {
			t.Errorf("expected staff-7 in context, got %q", gotStaff)
		}
	})

	t.Run("accepts a token query parameter", func(t *testing.T) {
		gotStaff = ""
		req := httptest.NewRequest(http.MethodGet, "/ws?token="+valid, nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent || gotStaff != "staff-7" {
			t.Fatalf("expected authenticated request, got status %d staff %q", rec.Code, gotStaff)
		}
	})

	t.Run("falls back to the subject claim", func(t *testing.T) {
		gotStaff = ""
		token := sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{"sub": "cashier-1"})
		req := httptest.NewRequest(http.MethodGet, "/orders", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if gotStaff != "cashier-1" {
			t.Errorf("expected cashier-1, got %q", gotStaff)
		}
	})

	rejected := map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic " + valid,
		"wrong secret": "Bearer " + sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{
			"staff_id": "staff-7",
		}),
		"expired": "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{
			"staff_id": "staff-7",
			"exp":      time.Now().Add(-time.Minute).Unix(),
		}),
		"wrong algorithm": "Bearer " + sign(t, jwt.SigningMethodHS512, []byte(secret), jwt.MapClaims{
			"staff_id": "staff-7",
		}),
		"no staff claim": "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{
			"role": "waiter",
		}),
	}
	for name, header := range rejected {
		t.Run("rejects "+name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/orders", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected status 401, got %d", rec.Code)
			}
		})
	}
}

func TestStaffID_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if id := StaffID(req.Context()); id != "" {
		t.Errorf("expected empty staff id, got %q", id)
	}
}
