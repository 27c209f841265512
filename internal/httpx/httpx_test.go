package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"live-quiz/internal/models"
)

func TestHandleServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", models.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
		{"wrapped", fmt.Errorf("submit: %w", models.ErrTimeExpired), http.StatusConflict, "time_expired"},
		{"already answered", models.ErrAlreadyAnswered, http.StatusConflict, "already_answered"},
		{"unknown", errors.New("pq: connection refused"), http.StatusInternalServerError, "internal"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/play/answer", nil)
			rr := httptest.NewRecorder()
			HandleServiceError(rr, req, tc.err)

			if rr.Code != tc.wantStatus {
				t.Errorf("expected status %d, got %d", tc.wantStatus, rr.Code)
			}
			var body ErrorResponse
			if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body.Error.Code != tc.wantCode {
				t.Errorf("expected code %q, got %q", tc.wantCode, body.Error.Code)
			}
			if strings.Contains(body.Error.Message, "pq:") {
				t.Errorf("raw store error leaked: %q", body.Error.Message)
			}
		})
	}
}

func TestErrorForCode(t *testing.T) {
	if got := ErrorForCode("already_answered"); got != models.ErrAlreadyAnswered {
		t.Errorf("expected ErrAlreadyAnswered, got %v", got)
	}
	if got := ErrorForCode("nope"); got != nil {
		t.Errorf("expected nil for unknown code, got %v", got)
	}
}
