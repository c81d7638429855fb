package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/eventops/fulfillment/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{TraceID: "trace-1"})
	rr := httptest.NewRecorder()

	WriteError(ctx, rr, NewError("invalid_transition", "cannot move\nfrom DRAFT", http.StatusConflict).
		WithDetails(map[string]any{"allowed": []string{"SUBMITTED"}}))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["error"] != "invalid_transition" || payload["message"] != "cannot move from DRAFT" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if payload["request_id"] != "req-1" || payload["trace_id"] != "trace-1" {
		t.Fatalf("expected request and trace ids, got %v", payload)
	}
	if _, ok := payload["allowed"]; !ok {
		t.Fatalf("expected details merged into payload")
	}
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Reason string `json:"reason"`
	}
	tests := []struct {
		name    string
		raw     string
		limit   int64
		wantErr error
		wantAny bool
	}{
		{name: "ok", raw: `{"reason":"late truck"}`},
		{name: "empty", raw: "  ", wantErr: ErrEmptyBody},
		{name: "too large", raw: `{"reason":"` + strings.Repeat("x", 64) + `"}`, limit: 16, wantErr: ErrBodyTooLarge},
		{name: "unknown field", raw: `{"other":1}`, wantAny: true},
		{name: "trailing", raw: `{"reason":"a"}{}`, wantAny: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.raw))
			var dst body
			err := DecodeJSON(req, tc.limit, &dst)
			switch {
			case tc.wantErr != nil:
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
			case tc.wantAny:
				if err == nil {
					t.Fatalf("expected error")
				}
			default:
				if err != nil || dst.Reason != "late truck" {
					t.Fatalf("unexpected result %+v (%v)", dst, err)
				}
			}
		})
	}
}
