package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const testSecret = "test-secret"

func TestAuthJWT(t *testing.T) {
	apiToken, err := IssueToken(testSecret, "user-1", AudienceAPI, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}
	workerToken, _ := IssueToken(testSecret, "job-1", AudienceWorker, time.Hour)
	expired, _ := IssueToken(testSecret, "user-1", AudienceAPI, -time.Minute)
	foreign, _ := IssueToken("other-secret", "user-1", AudienceAPI, time.Hour)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{name: "valid", header: "Bearer " + apiToken, status: http.StatusOK},
		{name: "lowercase scheme", header: "bearer " + apiToken, status: http.StatusOK},
		{name: "missing", header: "", status: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "wrong audience", header: "Bearer " + workerToken, status: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + expired, status: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + foreign, status: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer a.b.c", status: http.StatusUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var gotUser string
			h := AuthJWT(testSecret, AudienceAPI)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUser = UserIDFromContext(r.Context())
				if c := ClaimsFromContext(r.Context()); c == nil || c.Subject != gotUser {
					t.Errorf("claims not stored: %+v", c)
				}
			}))
			req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			if tc.status == http.StatusOK && gotUser != "user-1" {
				t.Fatalf("user id = %q", gotUser)
			}
			if tc.status == http.StatusUnauthorized {
				var body struct {
					Error struct{ Code string } `json:"error"`
				}
				if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body.Error.Code != "unauthorized" {
					t.Fatalf("error body = %+v, %v", body, err)
				}
			}
		})
	}
}

func TestIssueTokenRequiresSecret(t *testing.T) {
	if _, err := IssueToken("", "u", AudienceAPI, time.Hour); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestVerifyTokenRejectsEmptySubject(t *testing.T) {
	tok, _ := IssueToken(testSecret, "", AudienceWorker, time.Hour)
	if _, err := VerifyToken(testSecret, tok, AudienceWorker); err == nil || !strings.Contains(err.Error(), "subject") {
		t.Fatalf("expected subject error, got %v", err)
	}
}

func TestLoggerPreservesFlusher(t *testing.T) {
	var flushed bool
	h := RequestID(Logger(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		if !ok {
			t.Fatalf("response writer lost http.Flusher")
		}
		_, _ = w.Write([]byte("data: x\n\n"))
		f.Flush()
		flushed = true
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/1/events", nil))
	if !flushed || !rec.Flushed {
		t.Fatalf("stream not flushed")
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("request id header missing")
	}
}

func testLogger() zerolog.Logger { return zerolog.New(io.Discard) }
