package middleware

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"jobsync_worker/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func newTestApp() *fiber.App {
	return fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
}

func decodeError(t *testing.T, body io.Reader) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp
}

func TestJWTAuth(t *testing.T) {
	valid, err := SignToken(testSecret, "user-1", jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("SignToken() error = %v", err)
	}
	expired, _ := SignToken(testSecret, "user-1", jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()})
	noExp, _ := SignToken(testSecret, "user-1", nil)
	otherKey, _ := SignToken("other", "user-1", jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	legacy, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "user-2",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantCode   string
		wantUser   string
	}{
		{name: "valid token", header: "Bearer " + valid, wantStatus: 200, wantUser: "user-1"},
		{name: "user_id claim", header: "Bearer " + legacy, wantStatus: 200, wantUser: "user-2"},
		{name: "missing header", header: "", wantStatus: 401, wantCode: apperr.CodeUnauthorized},
		{name: "expired", header: "Bearer " + expired, wantStatus: 401, wantCode: apperr.CodeInvalidToken},
		{name: "no expiry", header: "Bearer " + noExp, wantStatus: 401, wantCode: apperr.CodeInvalidToken},
		{name: "wrong key", header: "Bearer " + otherKey, wantStatus: 401, wantCode: apperr.CodeInvalidToken},
		{name: "garbage", header: "Bearer abc.def", wantStatus: 401, wantCode: apperr.CodeInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp()
			app.Get("/me", JWTAuth(testSecret), func(c *fiber.Ctx) error {
				id, err := UserID(c)
				if err != nil {
					return err
				}
				return c.SendString(id)
			})

			req := httptest.NewRequest("GET", "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantStatus == 200 {
				body, _ := io.ReadAll(resp.Body)
				if string(body) != tt.wantUser {
					t.Errorf("user = %s, want %s", body, tt.wantUser)
				}
				return
			}
			if got := decodeError(t, resp.Body); got.Error.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", got.Error.Code, tt.wantCode)
			}
		})
	}
}

func TestCronAuth(t *testing.T) {
	tests := []struct {
		name       string
		secret     string
		target     string
		header     string
		wantStatus int
	}{
		{name: "bearer header", secret: "cron", target: "/cron", header: "Bearer cron", wantStatus: 200},
		{name: "query token", secret: "cron", target: "/cron?token=cron", wantStatus: 200},
		{name: "wrong secret", secret: "cron", target: "/cron?token=nope", wantStatus: 401},
		{name: "missing", secret: "cron", target: "/cron", wantStatus: 401},
		{name: "not configured", secret: "", target: "/cron?token=", wantStatus: 503},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp()
			app.Get("/cron", CronAuth(tt.secret), func(c *fiber.Ctx) error {
				return c.SendStatus(200)
			})

			req := httptest.NewRequest("GET", tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rl := NewRateLimiter(ctx, 2, time.Minute)
	app := newTestApp()
	app.Use(rl.Handler())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(200) })

	want := []int{200, 200, 429}
	for i, status := range want {
		resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
		if err != nil {
			t.Fatalf("app.Test() error = %v", err)
		}
		if resp.StatusCode != status {
			t.Errorf("request %d: status = %d, want %d", i, resp.StatusCode, status)
		}
		if i == 2 {
			if resp.Header.Get("Retry-After") == "" {
				t.Errorf("Retry-After header missing")
			}
			if got := decodeError(t, resp.Body); got.Error.Code != "RATE_LIMITED" {
				t.Errorf("code = %s, want RATE_LIMITED", got.Error.Code)
			}
		}
	}
}

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "app error", err: apperr.NotFound("job"), wantStatus: 404, wantCode: apperr.CodeNotFound},
		{name: "wrapped app error", err: errors.Join(errors.New("ctx"), apperr.Conflict("busy")), wantStatus: 409, wantCode: apperr.CodeConflict},
		{name: "fiber error", err: fiber.ErrMethodNotAllowed, wantStatus: 405, wantCode: "METHOD_NOT_ALLOWED"},
		{name: "plain error", err: errors.New("boom"), wantStatus: 500, wantCode: apperr.CodeInternalError},
		{name: "app error over fiber error", err: apperr.Unavailable("redis down").WithError(fiber.ErrBadGateway), wantStatus: 503, wantCode: apperr.CodeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp()
			app.Use(RequestID())
			app.Get("/", func(c *fiber.Ctx) error { return tt.err })

			resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			got := decodeError(t, resp.Body)
			if got.Error.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", got.Error.Code, tt.wantCode)
			}
			if strings.Contains(got.Error.Message, "boom") {
				t.Errorf("message = %q leaks the internal error", got.Error.Message)
			}
			if got.RequestID == "" || got.RequestID != resp.Header.Get("X-Request-ID") {
				t.Errorf("request_id = %q, header = %q", got.RequestID, resp.Header.Get("X-Request-ID"))
			}
		})
	}
}

func TestRecover(t *testing.T) {
	app := newTestApp()
	app.Use(Recover())
	app.Get("/", func(c *fiber.Ctx) error { panic("boom") })

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != 500 {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestMaxBodySize(t *testing.T) {
	app := newTestApp()
	app.Post("/", MaxBodySize(8), func(c *fiber.Ctx) error { return c.SendStatus(200) })

	resp, err := app.Test(httptest.NewRequest("POST", "/", strings.NewReader("0123456789")))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != 413 {
		t.Errorf("status = %d, want 413", resp.StatusCode)
	}
}
