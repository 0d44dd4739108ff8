package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"license-gate/internal/database"
	"license-gate/internal/model"
	"license-gate/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAdminKey = "test-admin-key"

func newTestApp(t *testing.T) (*fiber.App, *service.LicenseService) {
	t.Helper()
	db := database.NewTestDB(t)
	audit := service.NewAuditLog(db)
	svc := service.NewLicenseService(database.NewLicenseStore(db, 10*time.Second), service.WithAuditor(audit))

	app := NewApp(zerolog.Nop())
	New(svc, audit, zerolog.Nop()).Register(app, testAdminKey)
	return app, svc
}

func doJSON(t *testing.T, app *fiber.App, method, path, key string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewBuffer(raw)
	}

	req, _ := http.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("x-api-key", key)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	out := map[string]interface{}{}
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &out)
	return resp, out
}

func TestHandleHealth(t *testing.T) {
	app, _ := newTestApp(t)

	req, _ := http.NewRequest("GET", "/health", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ok", string(body))
}

func TestHandleCreateLicense(t *testing.T) {
	app, _ := newTestApp(t)

	tests := []struct {
		name       string
		key        string
		body       interface{}
		wantStatus int
	}{
		{
			name:       "valid_license",
			key:        testAdminKey,
			body:       CreateLicenseInput{Email: "Kunde@Example.com", Meta: map[string]interface{}{"order": 17}},
			wantStatus: fiber.StatusOK,
		},
		{
			name:       "without_meta",
			key:        testAdminKey,
			body:       map[string]string{"email": "b@example.com"},
			wantStatus: fiber.StatusOK,
		},
		{
			name:       "missing_email",
			key:        testAdminKey,
			body:       CreateLicenseInput{Email: "  "},
			wantStatus: fiber.StatusBadRequest,
		},
		{
			name:       "malformed_body",
			key:        testAdminKey,
			body:       `{"email":`,
			wantStatus: fiber.StatusBadRequest,
		},
		{
			name:       "meta_not_object",
			key:        testAdminKey,
			body:       `{"email":"a@example.com","meta":[1,2]}`,
			wantStatus: fiber.StatusBadRequest,
		},
		{
			name:       "wrong_key",
			key:        "nope",
			body:       CreateLicenseInput{Email: "a@example.com"},
			wantStatus: fiber.StatusUnauthorized,
		},
		{
			name:       "missing_key",
			body:       CreateLicenseInput{Email: "a@example.com"},
			wantStatus: fiber.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := doJSON(t, app, "POST", "/admin/create-license", tt.key, tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantStatus == fiber.StatusOK {
				assert.Equal(t, "ok", out["status"])
				assert.NotEmpty(t, out["code"])
				assert.NotEmpty(t, out["id"])
				assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
			} else {
				assert.NotEmpty(t, out["error"])
				assert.Nil(t, out["code"])
			}
		})
	}
}

func TestCreatedCodeIsRedeemable(t *testing.T) {
	app, svc := newTestApp(t)

	resp, out := doJSON(t, app, "POST", "/admin/create-license", testAdminKey, CreateLicenseInput{Email: "a@example.com"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "a@example.com", out["email"])

	code, _ := out["code"].(string)
	ok, err := svc.Redeem(context.Background(), 42, code)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHandleListLicenses(t *testing.T) {
	ctx := context.Background()
	app, svc := newTestApp(t)
	for i := 0; i < 3; i++ {
		_, err := svc.Issue(ctx, "test", fmt.Sprintf("u%d@example.com", i), nil)
		require.NoError(t, err)
	}

	tests := []struct {
		name      string
		query     string
		wantItems int
	}{
		{name: "default_limit", query: "", wantItems: 3},
		{name: "limit_two", query: "?limit=2", wantItems: 2},
		{name: "limit_zero_clamped_up", query: "?limit=0", wantItems: 1},
		{name: "limit_huge_clamped_down", query: "?limit=1000", wantItems: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := doJSON(t, app, "GET", "/admin/list-licenses"+tt.query, testAdminKey, nil)
			require.Equal(t, fiber.StatusOK, resp.StatusCode)

			items, ok := out["items"].([]interface{})
			require.True(t, ok)
			assert.Len(t, items, tt.wantItems)

			first := items[0].(map[string]interface{})
			for _, field := range []string{"id", "status", "email", "created_at", "redeemed_at", "redeemed_telegram_id"} {
				assert.Contains(t, first, field)
			}
			assert.NotContains(t, first, "code_hash")
			assert.NotContains(t, first, "CodeHash")
			assert.NotContains(t, first, "code")
		})
	}

	resp, _ := doJSON(t, app, "GET", "/admin/list-licenses", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestHandleLookupLicense(t *testing.T) {
	ctx := context.Background()
	app, svc := newTestApp(t)
	issued, err := svc.Issue(ctx, "test", "a@example.com", nil)
	require.NoError(t, err)

	resp, out := doJSON(t, app, "POST", "/admin/lookup-license", testAdminKey, LookupLicenseInput{Code: issued.Code})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, issued.ID, out["id"])
	assert.Equal(t, "unused", out["status"])

	resp, _ = doJSON(t, app, "POST", "/admin/lookup-license", testAdminKey, LookupLicenseInput{Code: "AAAA-BBBB"})
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, app, "POST", "/admin/lookup-license", testAdminKey, LookupLicenseInput{Code: " "})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHandleStatisticsAndLogs(t *testing.T) {
	ctx := context.Background()
	app, svc := newTestApp(t)
	issued, err := svc.Issue(ctx, "test", "a@example.com", nil)
	require.NoError(t, err)
	_, err = svc.Redeem(ctx, 1, issued.Code)
	require.NoError(t, err)

	resp, out := doJSON(t, app, "GET", "/admin/statistics", testAdminKey, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	stats := out["statistics"].(map[string]interface{})
	assert.EqualValues(t, 1, stats["total_licenses"])
	assert.EqualValues(t, 1, stats["redeemed_licenses"])
	assert.EqualValues(t, 1, out["redemption_rate"])

	resp, out = doJSON(t, app, "GET", "/admin/logs?page=1&page_size=500", testAdminKey, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, out["total"])
	assert.Len(t, out["logs"], 2)
}

type brokenLicenses struct{}

var errBroken = errors.New("connection refused")

func (brokenLicenses) Issue(context.Context, string, string, map[string]interface{}) (*service.IssuedLicense, error) {
	return nil, errBroken
}

func (brokenLicenses) Lookup(context.Context, string) (*model.License, error) { return nil, errBroken }

func (brokenLicenses) List(context.Context, int) ([]model.License, error) { return nil, errBroken }

func (brokenLicenses) Statistics(context.Context) (*model.LicenseStatistics, error) {
	return nil, errBroken
}

type brokenLogs struct{}

func (brokenLogs) List(context.Context, int, int) ([]model.OperationLog, int64, error) {
	return nil, 0, errBroken
}

func TestStoreFailuresReturnInternalError(t *testing.T) {
	app := NewApp(zerolog.Nop())
	New(brokenLicenses{}, brokenLogs{}, zerolog.Nop()).Register(app, testAdminKey)

	tests := []struct {
		method string
		path   string
		body   interface{}
	}{
		{"POST", "/admin/create-license", CreateLicenseInput{Email: "a@example.com"}},
		{"GET", "/admin/list-licenses", nil},
		{"POST", "/admin/lookup-license", LookupLicenseInput{Code: "ABCD"}},
		{"GET", "/admin/statistics", nil},
		{"GET", "/admin/logs", nil},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, out := doJSON(t, app, tt.method, tt.path, testAdminKey, tt.body)
			assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
			assert.Equal(t, "internal error", out["error"])
			assert.NotContains(t, out["error"], "connection refused")
		})
	}
}
