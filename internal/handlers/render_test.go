package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"awmp-pdf/internal/cache"
	"awmp-pdf/internal/chrome"
	u "awmp-pdf/internal/utils"
)

const testSecret = "s3cret"

var fakePDF = []byte("%PDF-1.7 fake")

type fakeLauncher struct {
	launchErr error
	renderErr error
	closeErr  error
	pdf       []byte

	launches atomic.Int32
	closes   atomic.Int32
	open     atomic.Int32

	mu   sync.Mutex
	seen []string
}

func (f *fakeLauncher) Launch(ctx context.Context) (chrome.Session, error) {
	f.launches.Add(1)
	if f.launchErr != nil {
		return nil, f.launchErr
	}
	f.open.Add(1)
	return &fakeSession{l: f}, nil
}

type fakeSession struct {
	l      *fakeLauncher
	closed bool
}

func (s *fakeSession) Render(ctx context.Context, html string) ([]byte, error) {
	if s.closed {
		return nil, errors.New("render on closed session")
	}
	s.l.mu.Lock()
	s.l.seen = append(s.l.seen, html)
	s.l.mu.Unlock()
	if s.l.renderErr != nil {
		return nil, s.l.renderErr
	}
	if s.l.pdf != nil {
		return s.l.pdf, nil
	}
	return fakePDF, nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	s.l.closes.Add(1)
	s.l.open.Add(-1)
	return s.l.closeErr
}

func testConfig() u.Config {
	cfg := u.DefaultConfig()
	cfg.Auth.Secret = testSecret
	return cfg
}

func validHTML() string {
	return "<html><body>" + strings.Repeat("x", 100) + "</body></html>"
}

func newTestApp(svc *RenderService) *fiber.App {
	app := fiber.New()
	app.Post("/render-pdf", svc.HandleRender)
	return app
}

func postJSON(t *testing.T, app *fiber.App, body any) (*http.Response, []byte) {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case string:
		raw = []byte(b)
	default:
		var err error
		raw, err = json.Marshal(b)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(http.MethodPost, "/render-pdf", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decodeError(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(body, &m), string(body))
	return m
}

func TestHandleRender_SecretNotConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Secret = ""
	fl := &fakeLauncher{}
	app := newTestApp(NewRenderService(cfg, fl, nil))

	payloads := []any{
		map[string]any{"secret": "anything", "html": validHTML()},
		map[string]any{"html": "short"},
		map[string]any{},
		"not json at all",
	}
	for _, p := range payloads {
		resp, body := postJSON(t, app, p)
		assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, map[string]any{"error": "Server secret not configured"}, decodeError(t, body))
	}
	assert.Zero(t, fl.launches.Load())
}

func TestHandleRender_Unauthorized(t *testing.T) {
	tests := []struct {
		name string
		body any
		msg  string
	}{
		{"wrong secret", map[string]any{"secret": "wrong", "html": validHTML()}, "Unauthorized (bad secret)"},
		{"missing secret", map[string]any{"html": validHTML()}, "Unauthorized"},
		{"non-string secret", map[string]any{"secret": 42, "html": validHTML()}, "Unauthorized"},
		{"malformed json", `{"secret": "s3cret", "html": `, "Unauthorized"},
		{"empty body", "", "Unauthorized"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fl := &fakeLauncher{}
			app := newTestApp(NewRenderService(testConfig(), fl, nil))

			resp, body := postJSON(t, app, tc.body)
			assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, tc.msg, decodeError(t, body)["error"])
			assert.Zero(t, fl.launches.Load(), "no engine may be launched")
		})
	}
}

func TestHandleRender_NonJSONContentTypeIsIgnored(t *testing.T) {
	raw, err := json.Marshal(map[string]any{"secret": testSecret, "html": validHTML()})
	require.NoError(t, err)

	for _, ct := range []string{"text/plain", "application/x-www-form-urlencoded", ""} {
		t.Run("content-type "+ct, func(t *testing.T) {
			fl := &fakeLauncher{}
			app := newTestApp(NewRenderService(testConfig(), fl, nil))

			req := httptest.NewRequest(http.MethodPost, "/render-pdf", bytes.NewReader(raw))
			if ct != "" {
				req.Header.Set("Content-Type", ct)
			}
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)

			assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, "Unauthorized", decodeError(t, body)["error"])
			assert.Zero(t, fl.launches.Load())
		})
	}

	fl := &fakeLauncher{}
	app := newTestApp(NewRenderService(testConfig(), fl, nil))
	req := httptest.NewRequest(http.MethodPost, "/render-pdf", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestHandleRender_NoCacheKeyWithoutCache(t *testing.T) {
	var calls atomic.Int32
	orig := cacheKey
	cacheKey = func(html, fingerprint string) string {
		calls.Add(1)
		return orig(html, fingerprint)
	}
	defer func() { cacheKey = orig }()

	fl := &fakeLauncher{}
	app := newTestApp(NewRenderService(testConfig(), fl, nil))
	resp, _ := postJSON(t, app, map[string]any{"secret": testSecret, "html": validHTML()})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Zero(t, calls.Load(), "document must not be hashed when caching is off")

	mrs := miniredis.RunT(t)
	pdfCache := cache.New(redis.NewClient(&redis.Options{Addr: mrs.Addr()}), 0)
	defer pdfCache.Close()
	app = newTestApp(NewRenderService(testConfig(), fl, pdfCache))
	resp, _ = postJSON(t, app, map[string]any{"secret": testSecret, "html": validHTML()})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, calls.Load())
}

func TestHandleRender_InvalidHTML(t *testing.T) {
	tests := []struct {
		name string
		html any
	}{
		{"short", "short"},
		{"missing", nil},
		{"99 chars", strings.Repeat("y", 99)},
		{"number", 1234567},
		{"array", []string{validHTML()}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fl := &fakeLauncher{}
			app := newTestApp(NewRenderService(testConfig(), fl, nil))

			body := map[string]any{"secret": testSecret}
			if tc.html != nil {
				body["html"] = tc.html
			}
			resp, data := postJSON(t, app, body)
			assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, map[string]any{"error": "Invalid HTML payload"}, decodeError(t, data))
			assert.Zero(t, fl.launches.Load(), "no engine may be launched")
		})
	}
}

func TestHandleRender_Success(t *testing.T) {
	fl := &fakeLauncher{}
	app := newTestApp(NewRenderService(testConfig(), fl, nil))

	resp, body := postJSON(t, app, map[string]any{
		"secret":   testSecret,
		"html":     validHTML(),
		"filename": "custom-name.pdf",
	})

	require.Equal(t, fiber.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Equal(t, `inline; filename="awmp-meal-plan.pdf"`, resp.Header.Get("Content-Disposition"))
	assert.Equal(t, fakePDF, body)
	assert.Equal(t, []string{validHTML()}, fl.seen)
	assert.EqualValues(t, 1, fl.launches.Load())
	assert.EqualValues(t, 1, fl.closes.Load())
}

func TestHandleRender_RenderFailureClosesEngine(t *testing.T) {
	fl := &fakeLauncher{renderErr: errors.New("page.printToPDF: Printing failed")}
	app := newTestApp(NewRenderService(testConfig(), fl, nil))

	resp, body := postJSON(t, app, map[string]any{"secret": testSecret, "html": validHTML()})

	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	m := decodeError(t, body)
	assert.Equal(t, "PDF render failed", m["error"])
	assert.Equal(t, "page.printToPDF: Printing failed", m["details"])
	assert.NotEmpty(t, m["hint"])
	assert.EqualValues(t, 1, fl.launches.Load())
	assert.EqualValues(t, 1, fl.closes.Load())
}

func TestHandleRender_LaunchFailure(t *testing.T) {
	fl := &fakeLauncher{launchErr: errors.New("launch chromium: exec: no such file")}
	cfg := testConfig()
	cfg.PDF.FailureHint = ""
	app := newTestApp(NewRenderService(cfg, fl, nil))

	resp, body := postJSON(t, app, map[string]any{"secret": testSecret, "html": validHTML()})

	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	m := decodeError(t, body)
	assert.Equal(t, "PDF render failed", m["error"])
	assert.Contains(t, m["details"], "exec: no such file")
	_, hasHint := m["hint"]
	assert.False(t, hasHint, "empty hint must be omitted")
	assert.EqualValues(t, 1, fl.launches.Load())
	assert.Zero(t, fl.closes.Load(), "nothing was launched, nothing to close")
}

func TestHandleRender_CloseFailureNeverMasksResult(t *testing.T) {
	t.Run("success stays success", func(t *testing.T) {
		fl := &fakeLauncher{closeErr: errors.New("target closed")}
		app := newTestApp(NewRenderService(testConfig(), fl, nil))

		resp, body := postJSON(t, app, map[string]any{"secret": testSecret, "html": validHTML()})
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, fakePDF, body)
		assert.EqualValues(t, 1, fl.closes.Load())
	})

	t.Run("primary error is kept", func(t *testing.T) {
		fl := &fakeLauncher{renderErr: errors.New("net::ERR_ABORTED"), closeErr: errors.New("target closed")}
		app := newTestApp(NewRenderService(testConfig(), fl, nil))

		resp, body := postJSON(t, app, map[string]any{"secret": testSecret, "html": validHTML()})
		assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, "net::ERR_ABORTED", decodeError(t, body)["details"])
		assert.EqualValues(t, 1, fl.closes.Load())
	})
}

func TestHandleRender_EmptyPDFIsAFailure(t *testing.T) {
	fl := &fakeLauncher{pdf: []byte{}}
	app := newTestApp(NewRenderService(testConfig(), fl, nil))

	resp, body := postJSON(t, app, map[string]any{"secret": testSecret, "html": validHTML()})
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, decodeError(t, body)["details"], "empty PDF")
	assert.EqualValues(t, 1, fl.closes.Load())
}

func TestHandleRender_ConcurrentRequestsUseOwnSessions(t *testing.T) {
	fl := &fakeLauncher{}
	app := newTestApp(NewRenderService(testConfig(), fl, nil))

	// Warm-up request so routes are built before concurrent use.
	warm, _ := postJSON(t, app, map[string]any{"secret": testSecret, "html": validHTML()})
	require.Equal(t, fiber.StatusOK, warm.StatusCode)

	const n = 8
	var wg sync.WaitGroup
	codes := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw, _ := json.Marshal(map[string]any{"secret": testSecret, "html": validHTML()})
			req := httptest.NewRequest(http.MethodPost, "/render-pdf", bytes.NewReader(raw))
			req.Header.Set("Content-Type", "application/json")
			resp, err := app.Test(req, -1)
			if err == nil {
				codes[i] = resp.StatusCode
			}
		}(i)
	}
	wg.Wait()

	for i, code := range codes {
		assert.Equal(t, fiber.StatusOK, code, "request %d", i)
	}
	assert.EqualValues(t, n+1, fl.launches.Load())
	assert.EqualValues(t, n+1, fl.closes.Load())
	assert.Zero(t, fl.open.Load(), "no session may outlive its request")
}

func TestHandleRender_CacheHitSkipsEngine(t *testing.T) {
	mrs := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mrs.Addr()})
	pdfCache := cache.New(rdb, 0)
	defer pdfCache.Close()

	fl := &fakeLauncher{}
	app := newTestApp(NewRenderService(testConfig(), fl, pdfCache))
	payload := map[string]any{"secret": testSecret, "html": validHTML()}

	resp1, body1 := postJSON(t, app, payload)
	require.Equal(t, fiber.StatusOK, resp1.StatusCode)
	resp2, body2 := postJSON(t, app, payload)
	require.Equal(t, fiber.StatusOK, resp2.StatusCode)

	assert.Equal(t, body1, body2)
	assert.Equal(t, "application/pdf", resp2.Header.Get("Content-Type"))
	assert.EqualValues(t, 1, fl.launches.Load(), "second request must be served from cache")
}

func TestHandleRender_FailuresAreNotCached(t *testing.T) {
	mrs := miniredis.RunT(t)
	pdfCache := cache.New(redis.NewClient(&redis.Options{Addr: mrs.Addr()}), 0)
	defer pdfCache.Close()

	fl := &fakeLauncher{renderErr: errors.New("boom")}
	app := newTestApp(NewRenderService(testConfig(), fl, pdfCache))
	payload := map[string]any{"secret": testSecret, "html": validHTML()}

	postJSON(t, app, payload)
	postJSON(t, app, payload)
	assert.EqualValues(t, 2, fl.launches.Load())
	assert.Empty(t, mrs.Keys())
}

func TestHandleRender_MissingChromeBinary(t *testing.T) {
	cfg := testConfig()
	cfg.PDF.ChromePath = "/definitely/missing/chrome"
	cfg.PDF.UserDataDir = t.TempDir()
	opts, err := chrome.OptionsFromConfig(cfg)
	require.NoError(t, err)

	app := newTestApp(NewRenderService(cfg, chrome.NewChromiumLauncher(opts), nil))
	resp, body := postJSON(t, app, map[string]any{"secret": testSecret, "html": validHTML()})

	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	m := decodeError(t, body)
	assert.Equal(t, "PDF render failed", m["error"])
	assert.NotEmpty(t, m["details"])
}
