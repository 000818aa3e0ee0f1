package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/wearsync/internal/auth/wearable"
	"github.com/router-for-me/wearsync/internal/config"
	"github.com/router-for-me/wearsync/internal/health"
	"github.com/router-for-me/wearsync/internal/webhook"
)

const testSecret = "hook-secret"

type stubExchanger struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubExchanger) Exchange(_ context.Context, code, _ string) (*wearable.Tokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &wearable.Tokens{AccessToken: "at-" + code, TokenType: "Bearer"}, nil
}

type testEnv struct {
	router    *gin.Engine
	exchanger *stubExchanger
	queue     *webhook.Queue
	stats     *webhook.Stats
	profiles  *health.MemoryProfiles
	dead      *webhook.MemoryDeadLetters
}

func newTestEnv(t *testing.T, secret string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	provider := config.ProviderConfig{
		ClientID:            "client-1",
		AuthURL:             "https://provider.example/oauth/authorize",
		TokenURL:            "https://provider.example/oauth/token",
		RedirectURI:         "https://app.example/api/wearable/auth/callback",
		Scopes:              []string{"activity"},
		TokenTimeoutSeconds: 5,
	}
	ex := &stubExchanger{}
	coord := wearable.NewCoordinator(provider, wearable.NewSessionStore(15*time.Minute), wearable.NewMemoryLedger(), ex, nil)
	queue := webhook.NewQueue(3)
	t.Cleanup(queue.Close)
	stats := webhook.NewStats(24 * time.Hour)
	profiles := health.NewMemoryProfiles()
	dead := webhook.NewMemoryDeadLetters(10)

	h := NewHandler(Options{
		Coordinator:   coord,
		Authenticator: webhook.NewAuthenticator(secret, 300*time.Second),
		Queue:         queue,
		Stats:         stats,
		DeadLetters:   dead,
		Registrations: webhook.NewMemoryRegistrations(),
		Profiles:      profiles,
		DoneURL:       "https://app.example/connected",
		MaxBodyBytes:  1 << 20,
	})
	router := gin.New()
	h.Register(router)
	return &testEnv{router: router, exchanger: ex, queue: queue, stats: stats, profiles: profiles, dead: dead}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) startFlow(t *testing.T) string {
	t.Helper()
	w := e.do(httptest.NewRequest(http.MethodGet, StartPath, nil))
	if w.Code != http.StatusFound {
		t.Fatalf("start status = %d, want 302", w.Code)
	}
	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	q := loc.Query()
	if q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "" {
		t.Fatalf("missing PKCE parameters in %s", loc)
	}
	state := q.Get("state")
	if state == "" {
		t.Fatalf("missing state in %s", loc)
	}
	return state
}

func doneParams(t *testing.T, w *httptest.ResponseRecorder) url.Values {
	t.Helper()
	if w.Code != http.StatusFound {
		t.Fatalf("callback status = %d, want 302; body=%s", w.Code, w.Body.String())
	}
	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	if loc.Host != "app.example" || loc.Path != "/connected" {
		t.Fatalf("redirected to %s, want the done URL", loc)
	}
	return loc.Query()
}

func callback(code, state string) *http.Request {
	q := url.Values{}
	if code != "" {
		q.Set("code", code)
	}
	if state != "" {
		q.Set("state", state)
	}
	return httptest.NewRequest(http.MethodGet, CallbackPath+"?"+q.Encode(), nil)
}

func TestCallbackSuccessThenDuplicate(t *testing.T) {
	env := newTestEnv(t, testSecret)
	state := env.startFlow(t)

	params := doneParams(t, env.do(callback("code-1", state)))
	if params.Get("status") != StatusOK {
		t.Fatalf("status = %q, want ok", params.Get("status"))
	}

	state2 := env.startFlow(t)
	params = doneParams(t, env.do(callback("code-1", state2)))
	if params.Get("status") != StatusDuplicate {
		t.Fatalf("status = %q, want duplicate", params.Get("status"))
	}
	if env.exchanger.calls != 1 {
		t.Fatalf("exchange calls = %d, want 1", env.exchanger.calls)
	}
}

func TestCallbackUnknownStateRedirectsWithReason(t *testing.T) {
	env := newTestEnv(t, testSecret)
	params := doneParams(t, env.do(callback("code-1", "not-a-state")))
	if params.Get("status") != StatusError || params.Get("reason") != "invalid_state" {
		t.Fatalf("unexpected params %v", params)
	}
	if env.exchanger.calls != 0 {
		t.Fatalf("exchange must not run for an unknown state")
	}
}

func TestCallbackErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     string
		reason     string
		httpStatus string
	}{
		{
			name:       "rate limited",
			err:        &wearable.TokenEndpointError{StatusCode: http.StatusTooManyRequests},
			status:     StatusRateLimited,
			httpStatus: "429",
		},
		{
			name:       "rejected",
			err:        &wearable.TokenEndpointError{StatusCode: http.StatusBadRequest, Code: "invalid_grant"},
			status:     StatusError,
			reason:     "token_exchange_failed",
			httpStatus: "400",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, testSecret)
			env.exchanger.err = tt.err
			state := env.startFlow(t)
			params := doneParams(t, env.do(callback("code-x", state)))
			if params.Get("status") != tt.status {
				t.Fatalf("status = %q, want %q", params.Get("status"), tt.status)
			}
			if params.Get("reason") != tt.reason {
				t.Fatalf("reason = %q, want %q", params.Get("reason"), tt.reason)
			}
			if params.Get("http_status") != tt.httpStatus {
				t.Fatalf("http_status = %q, want %q", params.Get("http_status"), tt.httpStatus)
			}
		})
	}
}

func TestCallbackMissingCodeAndProviderDenied(t *testing.T) {
	env := newTestEnv(t, testSecret)
	state := env.startFlow(t)
	params := doneParams(t, env.do(callback("", state)))
	if params.Get("reason") != "missing_code" {
		t.Fatalf("reason = %q, want missing_code", params.Get("reason"))
	}

	req := httptest.NewRequest(http.MethodGet, CallbackPath+"?error=access_denied&state="+state, nil)
	params = doneParams(t, env.do(req))
	if params.Get("status") != StatusError || params.Get("reason") != "provider_denied" {
		t.Fatalf("unexpected params %v", params)
	}
	params = doneParams(t, env.do(callback("code-late", state)))
	if params.Get("reason") != "invalid_state" {
		t.Fatalf("session should be discarded after a provider error, got %v", params)
	}
}

func TestCallbackCodesNeverAppearInRedirect(t *testing.T) {
	env := newTestEnv(t, testSecret)
	state := env.startFlow(t)
	w := env.do(callback("very-secret-code", state))
	if loc := w.Header().Get("Location"); strings.Contains(loc, "very-secret-code") || strings.Contains(loc, state) {
		t.Fatalf("redirect leaks code or state: %s", loc)
	}
}

func signedRequest(t *testing.T, body []byte, ts time.Time, secret string) *http.Request {
	t.Helper()
	timestamp := strconv.FormatInt(ts.Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, BasePath+"/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Timestamp", timestamp)
	req.Header.Set("Signature", webhook.Sign(secret, timestamp, body))
	return req
}

func TestReceiveWebhookEnqueuesItems(t *testing.T) {
	env := newTestEnv(t, testSecret)
	body := []byte(`[{"userId":"u1","sleepTimeInSeconds":27000},{"userId":"u2","averageStressLevel":40}]`)
	w := env.do(signedRequest(t, body, time.Now(), testSecret))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Status        string `json:"status"`
		ItemsReceived int    `json:"itemsReceived"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "received" || resp.ItemsReceived != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got := env.queue.Stats().Pending; got != 2 {
		t.Fatalf("pending = %d, want 2", got)
	}
	if got := env.stats.Window(time.Hour).Received; got != 2 {
		t.Fatalf("received = %d, want 2", got)
	}
}

func TestReceiveWebhookRejections(t *testing.T) {
	env := newTestEnv(t, testSecret)
	body := []byte(`{"userId":"u1","averageStressLevel":40}`)

	if w := env.do(signedRequest(t, body, time.Now(), "wrong-secret")); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad signature status = %d, want 401", w.Code)
	}
	if w := env.do(signedRequest(t, body, time.Now().Add(-301*time.Second), testSecret)); w.Code != http.StatusUnauthorized {
		t.Fatalf("stale status = %d, want 401", w.Code)
	}
	unsigned := httptest.NewRequest(http.MethodPost, BasePath+"/webhook", bytes.NewReader(body))
	if w := env.do(unsigned); w.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned status = %d, want 401", w.Code)
	}
	if w := env.do(signedRequest(t, []byte(`"scalar"`), time.Now(), testSecret)); w.Code != http.StatusBadRequest {
		t.Fatalf("malformed status = %d, want 400", w.Code)
	}
	if got := env.queue.Len(); got != 0 {
		t.Fatalf("rejected deliveries reached the queue: %d", got)
	}
	if got := env.stats.Window(time.Hour).Rejected; got != 4 {
		t.Fatalf("rejected = %d, want 4", got)
	}
}

func TestReceiveWebhookRelaxedMode(t *testing.T) {
	env := newTestEnv(t, "")
	req := httptest.NewRequest(http.MethodPost, BasePath+"/webhook", strings.NewReader(`{"userId":"u1","bodyBattery":50}`))
	if w := env.do(req); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 in relaxed mode", w.Code)
	}

	w := env.do(httptest.NewRequest(http.MethodGet, BasePath+"/webhook/status", nil))
	var status struct {
		QueueLength           int  `json:"queueLength"`
		Processing            bool `json:"processing"`
		SignatureVerification bool `json:"signatureVerification"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.QueueLength != 1 || status.Processing || status.SignatureVerification {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestRegisterWebhook(t *testing.T) {
	env := newTestEnv(t, testSecret)
	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, BasePath+"/webhook/register", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return env.do(req)
	}

	if w := post(`{"callbackUrl":"https://a.example/hook"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing userId status = %d, want 400", w.Code)
	} else if !strings.Contains(w.Body.String(), "userId") {
		t.Fatalf("error should name userId: %s", w.Body.String())
	}
	if w := post(`{"userId":"u1"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing callbackUrl status = %d, want 400", w.Code)
	}
	if w := post(`{"userId":"u1","callbackUrl":"https://a.example/hook","eventTypes":["sleeps"]}`); w.Code != http.StatusOK {
		t.Fatalf("register status = %d, body=%s", w.Code, w.Body.String())
	}

	w := env.do(httptest.NewRequest(http.MethodGet, BasePath+"/webhook/registrations/u1", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "https://a.example/hook") {
		t.Fatalf("lookup status = %d, body=%s", w.Code, w.Body.String())
	}
	if w = env.do(httptest.NewRequest(http.MethodGet, BasePath+"/webhook/registrations/u2", nil)); w.Code != http.StatusNotFound {
		t.Fatalf("unknown registration status = %d, want 404", w.Code)
	}
}

func TestWebhookStatsWindow(t *testing.T) {
	env := newTestEnv(t, testSecret)
	env.stats.Record(webhook.OutcomeDone, 3)
	env.stats.Record(webhook.OutcomeDead, 1)

	w := env.do(httptest.NewRequest(http.MethodGet, BasePath+"/webhook/stats?window=1d", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var stats webhook.WindowStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Succeeded != 3 || stats.DeadLettered != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	for _, bad := range []string{"abc", "-1h", "0d"} {
		w = env.do(httptest.NewRequest(http.MethodGet, BasePath+"/webhook/stats?window="+bad, nil))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("window %q status = %d, want 400", bad, w.Code)
		}
	}
}

func TestDeadLettersAndProfile(t *testing.T) {
	env := newTestEnv(t, testSecret)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = env.dead.WriteDeadLetter(ctx, webhook.DeadLetter{ItemID: "item-" + strconv.Itoa(i)})
	}
	w := env.do(httptest.NewRequest(http.MethodGet, BasePath+"/webhook/dead-letters?limit=2", nil))
	var resp struct {
		DeadLetters []webhook.DeadLetter `json:"deadLetters"`
		Count       int                  `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 || resp.DeadLetters[0].ItemID != "item-2" {
		t.Fatalf("unexpected dead letters %+v", resp)
	}
	if w = env.do(httptest.NewRequest(http.MethodGet, BasePath+"/webhook/dead-letters?limit=x", nil)); w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d, want 400", w.Code)
	}

	if w = env.do(httptest.NewRequest(http.MethodGet, BasePath+"/profile/u1", nil)); w.Code != http.StatusNotFound {
		t.Fatalf("missing profile status = %d, want 404", w.Code)
	}
	sleep := 95
	if _, err := env.profiles.UpdateScores(ctx, "u1", health.Scores{Sleep: &sleep}); err != nil {
		t.Fatalf("UpdateScores: %v", err)
	}
	w = env.do(httptest.NewRequest(http.MethodGet, BasePath+"/profile/u1", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"sleep":95`) {
		t.Fatalf("profile status = %d, body=%s", w.Code, w.Body.String())
	}
}

func TestParseWindow(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"1h", time.Hour, true},
		{"90m", 90 * time.Minute, true},
		{"7d", 7 * 24 * time.Hour, true},
		{"0s", 0, false},
		{"d", 0, false},
		{"soon", 0, false},
	}
	for _, tt := range tests {
		got, err := parseWindow(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("parseWindow(%q) err = %v, want ok=%v", tt.in, err, tt.ok)
		}
		if tt.ok && got != tt.want {
			t.Fatalf("parseWindow(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
