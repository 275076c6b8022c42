package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	xerrors "AgentFleet/internal/errors"
)

func newTestGateway(t *testing.T, cfg Config) *Gateway {
	t.Helper()
	g, err := New(cfg)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return g
}

func TestFetchSuccessSendsHeadersAndBody(t *testing.T) {
	var captured struct {
		Method, Accept, ContentType, UserAgent, Referer string
		Body                                            map[string]any
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Method = r.Method
		captured.Accept = r.Header.Get("Accept")
		captured.ContentType = r.Header.Get("Content-Type")
		captured.UserAgent = r.Header.Get("User-Agent")
		captured.Referer = r.Header.Get("Referer")
		if err := json.NewDecoder(r.Body).Decode(&captured.Body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"total_interactions": 12}`))
	}))
	defer srv.Close()

	g := newTestGateway(t, Config{Referer: "https://agents.example/"})
	resp, err := g.Fetch(context.Background(), Request{
		Name:   "stats",
		Method: http.MethodPost,
		URL:    srv.URL,
		Body:   map[string]any{"address": "0xabc"},
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if resp.StatusCode != http.StatusOK || resp.Soft {
		t.Fatalf("2xx should normalize to 200, got %+v", resp)
	}
	var stats struct {
		Total int `json:"total_interactions"`
	}
	if err := resp.Decode(&stats); err != nil || stats.Total != 12 {
		t.Fatalf("unexpected payload %s: %v", resp.Data, err)
	}

	if captured.Method != http.MethodPost {
		t.Fatalf("unexpected method %s", captured.Method)
	}
	if captured.Accept != "application/json, text/plain, */*" || captured.ContentType != "application/json" {
		t.Fatalf("unexpected headers: %+v", captured)
	}
	if captured.UserAgent != g.UserAgent() || captured.UserAgent == "" {
		t.Fatalf("user agent not propagated: %q", captured.UserAgent)
	}
	if captured.Referer != "https://agents.example/" {
		t.Fatalf("unexpected referer %q", captured.Referer)
	}
	if captured.Body["address"] != "0xabc" {
		t.Fatalf("unexpected body: %+v", captured.Body)
	}
}

func TestFetchForbiddenIsSoftSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("<html>cloudflare</html>"))
	}))
	defer srv.Close()

	resp, err := newTestGateway(t, Config{}).Fetch(context.Background(), Request{URL: srv.URL})
	if err != nil {
		t.Fatalf("403 must not be an error: %v", err)
	}
	if !resp.Soft || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected soft success, got %+v", resp)
	}
	if resp.Message() != "Forbidden" {
		t.Fatalf("payload should carry the status text, got %s", resp.Data)
	}
}

func TestFetchAPIErrorMessagePriority(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{name: "error field", status: http.StatusBadRequest, body: `{"error":"quota exceeded","detail":"ignored"}`, want: "quota exceeded"},
		{name: "detail field", status: http.StatusNotFound, body: `{"detail":"Not Found"}`, want: "Not Found"},
		{name: "status text", status: http.StatusBadGateway, body: `{"unexpected":true}`, want: "Bad Gateway"},
		{name: "non string error", status: http.StatusTooManyRequests, body: `{"error":{"code":1}}`, want: "Too Many Requests"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			resp, err := newTestGateway(t, Config{}).Fetch(context.Background(), Request{URL: srv.URL})
			if xerrors.CodeOf(err) != xerrors.CodeAPIFailure {
				t.Fatalf("expected api failure, got %v", err)
			}
			apiErr, ok := AsAPIError(err)
			if !ok {
				t.Fatalf("expected APIError in chain: %v", err)
			}
			if apiErr.StatusCode != tc.status || apiErr.Message != tc.want {
				t.Fatalf("unexpected api error: %+v", apiErr)
			}
			if resp == nil || resp.StatusCode != tc.status {
				t.Fatalf("response should be returned alongside the error: %+v", resp)
			}
		})
	}
}

func TestFetchPlainTextWrapsMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	resp, err := newTestGateway(t, Config{}).Fetch(context.Background(), Request{URL: srv.URL})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if resp.Message() != "ok" {
		t.Fatalf("unexpected payload %s", resp.Data)
	}
}

func TestFetchTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	target := srv.URL
	srv.Close()

	resp, err := newTestGateway(t, Config{Timeout: time.Second}).Fetch(context.Background(), Request{URL: target})
	if resp != nil {
		t.Fatalf("no response expected on transport failure")
	}
	if xerrors.CodeOf(err) != xerrors.CodeRequestFailed || !xerrors.IsAPI(err) {
		t.Fatalf("expected request failure, got %v", err)
	}
	apiErr, ok := AsAPIError(err)
	if !ok || apiErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("transport failures report code 500: %+v", apiErr)
	}
}

func TestFetchMalformedJSONIsRequestFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	_, err := newTestGateway(t, Config{}).Fetch(context.Background(), Request{URL: srv.URL})
	if xerrors.CodeOf(err) != xerrors.CodeRequestFailed {
		t.Fatalf("expected request failure, got %v", err)
	}
}

func TestFetchThroughHTTPProxy(t *testing.T) {
	var proxied atomic.Int32
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied.Add(1)
		if r.URL.Host != "agent.invalid" {
			t.Errorf("proxy received unexpected target %s", r.URL)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"via":"proxy"}`))
	}))
	defer proxy.Close()

	proxyURL, err := url.Parse(proxy.URL)
	if err != nil {
		t.Fatalf("parse proxy url: %v", err)
	}
	g := newTestGateway(t, Config{Proxy: "http://user:secret@" + proxyURL.Host})
	resp, err := g.Fetch(context.Background(), Request{URL: "http://agent.invalid/main"})
	if err != nil {
		t.Fatalf("fetch via proxy: %v", err)
	}
	if proxied.Load() != 1 {
		t.Fatalf("request did not go through the proxy")
	}
	var payload map[string]string
	if err := resp.Decode(&payload); err != nil || payload["via"] != "proxy" {
		t.Fatalf("unexpected payload %s: %v", resp.Data, err)
	}
}

func TestNewRejectsBadProxy(t *testing.T) {
	if _, err := New(Config{Proxy: "ftp://host:21"}); !xerrors.IsSetup(err) {
		t.Fatalf("expected setup failure, got %v", err)
	}
}

func TestRateLimiterHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	g := newTestGateway(t, Config{RequestsPerMinute: 1})
	if _, err := g.Fetch(context.Background(), Request{URL: srv.URL}); err != nil {
		t.Fatalf("first call should pass the limiter: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := g.Fetch(ctx, Request{URL: srv.URL}); xerrors.CodeOf(err) != xerrors.CodeRequestFailed {
		t.Fatalf("second call should be paced and cancelled, got %v", err)
	}
}
