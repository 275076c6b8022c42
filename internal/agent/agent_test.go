package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	xerrors "AgentFleet/internal/errors"
	"AgentFleet/internal/gateway"
	"AgentFleet/internal/knowledge"
)

type recordedCall struct {
	Method string
	Path   string
	Host   string
	Body   map[string]any
}

type fakeUpstream struct {
	mu    sync.Mutex
	calls []recordedCall
	reply func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{Method: r.Method, Path: r.URL.Path, Host: r.Host, Body: body})
	f.mu.Unlock()
	f.reply(w, r)
}

func (f *fakeUpstream) Calls() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCall(nil), f.calls...)
}

func jsonReply(status int, body string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func newService(t *testing.T, upstream *fakeUpstream, opts ...Option) (*Service, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)
	g, err := gateway.New(gateway.Config{})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	base := []Option{
		WithUsageBaseURL(srv.URL),
		WithEndpointTemplate(srv.URL + "/%s/main"),
	}
	return NewService(g, append(base, opts...)...), srv
}

func TestAgentEndpointNormalizesID(t *testing.T) {
	a := Agent{ID: "deployment_KiMLvUiTydioiHm7PWZ12zJU"}
	got := a.Endpoint("")
	want := "https://deployment-kimlvuitydioihm7pwz12zju.stag-vxzy.zettablock.com/main"
	if got != want {
		t.Fatalf("unexpected endpoint %s", got)
	}
}

func TestDefaultAgentsOrder(t *testing.T) {
	agents := DefaultAgents()
	if len(agents) != 3 {
		t.Fatalf("expected three agents, got %d", len(agents))
	}
	order := []string{knowledge.KeyProfessor, knowledge.KeySherlock, knowledge.KeyCryptoBuddy}
	for i, key := range order {
		if agents[i].Key != key || agents[i].ID == "" {
			t.Fatalf("agent %d: unexpected %+v", i, agents[i])
		}
	}
}

func TestStatsReturnsRawPayload(t *testing.T) {
	upstream := &fakeUpstream{reply: jsonReply(http.StatusOK, `{"total_interactions":7}`)}
	svc, _ := newService(t, upstream)

	stats, err := svc.Stats(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if string(stats) != `{"total_interactions":7}` {
		t.Fatalf("unexpected stats %s", stats)
	}
	calls := upstream.Calls()
	if len(calls) != 1 || calls[0].Method != http.MethodGet || calls[0].Path != "/api/user/0xabc/stats" {
		t.Fatalf("unexpected calls %+v", calls)
	}
	if calls[0].Body["address"] != "0xabc" {
		t.Fatalf("stats body should carry the address: %+v", calls[0].Body)
	}
}

func TestStatsForbiddenIsAPIError(t *testing.T) {
	upstream := &fakeUpstream{reply: jsonReply(http.StatusForbidden, `{}`)}
	svc, _ := newService(t, upstream)

	_, err := svc.Stats(context.Background(), "0xabc")
	if xerrors.CodeOf(err) != xerrors.CodeAPIFailure {
		t.Fatalf("expected api failure, got %v", err)
	}
	apiErr, ok := gateway.AsAPIError(err)
	if !ok || apiErr.StatusCode != http.StatusForbidden || apiErr.Message != "Forbidden" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestChatOfflineUsesCatalogWithoutNetwork(t *testing.T) {
	upstream := &fakeUpstream{reply: jsonReply(http.StatusOK, `{}`)}
	catalog := knowledge.NewCatalog(map[string]knowledge.Content{
		knowledge.KeySherlock: {Pairs: []knowledge.QA{{Question: "q", Answer: "a"}}},
	})
	svc, _ := newService(t, upstream, WithCatalog(catalog))

	agent := DefaultAgents()[1]
	ex, err := svc.Chat(context.Background(), agent)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if ex.Request != "q" || ex.Response != "a" || ex.Live {
		t.Fatalf("unexpected exchange %+v", ex)
	}
	if len(upstream.Calls()) != 0 {
		t.Fatalf("offline chat must not hit the network")
	}

	if _, err := svc.Chat(context.Background(), DefaultAgents()[0]); xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("missing pairs should be not found, got %v", err)
	}
}

func TestChatLiveParsesFirstChoice(t *testing.T) {
	upstream := &fakeUpstream{reply: jsonReply(http.StatusOK, `{"choices":[{"message":{"content":"first"}},{"message":{"content":"second"}}]}`)}
	catalog := knowledge.NewCatalog(map[string]knowledge.Content{
		knowledge.KeyProfessor: {Prompts: []string{"What is Kite AI?"}},
	})
	svc, _ := newService(t, upstream, WithCatalog(catalog), WithRealMode(true))

	agent := DefaultAgents()[0]
	ex, err := svc.Chat(context.Background(), agent)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !ex.Live || ex.Request != "What is Kite AI?" || ex.Response != "first" {
		t.Fatalf("unexpected exchange %+v", ex)
	}
	calls := upstream.Calls()
	if len(calls) != 1 || calls[0].Method != http.MethodPost {
		t.Fatalf("unexpected calls %+v", calls)
	}
	if !strings.HasPrefix(calls[0].Path, "/deployment-kimlvuitydioihm7pwz12zju/") {
		t.Fatalf("agent id not normalized in path %s", calls[0].Path)
	}
	if calls[0].Body["message"] != "What is Kite AI?" || calls[0].Body["stream"] != false {
		t.Fatalf("unexpected chat body %+v", calls[0].Body)
	}
}

func TestChatLiveMissingContentIsEmpty(t *testing.T) {
	upstream := &fakeUpstream{reply: jsonReply(http.StatusOK, `{"choices":[]}`)}
	svc, _ := newService(t, upstream, WithRealMode(true))

	ex, err := svc.Chat(context.Background(), DefaultAgents()[2])
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if ex.Response != "" {
		t.Fatalf("expected empty response, got %q", ex.Response)
	}
}

func TestChatLiveErrorStatus(t *testing.T) {
	upstream := &fakeUpstream{reply: jsonReply(http.StatusInternalServerError, `{"detail":"model offline"}`)}
	svc, _ := newService(t, upstream, WithRealMode(true))

	_, err := svc.Chat(context.Background(), DefaultAgents()[0])
	apiErr, ok := gateway.AsAPIError(err)
	if !ok || apiErr.Message != "model offline" || !xerrors.IsAPI(err) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestReportUsageBody(t *testing.T) {
	upstream := &fakeUpstream{reply: jsonReply(http.StatusOK, `{"ok":true}`)}
	svc, _ := newService(t, upstream)

	agent := DefaultAgents()[2]
	err := svc.ReportUsage(context.Background(), "0xabc", Exchange{Agent: agent, Request: "Price of bitcoin", Response: "high"})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	calls := upstream.Calls()
	if len(calls) != 1 || calls[0].Path != "/api/report_usage" || calls[0].Method != http.MethodPost {
		t.Fatalf("unexpected calls %+v", calls)
	}
	body := calls[0].Body
	if body["wallet_address"] != "0xabc" || body["agent_id"] != agent.ID {
		t.Fatalf("unexpected identity fields %+v", body)
	}
	if body["request_text"] != "Price of bitcoin" || body["response_text"] != "high" {
		t.Fatalf("unexpected exchange fields %+v", body)
	}
	if meta, ok := body["request_metadata"].(map[string]any); !ok || len(meta) != 0 {
		t.Fatalf("request_metadata should be an empty object: %+v", body["request_metadata"])
	}
}

func TestReportUsageForbidden(t *testing.T) {
	upstream := &fakeUpstream{reply: jsonReply(http.StatusForbidden, ``)}
	svc, _ := newService(t, upstream)

	err := svc.ReportUsage(context.Background(), "0xabc", Exchange{Agent: DefaultAgents()[0]})
	if !xerrors.IsAPI(err) {
		t.Fatalf("expected api error, got %v", err)
	}
}
