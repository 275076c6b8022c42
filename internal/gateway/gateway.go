package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"mime"
	"net/http"
	"strings"
	"time"

	xerrors "AgentFleet/internal/errors"
	"AgentFleet/internal/observability/metrics"

	"golang.org/x/time/rate"
)

const defaultTimeout = 60 * time.Second

// Classification outcomes reported to metrics.
const (
	OutcomeSuccess       = "success"
	OutcomeSoftSuccess   = "soft_success"
	OutcomeAPIError      = "api_error"
	OutcomeRequestFailed = "request_failed"
)

var userAgents = []string{
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) CriOS/125.0.6422.80 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_5_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 EdgiOS/125.2535.60 Mobile/15E148 Safari/605.1.15",
	"Mozilla/5.0 (Linux; Android 10; SM-G973F) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.6422.113 Mobile Safari/537.36 EdgA/124.0.2478.104",
	"Mozilla/5.0 (Linux; Android 10; Pixel 3 XL) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.6422.113 Mobile Safari/537.36 EdgA/124.0.2478.104",
	"Mozilla/5.0 (Linux; Android 10; VOG-L29) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.6422.113 Mobile Safari/537.36 OPR/76.2.4027.73374",
	"Mozilla/5.0 (Linux; Android 10; SM-N975F) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.6422.113 Mobile Safari/537.36 OPR/76.2.4027.73374",
}

// RandomUserAgent picks one of the built-in mobile browser identities.
func RandomUserAgent() string {
	return userAgents[rand.IntN(len(userAgents))]
}

// Config describes one account's gateway.
type Config struct {
	Proxy             string
	Referer           string
	UserAgent         string
	Timeout           time.Duration
	RequestsPerMinute int
}

// Gateway issues JSON calls for one account through its proxy and classifies
// the outcome. It never retries.
type Gateway struct {
	httpClient *http.Client
	userAgent  string
	referer    string
	limiter    *rate.Limiter
}

// Request is a single outbound call. Name labels the call in metrics.
type Request struct {
	Name    string
	Method  string
	URL     string
	Body    any
	Token   string
	Headers map[string]string
}

// New validates the proxy and builds the HTTP client. Every error is a setup
// failure for the owning account.
func New(cfg Config) (*Gateway, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if strings.TrimSpace(cfg.Proxy) != "" {
		proxyURL, err := ValidateProxy(cfg.Proxy)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeSetupFailure, err, "代理配置无效")
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = RandomUserAgent()
	}
	if strings.ContainsAny(userAgent, "\r\n") || strings.ContainsAny(cfg.Referer, "\r\n") {
		return nil, xerrors.New(xerrors.CodeSetupFailure, "请求头包含非法字符")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	g := &Gateway{
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		userAgent:  userAgent,
		referer:    strings.TrimSpace(cfg.Referer),
	}
	if cfg.RequestsPerMinute > 0 {
		g.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return g, nil
}

// UserAgent returns the identity chosen for this gateway.
func (g *Gateway) UserAgent() string {
	return g.userAgent
}

// Fetch performs the request and classifies the response:
//   - 2xx returns the parsed payload with StatusCode normalized to 200;
//   - 403 returns a soft success whose payload is {"message": status text};
//   - any other status returns the response together with an API_FAILURE error;
//   - transport failures return a REQUEST_FAILED error and no response.
func (g *Gateway) Fetch(ctx context.Context, req Request) (*Response, error) {
	started := time.Now()
	resp, outcome, err := g.do(ctx, req)
	metrics.ObserveGateway(endpointLabel(req), outcome, started)
	return resp, err
}

func (g *Gateway) do(ctx context.Context, req Request) (*Response, string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, OutcomeRequestFailed, requestFailed(err)
		}
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, OutcomeRequestFailed, requestFailed(fmt.Errorf("encode body: %w", err))
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, OutcomeRequestFailed, requestFailed(err)
	}
	httpReq.Header.Set("Accept", "application/json, text/plain, */*")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", g.userAgent)
	if g.referer != "" {
		httpReq.Header.Set("Referer", g.referer)
	}
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	httpResp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, OutcomeRequestFailed, requestFailed(err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, OutcomeRequestFailed, requestFailed(fmt.Errorf("read body: %w", err))
	}

	statusText := http.StatusText(httpResp.StatusCode)
	if statusText == "" {
		statusText = httpResp.Status
	}

	if httpResp.StatusCode == http.StatusForbidden {
		return &Response{
			StatusCode: httpResp.StatusCode,
			Status:     statusText,
			Data:       messagePayload(statusText),
			Soft:       true,
		}, OutcomeSoftSuccess, nil
	}

	data, err := decodePayload(httpResp.Header.Get("Content-Type"), raw)
	if err != nil {
		return nil, OutcomeRequestFailed, requestFailed(err)
	}

	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		return &Response{StatusCode: http.StatusOK, Status: statusText, Data: data}, OutcomeSuccess, nil
	}

	resp := &Response{StatusCode: httpResp.StatusCode, Status: statusText, Data: data}
	apiErr := &APIError{StatusCode: httpResp.StatusCode, Message: errorMessage(data, statusText)}
	return resp, OutcomeAPIError, xerrors.Wrap(xerrors.CodeAPIFailure, apiErr, "接口返回错误",
		xerrors.WithMetadata("status", fmt.Sprint(httpResp.StatusCode)))
}

func decodePayload(contentType string, raw []byte) (json.RawMessage, error) {
	if isJSON(contentType) {
		if len(bytes.TrimSpace(raw)) == 0 {
			return json.RawMessage("{}"), nil
		}
		if !json.Valid(raw) {
			return nil, errors.New("response declared JSON but body is malformed")
		}
		return json.RawMessage(raw), nil
	}
	return messagePayload(string(raw)), nil
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func messagePayload(text string) json.RawMessage {
	payload, _ := json.Marshal(map[string]string{"message": text})
	return payload
}

func errorMessage(data json.RawMessage, fallback string) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fallback
	}
	for _, key := range []string{"error", "detail"} {
		if value, ok := fields[key]; ok {
			var text string
			if err := json.Unmarshal(value, &text); err == nil && text != "" {
				return text
			}
		}
	}
	return fallback
}

func requestFailed(err error) error {
	return xerrors.Wrap(xerrors.CodeRequestFailed, &APIError{
		StatusCode: http.StatusInternalServerError,
		Message:    "Request Failed: " + err.Error(),
	}, "请求失败")
}

func endpointLabel(req Request) string {
	if req.Name != "" {
		return req.Name
	}
	return "other"
}
