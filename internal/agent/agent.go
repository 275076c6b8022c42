package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	xerrors "AgentFleet/internal/errors"
	"AgentFleet/internal/gateway"
	"AgentFleet/internal/knowledge"
)

const (
	// DefaultUsageBaseURL 是统计与使用上报服务的默认地址。
	DefaultUsageBaseURL = "https://quests-usage-dev.prod.zettablock.com"
	// DefaultEndpointTemplate 中的 %s 会被替换为规范化后的智能体 ID。
	DefaultEndpointTemplate = "https://%s.stag-vxzy.zettablock.com/main"
)

// Agent 描述一个固定的对话智能体。
type Agent struct {
	Key  string `json:"key"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Endpoint 根据模板生成智能体的调用地址，ID 转小写且下划线替换为连字符。
func (a Agent) Endpoint(template string) string {
	if strings.TrimSpace(template) == "" {
		template = DefaultEndpointTemplate
	}
	return fmt.Sprintf(template, strings.ReplaceAll(strings.ToLower(a.ID), "_", "-"))
}

// DefaultAgents 按固定顺序返回三个智能体。
func DefaultAgents() []Agent {
	return []Agent{
		{Key: knowledge.KeyProfessor, ID: "deployment_KiMLvUiTydioiHm7PWZ12zJU", Name: "Professor"},
		{Key: knowledge.KeySherlock, ID: "deployment_OX7sn2D0WvxGUGK8CTqsU5VJ", Name: "Sherlock"},
		{Key: knowledge.KeyCryptoBuddy, ID: "deployment_ByVHjMD6eDb9AdekRIbyuz14", Name: "Crypto Buddy"},
	}
}

// Exchange 是一次完成的问答。Live 表示回答来自在线智能体。
type Exchange struct {
	Agent    Agent  `json:"agent"`
	Request  string `json:"request"`
	Response string `json:"response"`
	Live     bool   `json:"live"`
}

// Fetcher 抽象出网关调用，便于测试替换。
type Fetcher interface {
	Fetch(ctx context.Context, req gateway.Request) (*gateway.Response, error)
}

// Service 封装单个账户对智能体与统计服务的调用。
type Service struct {
	fetcher   Fetcher
	catalog   *knowledge.Catalog
	usageBase string
	template  string
	realMode  bool
}

// Option 定义可选的 Service 配置。
type Option func(*Service)

// WithCatalog 设置提问池与离线问答表。
func WithCatalog(catalog *knowledge.Catalog) Option {
	return func(s *Service) {
		if catalog != nil {
			s.catalog = catalog
		}
	}
}

// WithUsageBaseURL 覆盖统计与上报服务地址。
func WithUsageBaseURL(base string) Option {
	return func(s *Service) {
		if base = strings.TrimRight(strings.TrimSpace(base), "/"); base != "" {
			s.usageBase = base
		}
	}
}

// WithEndpointTemplate 覆盖智能体地址模板。
func WithEndpointTemplate(template string) Option {
	return func(s *Service) {
		if strings.Contains(template, "%s") {
			s.template = template
		}
	}
}

// WithRealMode 控制是否调用在线智能体。
func WithRealMode(enabled bool) Option {
	return func(s *Service) {
		s.realMode = enabled
	}
}

// NewService 创建 Service，默认使用离线模式与内置内容。
func NewService(fetcher Fetcher, opts ...Option) *Service {
	s := &Service{
		fetcher:   fetcher,
		catalog:   knowledge.DefaultCatalog(),
		usageBase: DefaultUsageBaseURL,
		template:  DefaultEndpointTemplate,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// RealMode 返回当前是否处于在线模式。
func (s *Service) RealMode() bool {
	return s.realMode
}

// Stats 拉取地址的使用统计，返回原始 JSON。
func (s *Service) Stats(ctx context.Context, address string) (json.RawMessage, error) {
	resp, err := s.fetcher.Fetch(ctx, gateway.Request{
		Name:   "stats",
		Method: http.MethodGet,
		URL:    fmt.Sprintf("%s/api/user/%s/stats", s.usageBase, address),
		Body:   map[string]string{"address": address},
	})
	if err != nil {
		return nil, err
	}
	if err := requireSuccess(resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Chat 与智能体完成一次问答。离线模式从问答表中随机取一组，不发起网络请求。
func (s *Service) Chat(ctx context.Context, agent Agent) (*Exchange, error) {
	if !s.realMode {
		pair, ok := s.catalog.Pair(agent.Key)
		if !ok {
			return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("智能体 %s 没有离线问答", agent.Name))
		}
		return &Exchange{Agent: agent, Request: pair.Question, Response: pair.Answer}, nil
	}

	prompt, ok := s.catalog.Prompt(agent.Key)
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("智能体 %s 没有可用提问", agent.Name))
	}
	resp, err := s.fetcher.Fetch(ctx, gateway.Request{
		Name:   "chat",
		Method: http.MethodPost,
		URL:    agent.Endpoint(s.template),
		Body:   map[string]any{"message": prompt, "stream": false},
	})
	if err != nil {
		return nil, err
	}
	if err := requireSuccess(resp); err != nil {
		return nil, err
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	// 回答缺失时按空字符串处理，问答仍视为完成。
	_ = resp.Decode(&completion)
	var content string
	if len(completion.Choices) > 0 {
		content = completion.Choices[0].Message.Content
	}
	return &Exchange{Agent: agent, Request: prompt, Response: content, Live: true}, nil
}

// ReportUsage 将一次问答上报给使用统计服务。
func (s *Service) ReportUsage(ctx context.Context, address string, ex Exchange) error {
	resp, err := s.fetcher.Fetch(ctx, gateway.Request{
		Name:   "report_usage",
		Method: http.MethodPost,
		URL:    s.usageBase + "/api/report_usage",
		Body: map[string]any{
			"wallet_address":   address,
			"agent_id":         ex.Agent.ID,
			"request_text":     ex.Request,
			"response_text":    ex.Response,
			"request_metadata": map[string]any{},
		},
	})
	if err != nil {
		return err
	}
	return requireSuccess(resp)
}

// requireSuccess 将 403 软成功转换为 API 错误，调用方只接受 2xx。
func requireSuccess(resp *gateway.Response) error {
	if resp == nil {
		return xerrors.New(xerrors.CodeRequestFailed, "响应为空")
	}
	if !resp.Soft {
		return nil
	}
	message := resp.Message()
	if message == "" {
		message = fmt.Sprint(resp.StatusCode)
	}
	return xerrors.Wrap(xerrors.CodeAPIFailure, &gateway.APIError{StatusCode: resp.StatusCode, Message: message}, "请求被拒绝")
}
