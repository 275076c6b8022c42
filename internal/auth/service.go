package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"

	"AgentFleet/internal/config"
	"AgentFleet/pkg/logger"
)

type tokenEntry struct {
	digest  [sha256.Size]byte
	subject *Subject
}

// Service 校验状态 API 的 Bearer 令牌。令牌只以摘要形式保存在内存中。
type Service struct {
	tokens []tokenEntry
	audit  *slog.Logger
}

// NewService 根据配置构造认证服务。没有配置任何令牌时返回的服务处于关闭状态。
func NewService(cfg config.AuthConfig) (*Service, error) {
	s := &Service{audit: logger.Named("audit")}
	seen := make(map[string]struct{}, len(cfg.Tokens))
	for i, tok := range cfg.Tokens {
		secret := strings.TrimSpace(tok.Token)
		if secret == "" {
			return nil, fmt.Errorf("第 %d 个令牌为空", i+1)
		}
		name := strings.TrimSpace(tok.Name)
		if name == "" {
			name = fmt.Sprintf("token-%d", i+1)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("令牌名称 %s 重复", name)
		}
		seen[name] = struct{}{}
		s.tokens = append(s.tokens, tokenEntry{
			digest:  sha256.Sum256([]byte(secret)),
			subject: newSubject(name, tok.Permissions),
		})
	}
	return s, nil
}

// Enabled 表示是否启用了认证。
func (s *Service) Enabled() bool {
	return s != nil && len(s.tokens) > 0
}

// AuthenticateRequest 验证 Authorization 头并返回令牌对应的主体。
func (s *Service) AuthenticateRequest(_ context.Context, authorization string) (*Subject, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return nil, ErrMissingToken
	}
	digest := sha256.Sum256([]byte(token))
	var matched *Subject
	// 逐个比较全部令牌，耗时与匹配位置无关。
	for _, entry := range s.tokens {
		if subtle.ConstantTimeCompare(digest[:], entry.digest[:]) == 1 {
			matched = entry.subject
		}
	}
	if matched == nil {
		return nil, ErrInvalidToken
	}
	return matched, nil
}
