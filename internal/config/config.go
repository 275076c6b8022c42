package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// 环境变量名称，与历史部署保持一致。
const (
	EnvRealMode   = "REAL_MODE"
	EnvUseOnchain = "USE_ONCHAIN"
	EnvDailyLimit = "DAILY_AGENT_INTERACTION_COUNT"
)

const (
	defaultRealMode   = true
	defaultUseOnchain = true
	defaultDailyLimit = 20
)

// Config 描述了 AgentFleet 在启动阶段需要加载的全部配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Storage   StorageConfig   `json:"storage"`
	Events    EventsConfig    `json:"events"`
	Web3      Web3Config      `json:"web3"`
	Agents    AgentsConfig    `json:"agents"`
	Runtime   RuntimeConfig   `json:"runtime"`
	Log       LogConfig       `json:"log"`
	Dashboard DashboardConfig `json:"dashboard"`
	Alert     AlertConfig     `json:"alert"`
}

// ServerConfig 控制状态 API 的监听地址，为空表示不启动。
type ServerConfig struct {
	Address string     `json:"address"`
	Auth    AuthConfig `json:"auth"`
}

// AuthConfig 配置状态 API 的访问令牌。Tokens 为空时不做认证。
type AuthConfig struct {
	Tokens []APIToken `json:"tokens"`
}

// APIToken 是一个具名的 Bearer 令牌及其权限。
type APIToken struct {
	Name        string   `json:"name"`
	Token       string   `json:"token"`
	Permissions []string `json:"permissions"`
}

// StorageConfig 统一描述持久化后端。
type StorageConfig struct {
	Quota QuotaStoreConfig `json:"quota"`
}

// QuotaStoreConfig 选择交互日志的存储驱动：memory、file、mysql、postgres 或 redis。
type QuotaStoreConfig struct {
	Driver string      `json:"driver"`
	DSN    string      `json:"dsn"`
	Path   string      `json:"path"`
	Redis  RedisConfig `json:"redis"`
}

// RedisConfig 描述 Redis 连接及键前缀。
type RedisConfig struct {
	URL    string `json:"url"`
	Prefix string `json:"prefix"`
	MaxLen int64  `json:"max_len"`
}

// RabbitMQConfig 描述 RabbitMQ 连接及投递队列。
type RabbitMQConfig struct {
	URL   string `json:"url"`
	Queue string `json:"queue"`
}

// EventsConfig 控制状态事件的外发方式：none、memory、redis 或 rabbitmq。
type EventsConfig struct {
	Driver   string         `json:"driver"`
	Buffer   int            `json:"buffer"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// Web3Config 指定默认网络以及链配置文件。
type Web3Config struct {
	Network               string `json:"network"`
	ChainConfig           string `json:"chain_config"`
	ConfirmTimeoutSeconds int    `json:"confirm_timeout_seconds"`
	PollIntervalMillis    int    `json:"poll_interval_millis"`
}

// AgentsConfig 描述与智能体交互相关的节奏和开关。
type AgentsConfig struct {
	RealMode               bool   `json:"real_mode"`
	UseOnchain             bool   `json:"use_onchain"`
	DailyLimit             int    `json:"daily_limit"`
	InterAgentDelaySeconds int    `json:"inter_agent_delay_seconds"`
	CycleDelaySeconds      int    `json:"cycle_delay_seconds"`
	ExhaustedDelaySeconds  int    `json:"exhausted_delay_seconds"`
	ErrorDelaySeconds      int    `json:"error_delay_seconds"`
	RequestsPerMinute      int    `json:"requests_per_minute"`
	RequestTimeoutSeconds  int    `json:"request_timeout_seconds"`
	UsageBaseURL           string `json:"usage_base_url"`
	EndpointTemplate       string `json:"endpoint_template"`
	Referer                string `json:"referer"`
	ContentFile            string `json:"content_file"`
}

// RuntimeConfig 放置运行时文件路径与重启策略。
type RuntimeConfig struct {
	DataDir               string `json:"data_dir"`
	AccountsFile          string `json:"accounts_file"`
	ProxiesFile           string `json:"proxies_file"`
	MaxRestarts           int    `json:"max_restarts"`
	RestartBackoffSeconds int    `json:"restart_backoff_seconds"`
}

// LogConfig 对应 pkg/logger 的初始化参数。
type LogConfig struct {
	Level      string   `json:"level"`
	Format     string   `json:"format"`
	Outputs    []string `json:"outputs"`
	MaxSizeMB  int      `json:"max_size_mb"`
	MaxBackups int      `json:"max_backups"`
	MaxAgeDays int      `json:"max_age_days"`
}

// DashboardConfig 控制终端面板刷新。
type DashboardConfig struct {
	Enabled       bool `json:"enabled"`
	RefreshMillis int  `json:"refresh_millis"`
}

// AlertConfig 配置告警 webhook，为空时只写日志。
type AlertConfig struct {
	WebhookURL     string `json:"webhook_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Default 返回全部字段均为默认值的配置，相对路径基于 baseDir。
func Default(baseDir string) *Config {
	cfg := &Config{
		Storage: StorageConfig{Quota: QuotaStoreConfig{Driver: "file"}},
		Events:  EventsConfig{Driver: "none", Buffer: 256},
		Web3: Web3Config{
			Network:               "kiteai",
			ConfirmTimeoutSeconds: 120,
			PollIntervalMillis:    1000,
		},
		Agents: AgentsConfig{
			RealMode:               defaultRealMode,
			UseOnchain:             defaultUseOnchain,
			DailyLimit:             defaultDailyLimit,
			InterAgentDelaySeconds: 60,
			CycleDelaySeconds:      60,
			ExhaustedDelaySeconds:  24 * 60 * 60,
			ErrorDelaySeconds:      5,
			RequestsPerMinute:      30,
			RequestTimeoutSeconds:  60,
			UsageBaseURL:           "https://quests-usage-dev.prod.zettablock.com",
			EndpointTemplate:       "https://%s.stag-vxzy.zettablock.com/main",
			Referer:                "https://agents.testnet.gokite.ai/",
		},
		Runtime: RuntimeConfig{
			AccountsFile:          "accounts.json",
			ProxiesFile:           "proxy_list.json",
			MaxRestarts:           3,
			RestartBackoffSeconds: 30,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "json",
			Outputs: []string{"logs/app.log"},
		},
		Dashboard: DashboardConfig{Enabled: true, RefreshMillis: 1000},
		Alert:     AlertConfig{TimeoutSeconds: 10},
	}
	cfg.resolvePaths(baseDir)
	return cfg
}

// Load 负责解析指定路径的 JSON 配置文件，未出现的字段保留默认值。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	baseDir := filepath.Dir(path)
	cfg := Default("")
	if err := json.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.resolvePaths(baseDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv 使用环境变量覆盖三项运行开关；无法解析的取值回退到内置默认值。
func ApplyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	if raw, ok := os.LookupEnv(EnvRealMode); ok {
		cfg.Agents.RealMode = parseBool(raw, defaultRealMode)
	}
	if raw, ok := os.LookupEnv(EnvUseOnchain); ok {
		cfg.Agents.UseOnchain = parseBool(raw, defaultUseOnchain)
	}
	if raw, ok := os.LookupEnv(EnvDailyLimit); ok {
		value, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || value < 0 {
			value = defaultDailyLimit
		}
		cfg.Agents.DailyLimit = value
	}
}

// Validate 检查互相依赖的字段。
func (c *Config) Validate() error {
	if c.Agents.DailyLimit < 0 {
		return errors.New("daily_limit 不能为负数")
	}
	if strings.TrimSpace(c.Web3.Network) == "" {
		return errors.New("未指定默认网络")
	}
	if !strings.Contains(c.Agents.EndpointTemplate, "%s") {
		return errors.New("endpoint_template 必须包含 %s 占位符")
	}
	return nil
}

func (c *Config) resolvePaths(baseDir string) {
	if baseDir == "" {
		return
	}
	c.Runtime.DataDir = resolve(baseDir, c.Runtime.DataDir, "data")
	c.Runtime.AccountsFile = resolve(baseDir, c.Runtime.AccountsFile, "")
	c.Runtime.ProxiesFile = resolve(baseDir, c.Runtime.ProxiesFile, "")
	c.Web3.ChainConfig = resolve(baseDir, c.Web3.ChainConfig, "")
	c.Agents.ContentFile = resolve(baseDir, c.Agents.ContentFile, "")
	c.Storage.Quota.Path = resolve(baseDir, c.Storage.Quota.Path, "")
	for i, out := range c.Log.Outputs {
		switch strings.ToLower(out) {
		case "stdout", "stderr":
		default:
			c.Log.Outputs[i] = resolve(baseDir, out, "")
		}
	}
}

func resolve(baseDir, value, fallback string) string {
	if value == "" {
		value = fallback
	}
	if value == "" || filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}

func parseBool(raw string, fallback bool) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return value
}

// CycleDelay 返回正常路径下的冷却时长。
func (a AgentsConfig) CycleDelay() time.Duration { return seconds(a.CycleDelaySeconds) }

// ExhaustedDelay 返回额度用尽后的冷却时长。
func (a AgentsConfig) ExhaustedDelay() time.Duration { return seconds(a.ExhaustedDelaySeconds) }

// InterAgentDelay 返回两个智能体之间的间隔。
func (a AgentsConfig) InterAgentDelay() time.Duration { return seconds(a.InterAgentDelaySeconds) }

// ErrorDelay 返回操作失败后重新开始周期前的等待。
func (a AgentsConfig) ErrorDelay() time.Duration { return seconds(a.ErrorDelaySeconds) }

// RequestTimeout 返回单次 HTTP 请求超时。
func (a AgentsConfig) RequestTimeout() time.Duration { return seconds(a.RequestTimeoutSeconds) }

// ConfirmTimeout 返回等待交易回执的最长时间。
func (w Web3Config) ConfirmTimeout() time.Duration { return seconds(w.ConfirmTimeoutSeconds) }

// PollInterval 返回轮询交易回执的间隔。
func (w Web3Config) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMillis) * time.Millisecond
}

// RestartBackoff 返回初始化失败后首次重启前的等待。
func (r RuntimeConfig) RestartBackoff() time.Duration { return seconds(r.RestartBackoffSeconds) }

func seconds(v int) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v) * time.Second
}
