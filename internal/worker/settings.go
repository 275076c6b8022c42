package worker

import (
	"time"

	"AgentFleet/internal/agent"
	"AgentFleet/internal/config"
)

// Settings 是所有 Worker 共享的只读节奏配置。
type Settings struct {
	UseOnchain      bool
	DailyLimit      int
	Agents          []agent.Agent
	InterAgentDelay time.Duration
	CycleDelay      time.Duration
	ExhaustedDelay  time.Duration
	ErrorDelay      time.Duration
}

// SettingsFromConfig 从配置构造 Settings，智能体固定为内置的三个。
func SettingsFromConfig(cfg config.AgentsConfig) Settings {
	return Settings{
		UseOnchain:      cfg.UseOnchain,
		DailyLimit:      cfg.DailyLimit,
		Agents:          agent.DefaultAgents(),
		InterAgentDelay: cfg.InterAgentDelay(),
		CycleDelay:      cfg.CycleDelay(),
		ExhaustedDelay:  cfg.ExhaustedDelay(),
		ErrorDelay:      cfg.ErrorDelay(),
	}
}
