package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"AgentFleet/internal/agent"
	"AgentFleet/internal/clock"
	xerrors "AgentFleet/internal/errors"
	"AgentFleet/internal/events"
	"AgentFleet/internal/observability/metrics"
	"AgentFleet/internal/quota"
	"AgentFleet/internal/status"
	"AgentFleet/internal/web3"
	"AgentFleet/pkg/logger"
)

// 账户所处的阶段，用于状态表与事件。
const (
	StageInit     = "init"
	StageBalance  = "balance"
	StageStats    = "stats"
	StageTransfer = "transfer"
	StageQuota    = "quota"
	StageInteract = "interact"
	StageReport   = "report"
	StageCooldown = "cooldown"
	StageError    = "error"
	StageStopped  = "stopped"
)

// ChainConnector 为账户身份建立链上客户端。
type ChainConnector interface {
	Connect(ctx context.Context, identity string) (web3.Client, error)
}

// AgentService 是 Worker 所需的智能体与统计能力。
type AgentService interface {
	Stats(ctx context.Context, address string) (json.RawMessage, error)
	Chat(ctx context.Context, a agent.Agent) (*agent.Exchange, error)
	ReportUsage(ctx context.Context, address string, ex agent.Exchange) error
}

// Deps 汇总 Worker 依赖的共享服务。
type Deps struct {
	Chain    ChainConnector
	Agents   AgentService
	Quota    quota.Store
	Registry *status.Registry
	Events   events.Publisher
	Logger   *slog.Logger
}

// Worker 驱动单个账户的无限循环。它只写入自己的状态条目。
type Worker struct {
	index    int
	identity string
	settings Settings
	deps     Deps
	baseLog  *slog.Logger
	log      *slog.Logger

	client  web3.Client
	address string
	cycle   string
}

// New 创建 Worker。index 从 1 开始，仅用于展示。
func New(index int, identity string, settings Settings, deps Deps) *Worker {
	if deps.Registry == nil {
		deps.Registry = status.NewRegistry()
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	log := deps.Logger
	if log == nil {
		log = logger.Named("worker")
	}
	if len(settings.Agents) == 0 {
		settings.Agents = agent.DefaultAgents()
	}
	w := &Worker{
		index:    index,
		identity: identity,
		settings: settings,
		deps:     deps,
		baseLog:  log.With(slog.Int("account", index)),
	}
	w.log = w.baseLog
	deps.Registry.GetOrCreate(identity, index)
	deps.Registry.Update(identity, func(s *status.Snapshot) {
		s.Index = index
		s.QuotaLimit = settings.DailyLimit
	})
	return w
}

// Index 返回账户序号。
func (w *Worker) Index() int {
	return w.index
}

// Run 持续执行周期直到上下文取消。配置类错误直接返回，由编排器决定是否重启；
// 其他错误记录后等待错误间隔再开始下一轮。
func (w *Worker) Run(ctx context.Context) error {
	metrics.WorkerStarted()
	defer metrics.WorkerStopped()
	defer w.closeClient()

	for {
		delay, err := w.RunCycle(ctx)
		if ctx.Err() != nil {
			w.stop("已停止")
			return ctx.Err()
		}
		if err != nil {
			if xerrors.IsSetup(err) {
				metrics.CycleFinished("setup_failure")
				w.emit(StageError, events.LevelError, "账户初始化失败", slog.Any("error", err))
				return err
			}
			metrics.CycleFinished("error")
			w.emit(StageError, events.LevelError, "本轮执行失败，稍后从初始化重新开始",
				slog.Any("error", err),
				slog.String("code", string(xerrors.CodeOf(err))),
				slog.Bool("retryable", xerrors.RetryableError(err)))
			w.closeClient()
			delay = w.settings.ErrorDelay
		}
		if err := w.cooldown(ctx, delay); err != nil {
			w.stop("已停止")
			return err
		}
	}
}

// RunCycle 执行一轮完整流程并返回下一轮之前的等待时长。
func (w *Worker) RunCycle(ctx context.Context) (time.Duration, error) {
	w.cycle = uuid.NewString()
	client, err := w.ensureClient(ctx)
	if err != nil {
		return 0, err
	}

	w.emit(StageBalance, events.LevelInfo, "查询余额")
	balance, err := client.Balance(ctx)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeOperationFailure, err, "查询余额失败")
	}
	w.deps.Registry.Update(w.identity, func(s *status.Snapshot) { s.Balance = balance })

	w.refreshStats(ctx)

	if w.settings.UseOnchain {
		if err := w.transfer(ctx, client, balance); err != nil {
			return 0, err
		}
	}

	w.emit(StageQuota, events.LevelInfo, "检查每日配额")
	count, err := w.deps.Quota.CountToday(ctx, w.address, quota.KindInteract)
	if err != nil {
		return 0, err
	}
	w.deps.Registry.Update(w.identity, func(s *status.Snapshot) { s.InteractionsToday = count })
	if count > w.settings.DailyLimit {
		w.emit(StageQuota, events.LevelWarning, "今日配额已用完",
			slog.Int("count", count), slog.Int("limit", w.settings.DailyLimit))
		metrics.CycleFinished("quota_exhausted")
		return w.settings.ExhaustedDelay, nil
	}

	for i, a := range w.settings.Agents {
		if i > 0 {
			if err := clock.SleepWithContext(ctx, w.settings.InterAgentDelay); err != nil {
				return 0, err
			}
		}
		if err := w.interact(ctx, a); err != nil {
			return 0, err
		}
	}

	metrics.CycleFinished("completed")
	return w.settings.CycleDelay, nil
}

func (w *Worker) ensureClient(ctx context.Context) (web3.Client, error) {
	if w.client != nil {
		return w.client, nil
	}
	w.emit(StageInit, events.LevelInfo, "初始化链上客户端")
	client, err := w.deps.Chain.Connect(ctx, w.identity)
	if err != nil {
		if !xerrors.IsSetup(err) && ctx.Err() == nil {
			err = xerrors.Wrap(xerrors.CodeSetupFailure, err, "初始化链上客户端失败")
		}
		return nil, err
	}
	w.client = client
	w.address = client.Address().Hex()
	w.log = w.baseLog.With(slog.String("address", w.address))
	w.deps.Registry.Update(w.identity, func(s *status.Snapshot) { s.Address = w.address })
	return client, nil
}

func (w *Worker) closeClient() {
	if w.client != nil {
		w.client.Close()
		w.client = nil
	}
}

// refreshStats 仅用于展示，失败只记录日志。
func (w *Worker) refreshStats(ctx context.Context) {
	stats, err := w.deps.Agents.Stats(ctx, w.address)
	if err != nil {
		w.emit(StageStats, events.LevelWarning, "获取统计数据失败", slog.Any("error", err))
		return
	}
	w.deps.Registry.Update(w.identity, func(s *status.Snapshot) {
		s.Stats = append(json.RawMessage(nil), stats...)
	})
	w.emit(StageStats, events.LevelInfo, "统计数据已更新")
}

func (w *Worker) transfer(ctx context.Context, client web3.Client, balance web3.Balance) error {
	if !balance.IsPositive() {
		w.emit(StageTransfer, events.LevelWarning, "余额不足，跳过自转账", slog.String("balance", balance.String()))
		return nil
	}
	w.emit(StageTransfer, events.LevelInfo, "提交自转账")
	result, err := client.SelfTransfer(ctx)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeOperationFailure, err, "自转账失败")
	}
	if _, err := w.deps.Quota.Record(ctx, w.address, quota.KindTransfer); err != nil {
		return err
	}

	level := events.LevelSuccess
	switch result.Status {
	case web3.StatusReverted:
		level = events.LevelWarning
	case web3.StatusPending:
		level = events.LevelInfo
	}
	w.emit(StageTransfer, level, "自转账已提交",
		slog.String("tx", result.Hash.Hex()),
		slog.String("status", string(result.Status)),
		slog.String("explorer", result.ExplorerURL))
	return nil
}

// interact 完成一次问答并上报。问答成功即记录一条 interact 日志，与上报结果无关；
// 仅存储失败会中止本轮。
func (w *Worker) interact(ctx context.Context, a agent.Agent) error {
	w.emit(StageInteract, events.LevelInfo, fmt.Sprintf("与 %s 对话", a.Name))
	ex, err := w.deps.Agents.Chat(ctx, a)
	metrics.InteractionFinished(a.Name, err)
	if err != nil {
		w.emit(StageInteract, events.LevelWarning, fmt.Sprintf("%s 对话失败", a.Name), slog.Any("error", err))
		return nil
	}

	if _, err := w.deps.Quota.Record(ctx, w.address, quota.KindInteract); err != nil {
		return err
	}
	w.deps.Registry.Update(w.identity, func(s *status.Snapshot) { s.InteractionsToday++ })
	w.emit(StageInteract, events.LevelSuccess, fmt.Sprintf("%s 已回复", a.Name),
		slog.String("question", ex.Request), slog.Bool("live", ex.Live))

	if err := w.deps.Agents.ReportUsage(ctx, w.address, *ex); err != nil {
		w.emit(StageReport, events.LevelWarning, "上报使用记录失败", slog.Any("error", err))
		return nil
	}
	w.emit(StageReport, events.LevelSuccess, "使用记录已上报", slog.String("agent", a.Name))
	w.refreshStats(ctx)
	return nil
}

func (w *Worker) cooldown(ctx context.Context, delay time.Duration) error {
	resumeAt := time.Now().Add(delay)
	w.deps.Registry.Update(w.identity, func(s *status.Snapshot) { s.ResumeAt = resumeAt })
	w.emit(StageCooldown, events.LevelInfo, "等待下一轮", slog.String("delay", clock.FormatDelay(delay)))
	return clock.SleepWithContext(ctx, delay)
}

func (w *Worker) stop(message string) {
	w.deps.Registry.Update(w.identity, func(s *status.Snapshot) {
		s.Stage = StageStopped
		s.Message = message
		s.Stopped = true
		s.ResumeAt = time.Time{}
	})
}

// emit 把一条状态同时写入日志、状态表与事件发布器。
func (w *Worker) emit(stage string, level events.Level, message string, attrs ...any) {
	w.log.Log(context.Background(), slogLevel(level), message,
		append([]any{slog.String("stage", stage), slog.String("cycle", w.cycle)}, attrs...)...)
	w.deps.Registry.Update(w.identity, func(s *status.Snapshot) {
		s.Stage = stage
		s.Message = message
		s.Stopped = false
	})

	event := events.New(w.index, w.address, stage, level, message)
	event.Fields = attrFields(attrs)
	if w.cycle != "" {
		if event.Fields == nil {
			event.Fields = make(map[string]string, 1)
		}
		event.Fields["cycle"] = w.cycle
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.deps.Events.Publish(ctx, event); err != nil {
		w.log.Debug("发布状态事件失败", slog.Any("error", err))
	}
}

func slogLevel(level events.Level) slog.Level {
	switch level {
	case events.LevelWarning:
		return slog.LevelWarn
	case events.LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func attrFields(attrs []any) map[string]string {
	if len(attrs) == 0 {
		return nil
	}
	fields := make(map[string]string, len(attrs))
	for _, raw := range attrs {
		if attr, ok := raw.(slog.Attr); ok {
			fields[attr.Key] = attr.Value.String()
		}
	}
	return fields
}
