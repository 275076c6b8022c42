package fleet

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"AgentFleet/internal/clock"
	xerrors "AgentFleet/internal/errors"
	"AgentFleet/internal/observability/alerting"
	"AgentFleet/internal/status"
	"AgentFleet/internal/worker"
	"AgentFleet/pkg/logger"
)

const maxBackoff = 10 * time.Minute

// ServiceFactory 为单个账户构造智能体服务（通常绑定该账户的代理）。
type ServiceFactory func(acct Account) (worker.AgentService, error)

// Fleet 为每个账户启动一个 Worker，并在配置错误时按退避策略重启。
type Fleet struct {
	accounts    []Account
	settings    worker.Settings
	deps        worker.Deps
	newService  ServiceFactory
	maxRestarts int
	backoff     time.Duration
	stableAfter time.Duration
	alerts      alerting.Dispatcher
	log         *slog.Logger
}

// Option 定义可选的 Fleet 配置。
type Option func(*Fleet)

// WithRestartPolicy 设置最大重启次数与基础退避时长。
func WithRestartPolicy(maxRestarts int, backoff time.Duration) Option {
	return func(f *Fleet) {
		if maxRestarts >= 0 {
			f.maxRestarts = maxRestarts
		}
		if backoff >= 0 {
			f.backoff = backoff
		}
	}
}

// WithAlertDispatcher 配置重启耗尽时的告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) Option {
	return func(f *Fleet) {
		f.alerts = dispatcher
	}
}

// WithLogger 指定日志输出。
func WithLogger(log *slog.Logger) Option {
	return func(f *Fleet) {
		if log != nil {
			f.log = log
		}
	}
}

// New 创建 Fleet。deps.Agents 会被每个账户的 ServiceFactory 结果覆盖。
func New(accounts []Account, settings worker.Settings, deps worker.Deps, factory ServiceFactory, opts ...Option) *Fleet {
	if deps.Registry == nil {
		deps.Registry = status.NewRegistry()
	}
	f := &Fleet{
		accounts:    accounts,
		settings:    settings,
		deps:        deps,
		newService:  factory,
		maxRestarts: 3,
		backoff:     30 * time.Second,
		stableAfter: maxBackoff,
		log:         logger.Named("fleet"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	if f.deps.Logger == nil {
		f.deps.Logger = logger.Named("worker")
	}
	for _, acct := range accounts {
		f.deps.Registry.GetOrCreate(acct.Identity, acct.Index)
	}
	return f
}

// Registry 返回共享的状态表。
func (f *Fleet) Registry() *status.Registry {
	return f.deps.Registry
}

// Run 并发运行所有账户，直到上下文取消或所有 Worker 停止。
// 单个账户的失败不会影响其他账户。
func (f *Fleet) Run(ctx context.Context) error {
	f.log.Info("启动账户编排", slog.Int("accounts", len(f.accounts)))
	var g errgroup.Group
	for _, acct := range f.accounts {
		g.Go(func() error {
			f.supervise(ctx, acct)
			return nil
		})
	}
	_ = g.Wait()
	f.log.Info("所有账户已退出")
	return ctx.Err()
}

func (f *Fleet) supervise(ctx context.Context, acct Account) {
	log := f.log.With(slog.Int("account", acct.Index))
	restarts := 0
	for {
		started := time.Now()
		err := f.runOnce(ctx, acct)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			return
		}
		// 运行超过 stableAfter 视为已恢复正常，重新计数。
		if restarts > 0 && time.Since(started) > f.stableAfter {
			restarts = 0
		}
		if restarts >= f.maxRestarts {
			log.Error("账户重启次数已耗尽，停止该账户", slog.Any("error", err), slog.Int("restarts", restarts))
			f.markStopped(acct, "重启次数耗尽: "+err.Error())
			f.alert(ctx, acct, err, restarts)
			return
		}
		restarts++
		delay := f.backoffFor(restarts)
		log.Warn("账户初始化失败，准备重启",
			slog.Any("error", err),
			slog.Int("attempt", restarts),
			slog.String("delay", clock.FormatDelay(delay)))
		resumeAt := time.Now().Add(delay)
		f.deps.Registry.Update(acct.Identity, func(s *status.Snapshot) { s.ResumeAt = resumeAt })
		if err := clock.SleepWithContext(ctx, delay); err != nil {
			return
		}
	}
}

func (f *Fleet) runOnce(ctx context.Context, acct Account) error {
	svc, err := f.newService(acct)
	if err != nil {
		if !xerrors.IsSetup(err) {
			err = xerrors.Wrap(xerrors.CodeSetupFailure, err, "构造账户服务失败")
		}
		f.deps.Registry.Update(acct.Identity, func(s *status.Snapshot) {
			s.Stage = worker.StageError
			s.Message = err.Error()
		})
		return err
	}
	deps := f.deps
	deps.Agents = svc
	return worker.New(acct.Index, acct.Identity, f.settings, deps).Run(ctx)
}

// backoffFor 按指数增长，上限为 maxBackoff。
func (f *Fleet) backoffFor(attempt int) time.Duration {
	if f.backoff <= 0 {
		return 0
	}
	delay := f.backoff
	for i := 1; i < attempt && delay < maxBackoff; i++ {
		delay *= 2
	}
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}

func (f *Fleet) markStopped(acct Account, message string) {
	f.deps.Registry.Update(acct.Identity, func(s *status.Snapshot) {
		s.Stage = worker.StageStopped
		s.Message = message
		s.Stopped = true
		s.ResumeAt = time.Time{}
	})
}

func (f *Fleet) alert(ctx context.Context, acct Account, err error, restarts int) {
	if f.alerts == nil {
		return
	}
	event := alerting.FromError(acct.Index, err)
	event.Restarts = restarts
	event.MaxRestarts = f.maxRestarts
	if snap, ok := f.deps.Registry.Snapshot(acct.Identity); ok {
		event.Address = snap.Address
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if notifyErr := f.alerts.Notify(notifyCtx, event); notifyErr != nil {
		f.log.Warn("发送告警失败", slog.Any("error", notifyErr), slog.Int("account", acct.Index))
	}
}
