package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"AgentFleet/internal/agent"
	"AgentFleet/internal/api"
	"AgentFleet/internal/auth"
	"AgentFleet/internal/config"
	"AgentFleet/internal/dashboard"
	"AgentFleet/internal/events"
	"AgentFleet/internal/fleet"
	"AgentFleet/internal/gateway"
	"AgentFleet/internal/knowledge"
	"AgentFleet/internal/observability/alerting"
	"AgentFleet/internal/quota"
	"AgentFleet/internal/status"
	"AgentFleet/internal/web3/provider"
	"AgentFleet/internal/worker"
	"AgentFleet/pkg/logger"
)

type options struct {
	Config   string `long:"config" short:"c" env:"AGENTFLEET_CONFIG" description:"JSON 配置文件路径，留空使用内置默认值"`
	Accounts string `long:"accounts" env:"AGENTFLEET_ACCOUNTS" description:"账户列表文件，覆盖 runtime.accounts_file"`
	Proxies  string `long:"proxies" env:"AGENTFLEET_PROXIES" description:"代理列表文件，覆盖 runtime.proxies_file"`
	EnvFile  string `long:"env-file" default:".env" description:"启动前加载的 .env 文件"`
}

// main 是 agentfleetd 守护进程的入口。
func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			return
		}
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		log.Fatalf("agentfleetd 运行失败: %v", err)
	}
}

func run(ctx context.Context, opts options) error {
	if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("加载 %s 失败: %w", opts.EnvFile, err)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.Outputs,
		Rotation: logger.RotationConfig{
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		},
	}); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	mainLog := logger.Named("main")

	accounts, err := loadAccounts(cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return fmt.Errorf("创建数据目录失败: %w", err)
	}
	store, err := quota.Open(ctx, cfg.Storage.Quota, cfg.Runtime.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	publisher, err := events.Open(ctx, cfg.Events)
	if err != nil {
		return err
	}
	defer publisher.Close()

	chains, err := provider.NewRegistry(cfg.Web3)
	if err != nil {
		return err
	}
	catalog, err := knowledge.LoadCatalog(cfg.Agents.ContentFile)
	if err != nil {
		return err
	}

	authSvc, err := auth.NewService(cfg.Server.Auth)
	if err != nil {
		return err
	}

	registry := status.NewRegistry()
	f := fleet.New(accounts, worker.SettingsFromConfig(cfg.Agents), worker.Deps{
		Chain:    chains,
		Quota:    store,
		Registry: registry,
		Events:   publisher,
		Logger:   logger.Named("worker"),
	}, serviceFactory(cfg.Agents, catalog),
		fleet.WithRestartPolicy(cfg.Runtime.MaxRestarts, cfg.Runtime.RestartBackoff()),
		fleet.WithAlertDispatcher(alertDispatcher(cfg.Alert)),
		fleet.WithLogger(logger.Named("fleet")),
	)

	mainLog.Info("agentfleetd 启动",
		slog.Int("accounts", len(accounts)),
		slog.String("network", chains.Default().Name),
		slog.Bool("real_mode", cfg.Agents.RealMode),
		slog.Bool("use_onchain", cfg.Agents.UseOnchain),
		slog.Int("daily_limit", cfg.Agents.DailyLimit),
		slog.String("quota_driver", cfg.Storage.Quota.Driver),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return f.Run(gctx) })
	if cfg.Server.Address != "" {
		server := api.NewServer(cfg.Server.Address, registry, api.WithAuth(authSvc))
		g.Go(func() error { return server.Start(gctx) })
		mainLog.Info("状态接口已启动", slog.String("address", cfg.Server.Address))
	}
	if cfg.Dashboard.Enabled {
		interval := time.Duration(cfg.Dashboard.RefreshMillis) * time.Millisecond
		renderer := dashboard.New(registry, os.Stdout, interval)
		g.Go(func() error { return renderer.Run(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	mainLog.Info("agentfleetd 已退出")
	return nil
}

func loadConfig(opts options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.Config != "" {
		cfg, err = config.Load(opts.Config)
		if err != nil {
			return nil, err
		}
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		cfg = config.Default(wd)
	}
	if opts.Accounts != "" {
		cfg.Runtime.AccountsFile = opts.Accounts
	}
	if opts.Proxies != "" {
		cfg.Runtime.ProxiesFile = opts.Proxies
	}
	config.ApplyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadAccounts(cfg *config.Config) ([]fleet.Account, error) {
	identities, err := fleet.LoadList(cfg.Runtime.AccountsFile, false)
	if err != nil {
		return nil, err
	}
	proxies, err := fleet.LoadList(cfg.Runtime.ProxiesFile, true)
	if err != nil {
		return nil, err
	}
	return fleet.Pair(identities, proxies)
}

// serviceFactory 为每个账户创建绑定其代理的网关与智能体服务。
func serviceFactory(cfg config.AgentsConfig, catalog *knowledge.Catalog) fleet.ServiceFactory {
	return func(acct fleet.Account) (worker.AgentService, error) {
		g, err := gateway.New(gateway.Config{
			Proxy:             acct.Proxy,
			Referer:           cfg.Referer,
			Timeout:           cfg.RequestTimeout(),
			RequestsPerMinute: cfg.RequestsPerMinute,
		})
		if err != nil {
			return nil, err
		}
		return agent.NewService(g,
			agent.WithCatalog(catalog),
			agent.WithUsageBaseURL(cfg.UsageBaseURL),
			agent.WithEndpointTemplate(cfg.EndpointTemplate),
			agent.WithRealMode(cfg.RealMode),
		), nil
	}
}

func alertDispatcher(cfg config.AlertConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Named("alert")}}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.WebhookURL, time.Duration(cfg.TimeoutSeconds)*time.Second))
	}
	return alerting.NewFanout(notifiers...)
}
