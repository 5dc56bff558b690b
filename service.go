package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/config"
	"github.com/any-hub/offline-hub/internal/generation"
	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/precache"
	"github.com/any-hub/offline-hub/internal/proxy"
	"github.com/any-hub/offline-hub/internal/server"
	"github.com/any-hub/offline-hub/internal/server/routes"
	"github.com/any-hub/offline-hub/internal/version"
	"github.com/any-hub/offline-hub/internal/worker"
)

// service 持有一次进程运行期间共享的存储、网络客户端与 worker。
type service struct {
	cfg        *config.Config
	logger     *logrus.Logger
	storage    cache.Storage
	network    *http.Client
	resolver   *precache.Resolver
	reconciler *generation.Reconciler
	worker     *worker.Worker
}

func initLogger(cfg *config.Config) (*logrus.Logger, error) {
	return logging.InitLogger(cfg.Global)
}

func checkConfig(cfg *config.Config, logger *logrus.Logger, opts cliOptions) int {
	fields := logging.BaseFields("check_config", opts.configPath)
	fields["families"] = config.FamilySummaries(cfg.Families)
	fields["cache_version"] = cfg.Global.CacheVersion
	fields["storage_backend"] = cfg.Global.StorageBackend
	fields["result"] = "ok"
	logger.WithFields(fields).Info("配置校验通过")
	return 0
}

// newService 按“存储 → 网络客户端 → 能力探测 → 预缓存/清理 → worker”顺序装配组件。
func newService(cfg *config.Config, logger *logrus.Logger) (*service, error) {
	storage, err := cache.NewStorage(cache.Options{
		Backend: cfg.Global.StorageBackend,
		Path:    cfg.Global.StoragePath,
		Valkey: cache.ValkeyOptions{
			Address:   cfg.Global.ValkeyAddress,
			Password:  cfg.Global.ValkeyPassword,
			DB:        cfg.Global.ValkeyDB,
			KeyPrefix: cfg.Global.ValkeyKeyPrefix,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("初始化缓存存储失败: %w", err)
	}

	// net/http 会把请求头原样发往上游，因此 auto 模式下 no-cache 指令可用。
	caps, err := precache.DetectCapabilities(cfg.Global.CacheDirective, true, cfg.Global.ClaimClients)
	if err != nil {
		_ = storage.Close()
		return nil, err
	}
	resolver, err := precache.NewResolver(cfg.Global.BaseURL, caps)
	if err != nil {
		_ = storage.Close()
		return nil, err
	}

	network := server.NewNetworkClient(cfg)
	manager := precache.NewManager(storage, network, resolver, logger).
		WithMaxConcurrency(cfg.Global.MaxConcurrency)
	reconciler := generation.NewReconciler(storage, logger)

	fields := logging.BaseFields("startup", "")
	fields["families"] = config.FamilySummaries(cfg.Families)
	fields["cache_version"] = cfg.Global.CacheVersion
	fields["storage_backend"] = cfg.Global.StorageBackend
	fields["cache_directive"] = caps.CacheDirective
	fields["claim_clients"] = caps.ClaimClients
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("运行时装配完成")

	return &service{
		cfg:        cfg,
		logger:     logger,
		storage:    storage,
		network:    network,
		resolver:   resolver,
		reconciler: reconciler,
		worker:     worker.New(worker.PlanFromConfig(cfg), manager, reconciler, caps, logger),
	}, nil
}

func (s *service) Close() error {
	return s.storage.Close()
}

// install 执行全部批次并等待后台预加载结束后退出。
func (s *service) install(opts cliOptions) int {
	ctx := context.Background()
	if err := s.worker.Install(ctx); err != nil {
		fmt.Fprintf(stdErr, "install 失败: %v\n", err)
		return 1
	}
	if err := s.worker.WaitPreloads(ctx); err != nil {
		fmt.Fprintf(stdErr, "等待预加载失败: %v\n", err)
		return 1
	}
	fields := logging.BaseFields("install", opts.configPath)
	fields["state"] = string(s.worker.State())
	s.logger.WithFields(fields).Info("install 完成")
	return 0
}

// activateOnly 在不重新预取的情况下清理过期 generation。
func (s *service) activateOnly(opts cliOptions) int {
	report, err := s.reconciler.Reconcile(context.Background(), s.worker.Current())
	fields := logging.BaseFields("activate", opts.configPath)
	fields["deleted"] = report.Deleted
	fields["kept"] = report.Kept
	if err != nil {
		s.logger.WithFields(fields).WithError(err).Error("清理 generation 失败")
		fmt.Fprintf(stdErr, "activate 失败: %v\n", err)
		return 1
	}
	s.logger.WithFields(fields).Info("activate 完成")
	return 0
}

// serve 完成 install → activate，然后启动 Fiber 服务直到收到退出信号。
func (s *service) serve(opts cliOptions) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.worker.Install(ctx); err != nil {
		fmt.Fprintf(stdErr, "install 失败: %v\n", err)
		return 1
	}
	if _, err := s.worker.Activate(ctx); err != nil {
		fmt.Fprintf(stdErr, "activate 失败: %v\n", err)
		return 1
	}

	app, err := s.buildApp()
	if err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务初始化失败: %v\n", err)
		return 1
	}

	go func() {
		<-ctx.Done()
		_ = app.ShutdownWithTimeout(10 * time.Second)
	}()

	port := s.cfg.Global.ListenPort
	s.logger.WithFields(logrus.Fields{
		"action":     "listen",
		"port":       port,
		"configPath": opts.configPath,
	}).Info("Fiber 服务启动")

	if err := app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = s.worker.WaitPreloads(waitCtx)
	return 0
}

func (s *service) buildApp() (*fiber.App, error) {
	interceptor, err := proxy.NewInterceptor(s.storage, s.network, s.resolver, s.worker.Current(), s.logger)
	if err != nil {
		return nil, err
	}
	forwarder := proxy.NewForwarder(
		proxy.NewHandler(interceptor, s.logger),
		proxy.NewPassthroughHandler(interceptor, s.logger),
		s.worker.Scope(),
		s.logger,
	)
	app, err := server.NewApp(server.AppOptions{
		Logger:     s.logger,
		Proxy:      forwarder,
		ListenPort: s.cfg.Global.ListenPort,
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterDiagnosticsRoutes(app, s.worker, s.storage)
	return app, nil
}
