package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/wfunc/word-duel/internal/api"
	"github.com/wfunc/word-duel/internal/config"
	"github.com/wfunc/word-duel/internal/database"
	"github.com/wfunc/word-duel/internal/errors"
	"github.com/wfunc/word-duel/internal/game"
	"github.com/wfunc/word-duel/internal/logger"
	"github.com/wfunc/word-duel/internal/middleware"
	"github.com/wfunc/word-duel/internal/telemetry"
	"github.com/wfunc/word-duel/internal/utils"
	"github.com/wfunc/word-duel/internal/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Server 服务器实例
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	db       *gorm.DB
	store    game.SnapshotStore
	registry *game.Registry
	hub      *websocket.Hub
	http     *http.Server

	shutdownTracing telemetry.ShutdownFunc

	// 关闭控制
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	// 命令行参数
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		envFile     = flag.String("env", ".env", ".env 文件路径")
		showVersion = flag.Bool("version", false, "显示版本信息")
		showHelp    = flag.Bool("help", false, "显示帮助信息")
	)

	flag.Parse()

	// 显示版本信息
	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	// 显示帮助信息
	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	// .env 必须先于配置加载，环境变量覆盖配置文件
	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Printf("加载 .env 失败: %v\n", err)
		os.Exit(1)
	}

	// 加载配置
	if err := config.Init(*configPath); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Get()

	// 初始化日志系统
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	// 设置系统参数
	setupSystem(&cfg.System)

	// 打印启动信息
	printStartInfo(cfg)

	// 创建服务器实例
	server := NewServer(cfg)

	// 启动服务器
	if err := server.Start(); err != nil {
		logger.Fatal("服务器启动失败", zap.Error(err))
	}

	// 等待退出信号或服务异常退出
	server.WaitForShutdown()

	// 优雅关闭
	if err := server.Shutdown(); err != nil {
		logger.Error("服务器关闭失败", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("服务器已安全关闭")
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	return &Server{
		cfg:             cfg,
		logger:          logger.GetLogger(),
		shutdownTracing: func(context.Context) error { return nil },
		group:           group,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info("正在启动词语对决服务器...",
		zap.String("version", Version),
		zap.String("mode", s.cfg.Server.Mode),
	)

	// 初始化各个组件
	if err := s.initComponents(); err != nil {
		return errors.Wrap(err, errors.ErrUnknown, "初始化组件失败")
	}

	// 启动各个服务
	s.startServices()

	// 监听配置变化
	config.Watch(func(newCfg *config.Config) {
		s.logger.Info("配置已更新，正在重新加载...")
		s.reloadConfig(newCfg)
	})

	s.logger.Info("服务器启动成功",
		zap.String("http", s.http.Addr),
		zap.String("websocket", s.cfg.WebSocket.Path),
		zap.String("store", s.cfg.Store.Backend),
		zap.Bool("oracle", s.cfg.Oracle.Enabled),
	)

	return nil
}

// initComponents 初始化组件
func (s *Server) initComponents() error {
	s.logger.Info("初始化组件...")

	shutdown, err := telemetry.Setup(s.ctx, s.cfg.Telemetry, Version)
	if err != nil {
		// 链路追踪不可用不影响对局
		s.logger.Warn("初始化链路追踪失败", zap.Error(err))
	} else {
		s.shutdownTracing = shutdown
	}

	if err := s.initStore(); err != nil {
		return err
	}
	s.initRegistry()

	if err := s.initHTTPServer(); err != nil {
		return err
	}

	s.logger.Info("所有组件初始化完成")
	return nil
}

// initStore 按配置选择快照存储
func (s *Server) initStore() error {
	memory := game.NewMemorySnapshotStore(nil)

	switch s.cfg.Store.Backend {
	case "memory":
		s.store = memory
		return nil
	case "database", "cache":
		if err := s.initDatabase(); err != nil {
			return err
		}
		durable := game.NewDatabaseSnapshotStore(s.db, nil)
		if s.cfg.Store.Backend == "database" {
			s.store = durable
		} else {
			s.store = game.NewCacheSnapshotStore(memory, durable, s.cfg.Registry.IdleGrace)
		}
		return nil
	default:
		return errors.Newf(errors.ErrConfigValidate, "未知的快照存储 %s", s.cfg.Store.Backend)
	}
}

// initDatabase 初始化数据库
func (s *Server) initDatabase() error {
	s.logger.Info("初始化数据库...")

	// 初始化数据库连接，按配置自动迁移
	if err := database.Init(&s.cfg.Database); err != nil {
		return errors.Wrap(err, errors.ErrDatabaseConnect, "初始化数据库连接失败")
	}

	// 检查数据库连接
	if !database.IsConnected() {
		return errors.New(errors.ErrDatabaseConnect, "数据库连接检查失败")
	}

	s.db = database.GetDB()
	s.logger.Info("数据库初始化完成")
	return nil
}

// initRegistry 组装会话注册表：词库、评分器、广播器
func (s *Server) initRegistry() {
	g := s.cfg.Game

	var oracle game.SimilarityOracle
	if s.cfg.Oracle.Enabled {
		oracle = game.NewHTTPOracle(s.cfg.Oracle.URL, s.cfg.Oracle.APIKey, nil)
	}
	scorer := game.NewScorer(oracle, s.cfg.Oracle.Timeout, s.cfg.Oracle.Retries, logger.GetModuleLogger("oracle"))
	words := game.NewStaticWordSource(g.Words, uint64(time.Now().UnixNano()))

	s.hub = websocket.NewHub(logger.GetModuleLogger("websocket"))
	s.registry = game.NewRegistry(game.RegistryConfig{
		Defaults: game.SessionConfig{
			Language:            g.DefaultLanguage,
			TurnTimeLimit:       g.TurnTimeLimit,
			LivesPerPlayer:      g.LivesPerPlayer,
			RoundsToWin:         g.RoundsToWin,
			TeamCount:           g.TeamCount,
			MaxTeamSize:         g.MaxTeamSize,
			SimilarityThreshold: g.SimilarityThreshold,
		},
		SnapshotTTL:  s.cfg.Store.SnapshotTTL,
		WriteTimeout: s.cfg.Store.WriteTimeout,
		IdleGrace:    s.cfg.Registry.IdleGrace,
		MaxSessions:  s.cfg.Registry.MaxSessions,
	}, s.store, words, scorer, s.hub,
		game.WithRegistryLogger(logger.GetModuleLogger("game")))

	websocket.NewHandler(s.hub, s.registry, logger.GetModuleLogger("websocket"))
}

// initHTTPServer 初始化HTTP服务
func (s *Server) initHTTPServer() error {
	jwtCfg := s.cfg.Security.JWT
	if jwtCfg.Secret == "" && !jwtCfg.AllowQueryUser {
		return errors.New(errors.ErrConfigValidate, "security.jwt.secret 不能为空")
	}
	if jwtCfg.AllowQueryUser && s.cfg.Server.Mode == "production" {
		s.logger.Warn("生产模式下允许 user_id 参数指定身份")
	}

	auth := middleware.NewAuthMiddleware(
		utils.NewJWTManager(jwtCfg.Secret, jwtCfg.Issuer, 0),
		jwtCfg.AllowQueryUser,
	)
	router := api.NewRouter(s.db, s.registry, s.hub, s.cfg.WebSocket, auth, logger.GetModuleLogger("http"))

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      router.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}
	return nil
}

// startServices 启动服务
func (s *Server) startServices() {
	s.logger.Info("启动服务...")

	s.group.Go(func() error {
		s.hub.Run(s.ctx)
		return nil
	})

	s.group.Go(func() error {
		s.logger.Info("HTTP服务监听", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, errors.ErrUnknown, "HTTP服务异常退出")
		}
		return nil
	})

	s.registry.StartCleanupTask(s.ctx, s.cfg.Registry.CleanupInterval)
	game.StartPurgeTask(s.ctx, s.store, s.cfg.Store.PurgeInterval, logger.GetModuleLogger("game"))

	s.logger.Info("所有服务启动完成")
}

// WaitForShutdown 等待关闭信号
func (s *Server) WaitForShutdown() {
	// 创建信号通道
	sigCh := make(chan os.Signal, 1)

	// 监听系统信号
	signal.Notify(sigCh,
		syscall.SIGINT,  // Ctrl+C
		syscall.SIGTERM, // kill命令
		syscall.SIGQUIT, // Ctrl+\
	)

	// 等待信号
	select {
	case sig := <-sigCh:
		s.logger.Info("收到退出信号", zap.String("signal", sig.String()))
	case <-s.ctx.Done():
		s.logger.Warn("服务异常退出，开始关闭")
	}
}

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown() error {
	s.logger.Info("正在优雅关闭服务器...")

	// 创建超时上下文
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	// 停止接收新请求
	s.logger.Info("停止接收新请求...")
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP服务关闭失败", zap.Error(err))
	}

	// 停止计时器并写入最终快照
	s.registry.Shutdown(shutdownCtx)

	// 取消主上下文，触发所有goroutine退出
	s.cancel()

	// 等待所有服务关闭
	done := make(chan error, 1)
	go func() {
		done <- s.group.Wait()
	}()

	// 等待关闭完成或超时
	select {
	case err := <-done:
		if err != nil {
			s.logger.Error("服务运行期间出错", zap.Error(err))
		}
		s.logger.Info("所有服务已正常关闭")
	case <-shutdownCtx.Done():
		s.logger.Warn("关闭超时，强制退出")
		return errors.New(errors.ErrTimeout, "关闭超时")
	}

	// 关闭各个组件
	s.closeComponents(shutdownCtx)

	// 同步日志
	if err := logger.Sync(); err != nil {
		fmt.Printf("同步日志失败: %v\n", err)
	}

	return nil
}

// closeComponents 关闭组件
func (s *Server) closeComponents(ctx context.Context) {
	s.logger.Info("关闭组件...")

	if err := s.shutdownTracing(ctx); err != nil {
		s.logger.Error("关闭链路追踪失败", zap.Error(err))
	}

	// 关闭数据库连接
	if s.db != nil {
		if err := database.Close(); err != nil {
			s.logger.Error("关闭数据库失败", zap.Error(err))
		}
	}

	s.logger.Info("所有组件已关闭")
}

// reloadConfig 重新加载配置，只应用无需重建组件的项
func (s *Server) reloadConfig(newCfg *config.Config) {
	s.cfg = newCfg

	logger.SetLevel(newCfg.Log.Level)
	logger.SetModuleLevels(newCfg.Log.Modules)

	s.logger.Info("配置重新加载完成", zap.String("log_level", newCfg.Log.Level))
}

// setupSystem 设置系统参数
func setupSystem(cfg *config.SystemConfig) {
	// 设置时区
	if cfg.Timezone != "" {
		if loc, err := time.LoadLocation(cfg.Timezone); err == nil {
			time.Local = loc
		}
	}

	// 设置最大处理器数
	if cfg.MaxProcs > 0 {
		runtime.GOMAXPROCS(cfg.MaxProcs)
	}
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("词语对决服务器\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// printHelp 打印帮助信息
func printHelp() {
	fmt.Println("词语对决服务器")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  word-duel-server [选项]")
	fmt.Println()
	fmt.Println("选项:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("环境变量 (前缀 WORD_DUEL_，点号替换为下划线):")
	fmt.Println("  WORD_DUEL_SERVER_PORT          HTTP端口")
	fmt.Println("  WORD_DUEL_STORE_BACKEND        快照存储 (memory/database/cache)")
	fmt.Println("  WORD_DUEL_ORACLE_URL           相似度服务地址")
	fmt.Println("  WORD_DUEL_SECURITY_JWT_SECRET  令牌密钥")
	fmt.Println()
	fmt.Println("示例:")
	fmt.Println("  word-duel-server -config=/path/to/config.yaml")
	fmt.Println("  word-duel-server -version")
}

// printStartInfo 打印启动信息
func printStartInfo(cfg *config.Config) {
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println("                      词语对决 · 后端服务器")
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Printf("版本: %s | 模式: %s | PID: %d\n", Version, cfg.Server.Mode, os.Getpid())
	fmt.Printf("语言: %s | 存储: %s\n", cfg.Game.DefaultLanguage, cfg.Store.Backend)
	fmt.Println("═══════════════════════════════════════════════════════════════")
}
