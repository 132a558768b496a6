package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaos-io/bgstudio/blob"
	"github.com/chaos-io/bgstudio/compose"
	"github.com/chaos-io/bgstudio/config"
	"github.com/chaos-io/bgstudio/handler"
	"github.com/chaos-io/bgstudio/prefs"
	"github.com/chaos-io/bgstudio/rembg"
	"github.com/chaos-io/bgstudio/server"
	"github.com/chaos-io/bgstudio/session"
	"github.com/chaos-io/bgstudio/util"
	nhttp "github.com/chaos-io/bgstudio/util/http"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

func main() {
	// 加载配置
	cfg := config.New()

	// 初始化日志
	if err := util.InitLogger(cfg.Server.Mode); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer util.Sync()

	util.Logger.Info("starting bgstudio server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("git_branch", GitBranch))

	store, closeStore := newPrefsStore(cfg)
	defer closeStore()

	remover := newRemover(cfg)

	defaultColor, err := compose.ParseColor(cfg.Session.DefaultColor)
	if err != nil {
		util.Logger.Warn("invalid default color, using white",
			zap.String("color", cfg.Session.DefaultColor), zap.Error(err))
		defaultColor = compose.White
	}

	blobs := blob.NewStore()
	manager := server.NewManager(func() session.Options {
		return session.Options{
			Remover:        remover,
			Prefs:          store,
			Handles:        blobs,
			DefaultColor:   &defaultColor,
			RemovalTimeout: cfg.Session.RemovalBudget,
			PreviewSize:    cfg.Session.PreviewSize,
		}
	}, blobs, cfg.Session.IdleTimeout)
	if err := manager.StartJanitor(cfg.Session.JanitorSpec); err != nil {
		util.Logger.Fatal("failed to start session janitor", zap.Error(err))
	}

	r := handler.NewRouter(cfg.Server.Mode, handler.NewSessionHandler(cfg, manager, blobs), handler.BuildInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
		GitBranch: GitBranch,
	})

	// SSE 长连接不能受写超时限制，WriteTimeout 为 0 时不设上限
	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		util.Logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	util.Logger.Info("shutting down server")

	// 先关闭会话，结束所有 SSE 连接
	manager.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		util.Logger.Error("server forced to shutdown", zap.Error(err))
	}
}

func newPrefsStore(cfg *config.Config) (prefs.Store, func()) {
	switch cfg.Prefs.Backend {
	case "redis":
		rs := prefs.NewRedis(prefs.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rs.Ping(ctx); err != nil {
			util.Logger.Warn("redis connection failed, preferences fall back to memory", zap.Error(err))
			_ = rs.Close()
			return prefs.NewMemory(), func() {}
		}
		util.Logger.Info("redis connected successfully")
		return rs, func() { _ = rs.Close() }
	case "file":
		util.Logger.Info("using file preferences", zap.String("path", cfg.Prefs.Path))
		return prefs.NewFile(cfg.Prefs.Path), func() {}
	default:
		return prefs.NewMemory(), func() {}
	}
}

func newRemover(cfg *config.Config) rembg.Remover {
	if cfg.Gemini.Provider == "passthrough" {
		util.Logger.Warn("background removal disabled, images are returned unchanged")
		return rembg.NewPassthrough()
	}
	if cfg.Gemini.APIKey == "" {
		util.Logger.Warn("GEMINI_API_KEY is not set, removal requests will be rejected upstream")
	}
	return rembg.NewGeminiRemover(rembg.GeminiConfig{
		BaseURL: cfg.Gemini.BaseURL,
		Model:   cfg.Gemini.Model,
		APIKey:  cfg.Gemini.APIKey,
		Timeout: cfg.Gemini.Timeout,
	}, nhttp.NewHTTPClientWithTimeout(cfg.Gemini.Timeout))
}
