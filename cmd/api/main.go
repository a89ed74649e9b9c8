package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nemonet1337/branchledger/internal/auth"
	"github.com/nemonet1337/branchledger/internal/config"
	"github.com/nemonet1337/branchledger/pkg/inventory"
	"github.com/nemonet1337/branchledger/pkg/inventory/cache"
	"github.com/nemonet1337/branchledger/pkg/inventory/events"
	"github.com/nemonet1337/branchledger/pkg/inventory/storage"
)

func main() {
	configPath := flag.String("config", "", "YAMLの設定ファイル（省略時は環境変数のみ）")
	flag.Parse()

	// .envは存在する場合のみ読み込む
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf(".envの読み込みに失敗しました: %v", err)
	}

	// 設定読み込み
	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatal("設定読み込みに失敗しました:", err)
	}

	// ログ設定
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatal("ログ初期化に失敗しました:", err)
	}
	defer logger.Sync()

	// ストレージ初期化
	store, err := newStorage(cfg, logger)
	if err != nil {
		logger.Fatal("データベース接続に失敗しました", zap.Error(err))
	}
	defer store.Close()

	// メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := inventory.NewMetrics(registry)
	if err != nil {
		logger.Fatal("メトリクス登録に失敗しました", zap.Error(err))
	}

	opts := []inventory.Option{inventory.WithMetrics(metrics)}

	// 射影キャッシュ
	if cfg.Redis.Enabled {
		projectionCache := cache.NewRedisProjectionCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Key, cfg.Redis.TTL)
		defer projectionCache.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := projectionCache.Ping(pingCtx); err != nil {
			logger.Warn("Redisに接続できません。キャッシュなしで起動します", zap.Error(err))
		} else {
			opts = append(opts, inventory.WithProjectionCache(projectionCache))
			logger.Info("射影キャッシュを有効化しました", zap.String("addr", cfg.Redis.Addr))
		}
		cancel()
	}

	// イベント発行
	var publisher inventory.EventPublisher
	if cfg.Kafka.Enabled {
		kafkaPublisher, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topics)
		if err != nil {
			logger.Fatal("Kafkaパブリッシャー初期化に失敗しました", zap.Error(err))
		}
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
		logger.Info("イベント発行を有効化しました", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	// 在庫マネージャー初期化
	inventoryConfig := &inventory.Config{
		TrackingIDPrefix: cfg.Inventory.TrackingIDPrefix,
		MainLocation:     cfg.Inventory.MainLocation,
	}
	manager := inventory.NewManager(store, publisher, logger, inventoryConfig, opts...)

	// HTTPハンドラー設定
	handlers := NewHandlers(manager, store, metrics, logger)
	router := setupRouter(handlers, routerOptions{
		jwtSecret:      cfg.Auth.JWTSecret,
		enableCORS:     cfg.API.EnableCORS,
		metricsHandler: metricsHandler(cfg.API.EnableMetrics, registry),
	})

	// HTTPサーバー設定
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.API.Port),
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
	}

	// グレースフルシャットダウン設定
	go func() {
		logger.Info("在庫移動APIサーバーを開始します",
			zap.Int("port", cfg.API.Port),
			zap.String("storage", cfg.Database.Driver),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("サーバー開始に失敗しました", zap.Error(err))
		}
	}()

	// シャットダウンシグナル待機
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("サーバーをシャットダウンしています...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("サーバーシャットダウンに失敗しました", zap.Error(err))
	}

	logger.Info("サーバーが正常に停止しました")
}

// newLogger builds a zap logger from the logging configuration
// 設定からロガーを構築
func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

// newStorage selects the storage driver
// ストレージドライバーを選択
func newStorage(cfg *config.Config, logger *zap.Logger) (inventory.Storage, error) {
	if cfg.Database.Driver == config.DriverMemory {
		logger.Warn("インメモリストレージを使用します（再起動でデータは失われます）")
		return storage.NewMemoryStorage(logger), nil
	}
	return storage.NewPostgreSQLStorage(cfg.DSN(), logger)
}

func metricsHandler(enabled bool, registry *prometheus.Registry) http.Handler {
	if !enabled {
		return nil
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// routerOptions configures setupRouter
type routerOptions struct {
	jwtSecret      string
	enableCORS     bool
	metricsHandler http.Handler
}

// setupRouter sets up HTTP routes
// HTTPルートを設定
func setupRouter(handlers *Handlers, opts routerOptions) http.Handler {
	router := mux.NewRouter()

	// ヘルスチェック
	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	if opts.metricsHandler != nil {
		router.Handle("/metrics", opts.metricsHandler).Methods("GET")
	}

	// APIルート（認証必須）
	api := router.PathPrefix("/api").Subrouter()
	api.Use(authMiddleware(opts.jwtSecret))

	// 在庫移動
	tx := api.PathPrefix("/transactions").Subrouter()
	tx.HandleFunc("", handlers.StockMove).Methods("POST")
	tx.HandleFunc("/transfer", handlers.Transfer).Methods("POST")
	tx.HandleFunc("/branches", handlers.ListBranches).Methods("GET")
	tx.HandleFunc("/branch/{branchName}", handlers.ListBranchStock).Methods("GET")
	tx.HandleFunc("/transferred-items", handlers.ListTransferredItems).Methods("GET")

	// 交換確認
	tx.HandleFunc("/pending-replacements", handlers.ListPendingReplacements).Methods("GET")
	tx.HandleFunc("/pending-replacements/{id}/confirm", handlers.ConfirmReplacement).Methods("PUT")
	tx.HandleFunc("/confirmed-replacements", handlers.ListConfirmedReplacements).Methods("GET")

	// 監査ログ（superadminのみ）
	audit := tx.PathPrefix("/audit-logs").Subrouter()
	audit.Use(requireRole(auth.RoleSuperAdmin))
	audit.HandleFunc("", handlers.ListAuditLogs).Methods("GET")
	audit.HandleFunc("/{id}", handlers.DeleteAuditLog).Methods("DELETE")

	// 商品履歴（固定パスの後に登録する）
	tx.HandleFunc("/{itemId}", handlers.GetItemHistory).Methods("GET")

	// 商品管理
	api.HandleFunc("/inventory", handlers.ListItems).Methods("GET")
	api.HandleFunc("/inventory", handlers.CreateItem).Methods("POST")
	api.HandleFunc("/inventory/{id}", handlers.GetItem).Methods("GET")
	api.HandleFunc("/inventory/{id}", handlers.UpdateItem).Methods("PUT")
	api.HandleFunc("/inventory/{id}", handlers.DeleteItem).Methods("DELETE")

	router.Use(loggingMiddleware(handlers.logger, handlers.metrics))

	// CORSはプリフライトがルートに一致しないため外側で処理する
	if opts.enableCORS {
		return corsMiddleware(router)
	}
	return router
}
