package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/registre/internal/auth"
	"github.com/hitoshi/registre/internal/config"
	"github.com/hitoshi/registre/internal/database"
	"github.com/hitoshi/registre/internal/handler"
	"github.com/hitoshi/registre/internal/logger"
	"github.com/hitoshi/registre/internal/metrics"
	"github.com/hitoshi/registre/internal/middleware"
	"github.com/hitoshi/registre/internal/personne"
	"github.com/hitoshi/registre/internal/repository"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、設定に従って構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定値でログを再構成
	logger.Configure(w, cfg.LogLevel, cfg.LogFormat)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if !cmd.needsConfig() {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "3000"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandStatus:
		return runStatus(cfg)
	default:
		return runServe(cfg)
	}
}

// application はserveモードで組み立てた依存関係を保持する。
type application struct {
	handler     http.Handler
	db          *sqlx.DB
	sessionRepo repository.SessionRepository
	rateLimiter *middleware.RateLimiter
}

// Close は保持しているリソースを解放する。
func (a *application) Close() error {
	a.rateLimiter.Stop()
	return errors.Join(a.sessionRepo.Close(), a.db.Close())
}

// newApplication はDB接続、セッションストア、認証、ルーターをワイヤリングする。
func newApplication(cfg *config.Config) (*application, error) {
	// 1. マイグレーション
	if cfg.AutoMigrate {
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	// 2. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	// 3. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 4. セッションストア
	sessionRepo, err := newSessionRepo(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	if counter, ok := sessionRepo.(metrics.SessionCounter); ok {
		collector.WatchSessions(counter)
	}

	// 5. 認証サービス
	kc := cfg.Keycloak
	if !cfg.CookieSecure && kc.RequiresTLS(cfg.BaseURL) {
		slog.Warn("keycloak realm requires SSL but BASE_URL is not https",
			slog.String("base_url", cfg.BaseURL),
			slog.String("ssl_required", kc.SSLRequired),
			slog.String("expected_base_url", kc.ConfidentialURL(cfg.BaseURL)),
		)
	}
	provider := auth.NewKeycloakProvider(auth.KeycloakConfig{
		AuthServerURL: kc.AuthServerURL,
		Realm:         kc.Realm,
		ClientID:      kc.Resource,
		ClientSecret:  kc.Credentials.Secret,
		RedirectURL:   cfg.CallbackURL(),
	})
	verifier := auth.NewJWKSVerifier(provider.JWKSURL(), provider.RealmURL(), nil)
	authService := auth.NewService(
		provider, verifier, sessionRepo, auth.NewCookieSigner(cfg.SessionSecret),
		auth.ServiceConfig{
			SessionMaxAge:         cfg.SessionMaxAge,
			PostLogoutRedirectURL: cfg.BaseURL,
		},
	)

	// 6. ドメインサービス
	personneRepo := repository.NewSQLPersonneRepo(db)
	personneService := personne.NewService(personneRepo, collector)

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral))
	cookieCfg := middleware.CSRFConfig{
		CookieDomain: cfg.CookieDomain,
		CookieSecure: cfg.CookieSecure,
		MaxAge:       cfg.SessionMaxAge,
	}

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		SecurityHeaders:   middleware.SecurityHeadersConfig{HSTS: cfg.CookieSecure},
		RateLimiter:       rateLimiter,
		CSRFConfig:        cookieCfg,

		Authenticator: authService,
		AuthGate: middleware.AuthGateConfig{
			Realm:      kc.Realm,
			LoginPath:  "/login",
			BearerOnly: kc.BearerOnly,
			Cookie: middleware.CookieConfig{
				Domain: cfg.CookieDomain,
				Secure: cfg.CookieSecure,
			},
			Recorder: collector,
		},
		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
			Recorder:      collector,
		},

		PersonneService: personneService,

		Store:    personneRepo,
		Metrics:  collector,
		Gatherer: reg,
	}

	return &application{
		handler:     handler.NewRouter(deps),
		db:          db,
		sessionRepo: sessionRepo,
		rateLimiter: rateLimiter,
	}, nil
}

// newSessionRepo は設定に従ってセッションストアを生成する。
func newSessionRepo(cfg *config.Config) (repository.SessionRepository, error) {
	switch cfg.SessionStore {
	case config.SessionStoreRedis:
		client, err := repository.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis client: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("session store: redis")
		return repository.NewRedisSessionRepo(client), nil
	default:
		slog.Info("session store: memory",
			slog.Duration("purge_interval", cfg.SessionPurgeInterval),
		)
		return repository.NewMemorySessionRepo(cfg.SessionPurgeInterval), nil
	}
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	app, err := newApplication(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			slog.Error("failed to release resources", slog.String("error", err.Error()))
		}
	}()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      app.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runStatus は適用済みスキーマのバージョンをログに出力する。
func runStatus(cfg *config.Config) error {
	st, err := database.GetSchemaStatus(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read schema status: %w", err)
	}
	if !st.Applied {
		slog.Warn("no migrations applied",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		return nil
	}
	slog.Info("schema status",
		slog.Uint64("version", uint64(st.Version)),
		slog.Bool("dirty", st.Dirty),
	)
	if st.Dirty {
		return fmt.Errorf("schema version %d is dirty", st.Version)
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	return checkHealth(fmt.Sprintf("http://localhost:%s/health", port))
}

func checkHealth(healthURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(healthURL)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	if strings.HasPrefix(raw, "sqlite:") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
