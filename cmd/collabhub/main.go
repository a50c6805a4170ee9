package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lattice-editor/server/internal/apperror"
	"github.com/lattice-editor/server/internal/auth"
	"github.com/lattice-editor/server/internal/config"
	"github.com/lattice-editor/server/internal/database"
	"github.com/lattice-editor/server/internal/documents"
	"github.com/lattice-editor/server/internal/gateway"
	"github.com/lattice-editor/server/internal/hub"
	"github.com/lattice-editor/server/internal/httpapi"
	"github.com/lattice-editor/server/internal/logging"
	"github.com/lattice-editor/server/internal/queue"
	"github.com/lattice-editor/server/internal/ratelimiter"
	"github.com/lattice-editor/server/internal/sandbox"
	"github.com/lattice-editor/server/internal/snapshotstore"
	"github.com/lattice-editor/server/internal/updatelog"
	"github.com/lattice-editor/server/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "collabhub",
		Short: "Lattice realtime collaboration hub",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("frontend-origin", defaults.GetString("http.frontend_origin"), "Allowed CORS/websocket origin")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "http.frontend_origin", "frontend-origin")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	dsn := appConfig.DatabaseURL
	if dsn == "" {
		dsn = appConfig.DatabasePath
	}
	db, err := database.Open(dsn, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	verifier, err := buildVerifier(appConfig, logger)
	if err != nil {
		return err
	}

	usersService, err := users.NewService(users.ServiceConfig{Database: db, Clock: time.Now})
	if err != nil {
		return err
	}
	documentsService, err := documents.NewService(documents.ServiceConfig{Database: db, Clock: time.Now, Logger: logger})
	if err != nil {
		return err
	}
	updateLogService, err := updatelog.NewService(updatelog.ServiceConfig{Database: db, Clock: time.Now, Logger: logger})
	if err != nil {
		return err
	}

	snapshots, err := buildSnapshotStore(ctx, appConfig, db, logger)
	if err != nil {
		return err
	}

	registry := hub.NewRegistry(hub.Config{
		UpdateLog: updateLogService,
		Snapshots: snapshots,
		Policy: hub.SnapshotPolicy{
			EveryNUpdates: appConfig.SnapshotEveryNUpdates,
			EveryInterval: appConfig.SnapshotEveryMS,
			Prune:         appConfig.PruneBeforeSnapshot,
			RetainCount:   appConfig.SnapshotRetainCount,
		},
		Logger: logger,
	}, appConfig.WorkerIdle)
	defer registry.Stop()

	gatewayHandler := gateway.NewHandler(gateway.Config{
		Registry:       registry,
		Documents:      documentsService,
		Users:          usersService,
		Verifier:       verifier,
		Logger:         logger,
		AllowedOrigins: originList(appConfig.FrontendOrigin),
	})

	limiter := buildLimiter(appConfig, db)
	if closer, ok := limiter.(interface{ Stop() }); ok {
		defer closer.Stop()
	}

	languages := sandbox.DefaultLanguages()
	supportedLanguages := make([]string, 0, len(languages))
	for name := range languages {
		supportedLanguages = append(supportedLanguages, name)
	}

	// runner stays a nil sandbox.Runner interface (not a typed nil pointer)
	// when Docker is unreachable at startup, so the sandboxAvailable closure
	// below sees it as genuinely absent; queue.NewQueue is handed
	// stubRunnerIfAbsent(runner), an unavailableRunner in that case, rather
	// than the nil value itself.
	var runner sandbox.Runner
	dockerRunner, err := sandbox.NewDockerRunner(sandbox.DockerConfig{
		Languages:      languages,
		OutputMaxBytes: int64(appConfig.ExecOutputMaxBytes),
		Logger:         logger,
	})
	if err != nil {
		logger.Warn("docker sandbox unavailable, code execution will fail closed", zap.Error(err))
	} else {
		runner = dockerRunner
	}
	sandboxAvailable := func() bool { return runner != nil && runner.Available(ctx) }

	jobQueue, err := queue.NewQueue(queue.Config{
		Database:    db,
		Runner:      stubRunnerIfAbsent(runner),
		Concurrency: appConfig.ExecMaxConcurrency,
		IdleTimeout: appConfig.WorkerIdle,
		ExecTimeout: appConfig.ExecTimeout,
		Logger:      logger,
		OnFinished:  broadcastExecutionResult(registry),
	})
	if err != nil {
		return err
	}
	defer jobQueue.Stop()

	apiHandler, err := httpapi.NewHandler(httpapi.Config{
		Verifier:           verifier,
		Users:              usersService,
		Documents:          documentsService,
		UpdateLog:          updateLogService,
		Queue:              jobQueue,
		Limiter:            limiter,
		SupportedLanguages: supportedLanguages,
		CodeMaxBytes:       appConfig.ExecCodeMaxBytes,
		AllowedOrigins:     originList(appConfig.FrontendOrigin),
		Logger:             logger,
		StartedAt:          time.Now(),
		SandboxAvailable:   sandboxAvailable,
	})
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", gatewayHandler)
	mux.Handle("/", apiHandler)

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: mux,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// buildVerifier wires a JWKS verifier, a session-token verifier, or both,
// per which of AUTH_JWKS_URL / SESSION_SIGNING_SECRET are configured. At
// least one must be present or every request will be unauthenticated.
func buildVerifier(appConfig config.AppConfig, logger *zap.Logger) (auth.Verifier, error) {
	var jwksVerifier auth.Verifier
	if appConfig.AuthJWKSURL != "" {
		v, err := auth.NewJWKSVerifier(auth.JWKSVerifierConfig{
			JWKSURL:  appConfig.AuthJWKSURL,
			Issuer:   appConfig.AuthIssuer,
			Audience: appConfig.AuthAudience,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		jwksVerifier = v
	}

	var sessionVerifier auth.Verifier
	if appConfig.SessionSigningSecret != "" {
		v, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
			SigningSecret: []byte(appConfig.SessionSigningSecret),
			Issuer:        appConfig.AuthIssuer,
		})
		if err != nil {
			return nil, err
		}
		sessionVerifier = v
	}

	return auth.NewCompositeVerifier(jwksVerifier, sessionVerifier), nil
}

// buildSnapshotStore prefers the S3-compatible blob backend whenever all
// BLOB_* settings are present; otherwise it falls back to storing
// snapshots as database rows, matching how the Hub treats either as an
// interchangeable snapshotstore.Store.
func buildSnapshotStore(ctx context.Context, appConfig config.AppConfig, db *gorm.DB, logger *zap.Logger) (snapshotstore.Store, error) {
	if appConfig.BlobConfigured() {
		return snapshotstore.NewS3Store(ctx, snapshotstore.S3Config{
			Endpoint:        appConfig.BlobEndpoint,
			Region:          appConfig.BlobRegion,
			Bucket:          appConfig.BlobBucket,
			AccessKeyID:     appConfig.BlobAccessKeyID,
			SecretAccessKey: appConfig.BlobSecretAccessKey,
			Logger:          logger,
		})
	}
	return snapshotstore.NewDBStore(db, logger), nil
}

// buildLimiter always uses the database-backed limiter: it is the only
// implementation that stays correct across multiple collabhub
// instances sharing one database, which is the deployment this
// component targets. MemoryLimiter remains available for single-process
// tests.
func buildLimiter(appConfig config.AppConfig, db *gorm.DB) ratelimiter.Limiter {
	return ratelimiter.NewDBLimiter(ratelimiter.DBConfig{
		Database: db,
		Window:   time.Minute,
		Limit:    appConfig.ExecRateLimitPerMin,
	})
}

// unavailableRunner satisfies sandbox.Runner when no Docker daemon could be
// reached at startup, so the Execution Queue still constructs and the
// server still serves every route but execution. httpapi's
// SandboxAvailable check already rejects submissions before they reach
// the queue, so Run is never expected to be called; it still fails
// closed rather than panicking if that assumption is ever wrong.
type unavailableRunner struct{}

func (unavailableRunner) Run(ctx context.Context, req sandbox.Request) (sandbox.Result, error) {
	return sandbox.Result{}, apperror.SandboxUnavailable("code execution sandbox is not available")
}

func (unavailableRunner) Available(ctx context.Context) bool { return false }

func stubRunnerIfAbsent(runner sandbox.Runner) sandbox.Runner {
	if runner != nil {
		return runner
	}
	return unavailableRunner{}
}

func originList(origin string) []string {
	if origin == "" {
		return nil
	}
	return []string{origin}
}

// executionResultPayload is the JSON shape carried, base64-encoded, in
// an execute-result message's UpdateB64 field. The wire message reuses
// the CRDT update transport rather than gaining dedicated fields, since
// the gateway already treats UpdateB64 as a generic opaque payload slot
// (see MessageInit's reuse of it for a snapshot).
type executionResultPayload struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode int    `json:"exit_code"`
}

func broadcastExecutionResult(registry *hub.Registry) func(queue.Job) {
	return func(job queue.Job) {
		documentID, err := documents.NewDocumentID(job.DocumentID)
		if err != nil {
			return
		}
		payload, err := json.Marshal(executionResultPayload{
			JobID:    job.JobID,
			Status:   string(job.Status),
			Stdout:   job.Stdout,
			Stderr:   job.Stderr,
			ExitCode: job.ExitCode,
		})
		if err != nil {
			return
		}

		h := registry.Get(documentID)
		h.Broadcast(hub.OutboundMessage{
			Type:       hub.MessageExecuteResult,
			DocumentID: job.DocumentID,
			Reason:     job.Reason,
			UpdateB64:  base64.StdEncoding.EncodeToString(payload),
			PeerID:     job.UserID,
		})
	}
}
