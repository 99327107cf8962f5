package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dmchat/internal/authz"
	"dmchat/internal/blob"
	"dmchat/internal/config"
	"dmchat/internal/jwtsigner"
	"dmchat/internal/observability/logging"
	"dmchat/internal/observability/metrics"
	"dmchat/internal/passwords"
	"dmchat/internal/registry"
	"dmchat/internal/service"
	"dmchat/internal/store"
	transport "dmchat/internal/transport/http"
	"dmchat/pkg/db"
)

// bumped whenever passwords.DefaultParams changes so old hashes are upgraded on login
const passwordPolicyVersion = 1

func main() {
	cfg := config.Load()

	logger := logging.NewLogger(logging.Config{
		ServiceName: "dmchat",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	slog.SetDefault(logger)
	metrics.MustRegister("dmchat")

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("starting service", "addr", cfg.Addr, "auth_mode", cfg.AuthMode, "blob_backend", cfg.BlobBackend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	primary, err := db.OpenGorm(db.Config{Driver: cfg.DatabaseDriver, DSN: cfg.DatabaseURL, LogSQL: cfg.LogSQL})
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close(primary) }()

	st := store.New(primary)
	if cfg.DatabaseReplicaURL != "" {
		replica, err := db.OpenGorm(db.Config{Driver: cfg.DatabaseDriver, DSN: cfg.DatabaseReplicaURL, LogSQL: cfg.LogSQL})
		if err != nil {
			logger.Error("open read replica", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close(replica) }()
		st = st.WithReplica(replica)
	}
	if err := st.AutoMigrate(ctx); err != nil {
		logger.Error("auto migrate", "error", err)
		os.Exit(1)
	}

	tokenVerifier, tokens, closeVerifier, err := newAuth(cfg)
	if err != nil {
		logger.Error("init token verification", "error", err)
		os.Exit(1)
	}
	defer closeVerifier()
	verifier := authz.RequireActive(tokenVerifier, st.Users())

	blobs, uploads, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Error("init blob store", "error", err)
		os.Exit(1)
	}

	reg := registry.New(st.Users(), logger)
	agg := service.NewAggregator(st.Messages(), logger).WithPeers(st.Users())
	router := service.NewRouter(st.Messages(), st.Users(), reg, agg, logger)
	accounts := service.NewAccounts(st, passwords.NewArgon2id(passwords.DefaultParams, passwordPolicyVersion), tokens, reg, agg, logger)

	if n, err := st.Users().ResetPresence(ctx, time.Now().UTC()); err != nil {
		logger.Warn("reset presence", "error", err)
	} else if n > 0 {
		logger.Info("cleared stale presence", "users", n)
	}

	handler := transport.NewRouter(transport.Deps{
		Verifier:           verifier,
		Router:             router,
		Aggregator:         agg,
		Accounts:           accounts,
		Registry:           reg,
		Blobs:              blobs,
		Uploads:            uploads,
		Log:                logger,
		LocalLogin:         tokens != nil,
		CORSOrigins:        cfg.CORSOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		MaxUploadBytes:     cfg.MaxUploadBytes,
		WS: transport.WSConfig{
			SendBuffer:   cfg.WSSendBuffer,
			PingInterval: cfg.WSPingInterval,
		},
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("dmchat listening", "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutting down", "grace", cfg.ShutdownGrace)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown", "error", err)
		}
		closed := reg.CloseAll(shutdownCtx)
		logger.Info("closed live connections", "count", closed)
	}
}

// newAuth returns the verifier for incoming tokens and, in hmac mode, the
// issuer used by signup and login.
func newAuth(cfg config.Config) (authz.Verifier, service.TokenIssuer, func(), error) {
	switch cfg.AuthMode {
	case config.AuthModeJWKS:
		v, err := authz.NewJWKSVerifier(cfg.JWKSURL, cfg.Issuer, cfg.Audience)
		if err != nil {
			return nil, nil, nil, err
		}
		return v, nil, v.Close, nil
	default:
		signer, err := jwtsigner.New(cfg.SigningKey, cfg.Issuer, cfg.Audience, cfg.AccessTTL)
		if err != nil {
			return nil, nil, nil, err
		}
		return authz.NewHMACVerifier(cfg.SigningKey, cfg.Issuer, cfg.Audience), signer, func() {}, nil
	}
}

func newBlobStore(ctx context.Context, cfg config.Config) (blob.Store, http.Handler, error) {
	switch cfg.BlobBackend {
	case config.BlobBackendS3:
		s3, err := blob.NewS3Store(ctx, blob.S3Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			PublicURL: cfg.S3.PublicURL,
			MaxBytes:  cfg.MaxUploadBytes,
		})
		if err != nil {
			return nil, nil, err
		}
		return s3, nil, nil
	default:
		disk, err := blob.NewDiskStore(cfg.UploadDir, cfg.PublicBaseURL, cfg.MaxUploadBytes)
		if err != nil {
			return nil, nil, err
		}
		return disk, disk.Handler(), nil
	}
}
