package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexjbarnes/authz-server/internal/auth"
	"github.com/alexjbarnes/authz-server/internal/config"
	"github.com/alexjbarnes/authz-server/internal/keys"
	"github.com/alexjbarnes/authz-server/internal/logging"
	"github.com/alexjbarnes/authz-server/internal/registry"
	"github.com/alexjbarnes/authz-server/internal/server"
	"github.com/alexjbarnes/authz-server/internal/state"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

func main() {
	// Handle subcommands before config loading.
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "hash-password":
			hashPassword()
			return
		case "gen-certs":
			if err := genCerts(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}

			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func hashPassword() {
	fmt.Fprint(os.Stderr, "Enter password: ")
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		fmt.Fprintln(os.Stderr, "no input")
		os.Exit(1)
	}
	hash, err := auth.HashPassword(scanner.Text())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}

// genCerts writes a self-signed certificate for each key purpose into
// the certificate store.
func genCerts(args []string) error {
	fs := flag.NewFlagSet("gen-certs", flag.ContinueOnError)
	dir := fs.String("dir", os.Getenv("CERT_STORE_DIR"), "certificate store directory")
	authzSubject := fs.String("authz-subject", envOr("CERT_SUBJECT_AUTHZ_SERVER", "authz-server"), "subject for the token signing certificate")
	apiSubject := fs.String("api-subject", envOr("CERT_SUBJECT_API_SERVICE", "api-service"), "subject for the token encryption certificate")
	validFor := fs.Duration("valid-for", 2*365*24*time.Hour, "certificate validity")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *dir == "" {
		return fmt.Errorf("CERT_STORE_DIR or --dir is required")
	}

	for _, subject := range []string{*authzSubject, *apiSubject} {
		path, err := keys.WriteCertificate(*dir, subject, *validFor)
		if err != nil {
			return fmt.Errorf("certificate for %s: %w", subject, err)
		}

		fmt.Println(path)
	}

	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("authz-server starting", slog.String("version", Version))

	var appState *state.State
	if cfg.StateDBPath != "" {
		appState, err = state.LoadAt(cfg.StateDBPath)
	} else {
		appState, err = state.Load()
	}
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	seeder := registry.NewSeeder(appState, logger)
	if err := seeder.Apply(registry.BuiltIn(cfg.EnableTestAccounts)); err != nil {
		return fmt.Errorf("seeding built-in accounts: %w", err)
	}

	if cfg.EnableTestAccounts {
		logger.Warn("test accounts enabled")
	}

	if cfg.SeedFile != "" {
		if err := seeder.ApplyFile(cfg.SeedFile); err != nil {
			return fmt.Errorf("seeding from file: %w", err)
		}
	}

	provider := keys.NewProvider(cfg, cfg.CryptoKeySettingPrefix, cfg.CertStoreDir, logger)

	// Fail at startup rather than on the first token request.
	for _, purpose := range []keys.Purpose{keys.PurposeAuthZServer, keys.PurposeAPIService} {
		if _, err := provider.GetCryptoKey(purpose); err != nil {
			return fmt.Errorf("resolving %s key: %w", purpose, err)
		}
	}

	authorizer := auth.NewAuthorizer(appState, appState, appState, logger)
	issuer := auth.NewIssuer(auth.IssuerConfig{
		Clients:  appState,
		Users:    appState,
		Keys:     provider,
		Settings: cfg,
		Issuer:   cfg.ServerURL,
		Logger:   logger,
	})
	engine := auth.NewEngine(auth.EngineConfig{
		Authorizer: authorizer,
		Issuer:     issuer,
		Refresh:    auth.NewRefreshCodec(keys.NewStore(appState), cfg.RefreshTokenLifetime),
		Logger:     logger,
	})

	mux := server.NewMux(server.MuxConfig{
		Dispatcher: auth.NewDispatcher(engine, logger),
		Authorizer: authorizer,
		Validator:  auth.NewTokenValidator(provider, cfg.ServerURL),
		Registry:   appState,
		Logger:     logger,
		ServerURL:  cfg.ServerURL,
	})

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		logger.Info("starting server",
			slog.String("listen", cfg.ListenAddr),
			slog.String("server_url", cfg.ServerURL),
		)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	if cfg.SeedFile != "" {
		g.Go(func() error {
			err := seeder.Watch(gctx, cfg.SeedFile)
			if errors.Is(err, context.Canceled) {
				return nil
			}

			return err
		})
	}

	return g.Wait()
}
