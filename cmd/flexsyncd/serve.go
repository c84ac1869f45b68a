package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"flexsync/internal/auth"
	"flexsync/internal/config"
	"flexsync/internal/httpapi"
	"flexsync/internal/storage"
	"flexsync/internal/subscriptions"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the subscription store HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	db, err := storage.OpenSQLite(cfg.DBPath)
	if err != nil {
		return err
	}

	store, err := subscriptions.Open(ctx, db, func(version int64) {
		log.Printf("subscription set %d committed as Pending", version)
	})
	if err != nil {
		return err
	}
	defer store.Close()

	if err := seedIfEmpty(ctx, store, cfg); err != nil {
		return err
	}

	mux := http.NewServeMux()
	httpapi.NewServer(store).RegisterRoutes(mux)

	handler := withAdminAuth(mux, cfg)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("flexsyncd listening on %s", cfg.ListenAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// withAdminAuth gates every request except /healthz behind a logged-in
// admin subject. When DevUserID is set, auth is bypassed with that fixed
// subject for local development. When no OIDC issuer is configured, or the
// OIDC manager cannot be built, requests pass through unauthenticated.
func withAdminAuth(next http.Handler, cfg config.Config) http.Handler {
	if cfg.DevUserID != "" {
		return auth.DevUserMiddleware(cfg.DevUserID)(next)
	}
	if cfg.OIDC.IssuerURL == "" {
		log.Printf("warning: no oidc issuer configured and no dev user id set, admin surface is unauthenticated")
		return next
	}
	manager, err := auth.NewManager(auth.Config{
		IssuerURL:       cfg.OIDC.IssuerURL,
		ClientID:        cfg.OIDC.ClientID,
		ClientSecret:    cfg.OIDC.ClientSecret,
		RedirectURL:     cfg.OIDC.RedirectURL,
		FallbackURL:     cfg.OIDC.FallbackURL,
		SessionKey:      cfg.SessionKey,
		SessionTTL:      cfg.SessionTTL,
		CookieSecure:    cfg.CookieSecure,
		CookieDomain:    cfg.CookieDomain,
		AllowedSubjects: cfg.AllowedSubjects,
	})
	if err != nil {
		log.Printf("warning: oidc auth disabled: %v", err)
		return next
	}
	return manager.OIDCMiddleware(func(r *http.Request) bool {
		return r.URL.Path == "/healthz"
	})(manager.WithUser(next))
}

// seedIfEmpty declares the configured seed subscriptions as a new version
// if the latest version is still the empty initial Pending one, so a
// fresh deployment starts with a known working set instead of nothing.
func seedIfEmpty(ctx context.Context, store *subscriptions.SubscriptionStore, cfg config.Config) error {
	seeds, err := config.LoadSeed(cfg.SeedFile)
	if err != nil {
		return err
	}
	if len(seeds) == 0 {
		return nil
	}

	latest, err := store.GetLatest(ctx)
	if err != nil {
		return err
	}
	if latest.Version() != 0 || latest.Size() > 0 {
		return nil
	}

	mutable, err := latest.MakeMutableCopy(ctx)
	if err != nil {
		return err
	}
	for _, seed := range seeds {
		if seed.Name != "" {
			if _, _, err := mutable.InsertOrAssignNamed(seed.Name, seed.ObjectClassName, seed.Query); err != nil {
				_ = mutable.Rollback()
				return err
			}
			continue
		}
		if _, _, err := mutable.InsertOrAssignAnonymous(seed.ObjectClassName, seed.Query); err != nil {
			_ = mutable.Rollback()
			return err
		}
	}
	_, err = mutable.Commit(ctx)
	return err
}
