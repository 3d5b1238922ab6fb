package app

import (
	"context"
	"net/http"

	"identity-service/internal/auth/handler"
	"identity-service/internal/auth/linker"
	"identity-service/internal/auth/provider"
	"identity-service/internal/auth/provider/github"
	"identity-service/internal/auth/provider/google"
	"identity-service/internal/auth/provider/microsoft"
	"identity-service/internal/config"
	"identity-service/internal/logger"
	"identity-service/internal/metrics"
	"identity-service/internal/middleware"
	"identity-service/internal/session"
	"identity-service/internal/user"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// setupProviders builds every provider that has credentials configured.
func setupProviders(ctx context.Context, cfg config.Config) (*provider.Registry, error) {
	var list []provider.OAuthProvider

	if cfg.GitHubEnabled() {
		p, err := github.New(github.Config{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  cfg.GitHubRedirectURL,
			APIURL:       cfg.GitHubAPIURL,
		})
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}

	if cfg.GoogleEnabled() {
		p, err := google.New(ctx, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}

	if cfg.MicrosoftEnabled() {
		p, err := microsoft.New(ctx, cfg.MicrosoftTenant, cfg.MicrosoftClientID, cfg.MicrosoftClientSecret, cfg.MicrosoftRedirectURL)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}

	registry := provider.NewRegistry(list...)
	logger.Info("oauth providers registered", map[string]any{
		"providers": registry.Names(),
	})
	return registry, nil
}

func setupHTTP(ctx context.Context, cfg config.Config, infra *Infra) (*gin.Engine, error) {

	// ----------------------------
	// Dependencies
	// ----------------------------

	directory, err := user.NewDirectory(infra.Users, user.Options{
		MaxSessions: cfg.MaxSessionsPerUser,
	})
	if err != nil {
		return nil, err
	}

	sessionStore, err := session.NewStore(infra.Sessions, directory, session.Options{
		TTL:           cfg.SessionTTL,
		RefreshWindow: cfg.SessionRefreshWindow,
	})
	if err != nil {
		return nil, err
	}

	registry, err := setupProviders(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var recorder metrics.Recorder = metrics.Nop{}
	var gatherer prometheus.Gatherer
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		recorder = metrics.NewCollector(reg)
		gatherer = reg
	}

	cookie := session.CookieOptions{
		Secure:   cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	}

	identityLinker := linker.New(directory, linker.Options{
		AllowRegistration: cfg.AllowRegistration,
	})

	authHandler := handler.NewHandler(
		registry,
		directory,
		sessionStore,
		identityLinker,
		handler.Options{
			AllowRegistration: cfg.AllowRegistration,
			Cookie:            cookie,
			Metrics:           recorder,
		},
	)

	authMiddleware := middleware.NewAuthMiddleware(sessionStore, cookie, recorder)

	// ----------------------------
	// Router
	// ----------------------------

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(metrics.Handler(gatherer)))
	}

	// ----------------------------
	// Session-aware routes
	// ----------------------------

	web := router.Group("/")
	web.Use(middleware.GinAuthenticate(authMiddleware))

	authHandler.RegisterRoutes(web)
	authHandler.RegisterAdminRoutes(web)

	for _, route := range router.Routes() {
		logger.Info("route registered", map[string]any{
			"method": route.Method,
			"path":   route.Path,
		})
	}

	return router, nil
}
