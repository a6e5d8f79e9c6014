package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/tendant/chi-demo/app"
	"github.com/tendant/citizenos-connect/pkg/citizenos"
	citizenosapi "github.com/tendant/citizenos-connect/pkg/citizenos/api"
	"github.com/tendant/citizenos-connect/pkg/client"
	"github.com/tendant/citizenos-connect/pkg/config"
	"github.com/tendant/citizenos-connect/pkg/connect"
	connectapi "github.com/tendant/citizenos-connect/pkg/connect/api"
	"github.com/tendant/citizenos-connect/pkg/idtoken"
	"github.com/tendant/citizenos-connect/pkg/notification"
	"github.com/tendant/citizenos-connect/pkg/ratelimit"
	"github.com/tendant/citizenos-connect/pkg/resolver"
	"github.com/tendant/citizenos-connect/pkg/sessions"
	sessionsapi "github.com/tendant/citizenos-connect/pkg/sessions/api"
	"github.com/tendant/citizenos-connect/pkg/sessionstore"
	"github.com/tendant/citizenos-connect/pkg/state"
	"github.com/tendant/citizenos-connect/pkg/tokengenerator"
	"github.com/tendant/citizenos-connect/pkg/user"
)

const (
	tokenIssuer            = "citizenos-connect"
	sessionCleanupInterval = time.Hour
)

type Stores struct {
	states   state.Store
	users    user.Repository
	sessions sessions.Repository
	bag      sessionstore.Store
}

type Services struct {
	users          user.Repository
	sessionService *sessions.Service
	connectService *connect.Service
	apiClient      *citizenos.Client
	bag            sessionstore.Store
}

func main() {
	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting Citizen OS connect service")

	loadEnvFile()

	settings, err := config.Load()
	if err != nil {
		slog.Error("Failed to read configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	stores, closeStores, err := openStores(ctx, settings)
	if err != nil {
		slog.Error("Failed to open stores", "backend", settings.Storage.Backend, "error", err)
		os.Exit(1)
	}
	defer closeStores()

	services, err := initializeServices(ctx, settings, stores)
	if err != nil {
		slog.Error("Failed to initialize services", "error", err)
		os.Exit(1)
	}

	go cleanupSessions(ctx, services.sessionService)

	server := app.DefaultApp()
	setupRoutes(server.R, services, &settings)

	slog.Info("Citizen OS connect service ready",
		"site_url", settings.Site.SiteURL,
		"citizenos", settings.CitizenOS.BaseURL,
		"redirect_uri", settings.RedirectURI(),
		"store", settings.Storage.Backend)

	server.Run()
}

// openStores builds the repositories for the configured backend
func openStores(ctx context.Context, settings config.Settings) (*Stores, func(), error) {
	closers := []func(){}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	stateOpts := []state.Option{state.WithTimeLimit(settings.CitizenOS.StateTimeLimit)}
	stores := &Stores{
		users:    user.NewInMemoryRepository(),
		sessions: sessions.NewInMemoryRepository(),
		bag:      sessionstore.NewInMemoryStore(settings.Auth.AuthCookieExpiration),
	}

	var rdb *redis.Client
	if settings.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     settings.Redis.Addr,
			Password: settings.Redis.Password,
			DB:       settings.Redis.DB,
		})
		closers = append(closers, func() { rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			closeAll()
			return nil, nil, err
		}
		stores.bag = sessionstore.NewRedisStore(rdb, settings.Auth.AuthCookieExpiration)
		slog.Info("Redis connected", "addr", settings.Redis.Addr)
	}

	switch settings.Storage.Backend {
	case config.BackendFile:
		collection, err := state.NewFileCollection(settings.Storage.DataDir)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		stores.states = state.NewCollectionStore(collection, stateOpts...)

	case config.BackendRedis:
		stores.states = state.NewRedisStore(rdb, stateOpts...)

	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, settings.Database.ToDatabaseURL())
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, pool.Close)

		stateStore := state.NewPostgresStore(pool, stateOpts...)
		userRepo := user.NewPostgresRepository(pool)
		sessionRepo := sessions.NewPostgresRepository(pool)
		for _, m := range []interface{ Migrate(context.Context) error }{stateStore, userRepo, sessionRepo} {
			if err := m.Migrate(ctx); err != nil {
				closeAll()
				return nil, nil, err
			}
		}
		stores.states = stateStore
		stores.users = userRepo
		stores.sessions = sessionRepo
		slog.Info("Database connected", "host", settings.Database.Host, "database", settings.Database.Database, "schema", settings.Database.Schema)

	default:
		stores.states = state.NewCollectionStore(state.NewInMemoryCollection(), stateOpts...)
	}

	if settings.Storage.Backend != config.BackendPostgres {
		slog.Warn("Users and sessions are kept in memory and lost on restart", "store", settings.Storage.Backend)
	}
	return stores, closeAll, nil
}

func initializeServices(ctx context.Context, settings config.Settings, stores *Stores) (*Services, error) {
	apiClient := citizenos.NewClient(settings.CitizenOS.BaseURL, settings.CitizenOS.ClientID,
		citizenos.WithTimeout(settings.CitizenOS.HTTPTimeout),
		citizenos.WithInsecureSkipVerify(settings.CitizenOS.NoSSLVerify),
		citizenos.WithUserInfoPath(settings.CitizenOS.EndpointUserInfo),
		citizenos.WithCategories(settings.CitizenOS.TopicCategories...),
	)
	fetcher := connect.NewUserInfoClient(apiClient)

	var resolverHooks resolver.Hooks
	if settings.Email.NotifyTo != "" {
		emailNotifier, err := notification.NewEmailNotifier(settings.Email.ToSMTPConfig())
		if err != nil {
			slog.Error("Failed to create email notifier, new account notices disabled", "error", err)
		} else {
			notifier := notification.NewNewAccountNotifier(emailNotifier, settings.Email.NotifyTo, settings.Site.SiteURL)
			resolverHooks.UserCreate = notifier.UserCreated
		}
	}

	resolverConfig, err := settings.ResolverConfig()
	if err != nil {
		return nil, err
	}
	userResolver := resolver.NewResolver(stores.users, resolverConfig,
		resolver.WithHooks(resolverHooks),
		resolver.WithUserInfoFetcher(fetcher),
	)
	sessionService := sessions.NewService(stores.sessions)

	connectOpts := []connect.Option{connect.WithUserInfoFetcher(fetcher)}
	if settings.CitizenOS.JWKSURL != "" {
		verifier, err := idtoken.NewVerifier(ctx, settings.CitizenOS.JWKSURL,
			idtoken.WithHTTPClient(&http.Client{Timeout: settings.CitizenOS.HTTPTimeout}))
		if err != nil {
			return nil, err
		}
		connectOpts = append(connectOpts, connect.WithVerifier(verifier))
	}

	connectConfig, err := settings.ConnectConfig()
	if err != nil {
		return nil, err
	}
	if !connectConfig.VerifyState {
		slog.Warn("CITIZENOS_VERIFY_STATE is off, login callbacks are not checked for replay or forgery")
	}
	connectService := connect.NewService(connectConfig,
		stores.states,
		stores.users,
		userResolver,
		sessionService,
		tokengenerator.NewJwtTokenGenerator(settings.Auth.JwtSecret, tokenIssuer),
		stores.bag,
		connectOpts...,
	)

	return &Services{
		users:          stores.users,
		sessionService: sessionService,
		connectService: connectService,
		apiClient:      apiClient,
		bag:            stores.bag,
	}, nil
}

func setupRoutes(r *chi.Mux, services *Services, settings *config.Settings) {
	// Health check endpoints
	app.RoutesHealthz(r)
	app.RoutesHealthzReady(r)

	tokenAuth := jwtauth.New("HS256", []byte(settings.Auth.JwtSecret), nil)

	connectOpts := []connectapi.Option{
		connectapi.WithCookieSetter(tokengenerator.NewCookieSetter(settings.Auth.CookieSecure)),
		connectapi.WithAlternateRedirectURI(settings.CitizenOS.AlternateRedirectURI),
	}
	if settings.RateLimit.Burst > 0 {
		limiter := ratelimit.NewLimiter(settings.RateLimit.Burst, settings.RateLimit.PerMinute, settings.RateLimit.IdleTTL)
		connectOpts = append(connectOpts, connectapi.WithThrottle(ratelimit.PerIP(limiter)))
	}
	connectHandle := connectapi.NewHandle(services.connectService, services.users, connectOpts...)
	widgetHandle := citizenosapi.NewHandle(services.apiClient, services.bag)
	sessionsHandle := sessionsapi.NewHandler(services.sessionService)

	r.Group(func(r chi.Router) {
		r.Use(client.Verifier(tokenAuth))
		r.Use(client.AuthUserMiddleware(services.sessionService))
		if settings.CitizenOS.EnforcePrivacy {
			r.Use(connectapi.PrivacyMiddleware(settings.Site.LoginURL))
		}

		connectHandle.RegisterRoutes(r)
		r.Route("/api/citizenos", widgetHandle.RegisterRoutes)

		r.Group(func(r chi.Router) {
			r.Use(client.RequireAuth)
			r.Route("/api/sessions", sessionsHandle.RegisterRoutes)

			r.Get("/me", func(w http.ResponseWriter, r *http.Request) {
				authUser, _ := client.GetAuthUser(r)
				u, err := services.users.GetByID(r.Context(), authUser.UserUuid)
				if err != nil {
					slog.Error("Failed getting me", "user", authUser, "err", err)
					http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
					return
				}
				render.JSON(w, r, u)
			})
		})
	})
}

func cleanupSessions(ctx context.Context, service *sessions.Service) {
	ticker := time.NewTicker(sessionCleanupInterval)
	defer ticker.Stop()
	for range ticker.C {
		if err := service.CleanupExpiredSessions(ctx); err != nil {
			slog.Error("Failed to clean up expired sessions", "error", err)
		}
	}
}

// loadEnvFile loads a .env file next to the binary or in the working
// directory, if there is one.
func loadEnvFile() {
	execPath, err := os.Executable()
	if err != nil {
		return
	}

	envFile := filepath.Join(filepath.Dir(execPath), ".env")
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		cwd, _ := os.Getwd()
		envFile = filepath.Join(cwd, ".env")
	}

	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		slog.Debug("No .env file found (using environment variables or defaults)")
		return
	}

	slog.Info("Loading configuration from .env file", "path", envFile)
	if err := godotenv.Load(envFile); err != nil {
		slog.Warn("Failed to load .env file", "error", err)
	}
}
