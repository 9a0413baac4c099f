package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/sync/errgroup"

	"github.com/quillpress/apiserver/config"
	"github.com/quillpress/apiserver/internal/auth"
	"github.com/quillpress/apiserver/internal/cache"
	"github.com/quillpress/apiserver/internal/db"
	"github.com/quillpress/apiserver/internal/handlers"
	"github.com/quillpress/apiserver/internal/logging"
	"github.com/quillpress/apiserver/internal/mq"
	"github.com/quillpress/apiserver/internal/notify"
	"github.com/quillpress/apiserver/internal/services"
	"github.com/quillpress/apiserver/internal/storage"
	"github.com/quillpress/apiserver/internal/store"
)

const (
	requestTimeout  = 60 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Server wraps the HTTP server, its router and the connections it owns.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	broker     *mq.MQ
	redis      *redis.Client
	mailer     *notify.Worker
	logger     zerolog.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Services are the application components mounted by NewRouter.
type Services struct {
	Authenticator *auth.Authenticator
	Guard         *auth.Guard
	Posts         *services.PostService
	Accounts      *services.AccountService
}

// New connects every backend selected in cfg and constructs a Server.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{logger: logging.Component(logger, "server")}
	ok := false
	defer func() {
		if !ok {
			s.closeBackends()
		}
	}()

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s.db = dbConn

	accountRepo := store.NewAccountRepository(dbConn)
	roleRepo := store.NewRoleRepository(dbConn)
	postRepo := store.NewPostRepository(dbConn)

	hasher, err := auth.NewHasher(cfg.Auth.PasswordHash, cfg.Auth.BcryptCost, auth.Argon2Params{
		Time:    cfg.Auth.Argon2Time,
		Memory:  cfg.Auth.Argon2Memory,
		Threads: cfg.Auth.Argon2Threads,
	})
	if err != nil {
		return nil, err
	}
	codec, err := auth.NewTokenCodec(auth.TokenConfig{Secret: []byte(cfg.Auth.JWTSecret), Issuer: cfg.Auth.Issuer})
	if err != nil {
		return nil, err
	}

	broker, err := mq.Open(ctx, cfg.MQ, logger)
	if err != nil {
		return nil, err
	}
	s.broker = broker
	if broker.Name() == "memory" {
		// Nothing outside this process can drain an in-memory queue.
		s.mailer = notify.NewWorker(broker, cfg.MQ.MailQueue, notify.NewSender(cfg.SMTP, logger), logger)
	}

	authn, err := auth.NewAuthenticator(auth.AuthenticatorDeps{
		Accounts: accountRepo,
		Roles:    roleRepo,
		Hasher:   hasher,
		Codec:    codec,
		Notifier: notify.NewQueue(broker, cfg.MQ.MailQueue, logger),
		TokenTTL: cfg.Auth.TokenTTL,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	var (
		source      auth.AccountSource
		invalidator services.AccountInvalidator
	)
	if cfg.Auth.RecheckAccount {
		source = accountRepo
		if cfg.Redis.Addr != "" {
			s.redis = cache.NewClient(cfg.Redis)
			if err := s.redis.Ping(ctx).Err(); err != nil {
				s.logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable, reads fall back to postgres")
			}
			accounts := cache.NewAccounts(s.redis, accountRepo, cfg.Redis.TTL, logger)
			source = accounts
			invalidator = accounts
		}
	}

	imageStore, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	var images services.ImageStore
	if imageStore != nil {
		images = imageStore
	}

	s.router = NewRouter(Services{
		Authenticator: authn,
		Guard:         auth.NewGuard(codec, source, logger),
		Posts:         services.NewPostService(postRepo, images, logger),
		Accounts:      services.NewAccountService(accountRepo, invalidator, logger),
	}, logger)

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ok = true
	return s, nil
}

// NewRouter mounts every route on a chi router with request logging.
func NewRouter(svc Services, logger zerolog.Logger) *chi.Mux {
	mw := handlers.NewAuthMiddleware(svc.Guard)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		hlog.NewHandler(logging.Component(logger, "http")),
		hlog.RequestIDHandler("request_id", "X-Request-Id"),
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			hlog.FromRequest(r).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Msg("request")
		}),
		middleware.Recoverer,
		middleware.Timeout(requestTimeout),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, svc.Authenticator, mw)
	})
	router.Route("/posts", func(r chi.Router) {
		handlers.PostRouter(r, svc.Posts, mw)
	})
	router.Route("/admin", func(r chi.Router) {
		handlers.AdminRouter(r, svc.Accounts, mw)
	})
	return router
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves HTTP, and the in-process mailer when the broker is in memory,
// until ctx is cancelled, Shutdown is called or either fails.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if s.mailer != nil {
		g.Go(func() error {
			return s.mailer.Run(ctx)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		return s.stopHTTP()
	})

	err := g.Wait()
	s.closeOnce.Do(s.closeBackends)
	s.logger.Info().Msg("server stopped")
	return err
}

// Start runs the server until Shutdown is called.
func (s *Server) Start() error {
	return s.Run(context.Background())
}

// Shutdown drains in-flight requests and closes owned connections.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	err := s.stopHTTP()
	s.closeOnce.Do(s.closeBackends)
	return err
}

func (s *Server) stopHTTP() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) closeBackends() {
	if s.broker != nil {
		if err := s.broker.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close broker")
		}
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}
