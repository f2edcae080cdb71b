package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/victornm/ladder/internal/api"
	"github.com/victornm/ladder/internal/catalog"
	"github.com/victornm/ladder/internal/event"
	"github.com/victornm/ladder/internal/leaderboard"
	"github.com/victornm/ladder/internal/lifeline"
	"github.com/victornm/ladder/internal/random"
	"github.com/victornm/ladder/internal/score"
	"github.com/victornm/ladder/internal/session"
	"github.com/victornm/ladder/internal/telemetry"
)

const (
	SessionStorePostgres = "postgres"
	SessionStoreMemory   = "memory"

	CatalogSourcePostgres = "postgres"
	CatalogSourceFile     = "file"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Log struct {
		Level string
	}

	Auth struct {
		Secret string
	}

	CORS struct {
		AllowOrigins []string
	}

	Redis struct {
		Leaderboard struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Session Postgres
		Catalog Postgres
	}

	Session struct {
		Store string
	}

	Catalog struct {
		Source string
		File   string
	}

	Leaderboard struct {
		TopN            int
		PublishInterval time.Duration
	}

	Lifeline struct {
		// Seed fixes question selection and lifeline randomness; 0 seeds from crypto/rand.
		Seed uint64
	}
}

type Postgres struct {
	Addr string
	User string
	Pass string
	Name string
}

func (p Postgres) dsn() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s", p.User, p.Pass, p.Addr, p.Name)
}

// DefaultConfig holds the values used for keys the config file leaves out.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 8081
	c.Log.Level = "info"
	c.CORS.AllowOrigins = []string{"*"}
	c.Redis.Leaderboard.Prefix = "ladder"
	c.Redis.Pubsub.Prefix = "ladder:pubsub"
	c.Session.Store = SessionStorePostgres
	c.Catalog.Source = CatalogSourcePostgres
	c.Leaderboard.TopN = 100
	c.Leaderboard.PublishInterval = 200 * time.Millisecond
	return c
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
		}

		postgres struct {
			session *pgxpool.Pool
			catalog *gorm.DB
		}
	}

	service struct {
		session     *session.Service
		score       *score.Service
		leaderboard *leaderboard.Service
	}

	api  *api.API
	http *http.Server
	grpc *grpc.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	initLogger(c.Log.Level)

	if c.Auth.Secret == "" {
		return nil, fmt.Errorf("server: auth.secret is required")
	}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initAPI()
	return s, nil
}

func initLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(name string, addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(name, r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.leaderboard, err = connect("leaderboard", s.c.Redis.Leaderboard.Addrs, s.c.Redis.Leaderboard.Pass)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.pubsub, err = connect("pubsub", s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.c.Session.Store == SessionStorePostgres {
		cc, err := pgxpool.ParseConfig(s.c.Postgres.Session.dsn())
		if err != nil {
			return fmt.Errorf("session: %w", err)
		}

		db, err := pgxpool.NewWithConfig(ctx, cc)
		if err != nil {
			return fmt.Errorf("session: %w", err)
		}

		if err := db.Ping(ctx); err != nil {
			return fmt.Errorf("session: %w", err)
		}

		s.infra.postgres.session = db
	}

	if s.c.Catalog.Source == CatalogSourcePostgres {
		db, err := gorm.Open(postgres.Open(s.c.Postgres.Catalog.dsn()), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err != nil {
			return fmt.Errorf("catalog: %w", err)
		}

		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("catalog: %w", err)
		}

		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("catalog: %w", err)
		}

		s.infra.postgres.catalog = db
	}

	return nil
}

type catalogStore interface {
	catalog.Catalog
	catalog.Bank
}

func (s *Server) initCatalog(ctx context.Context) (catalogStore, error) {
	switch s.c.Catalog.Source {
	case CatalogSourcePostgres:
		st := catalog.NewGormStore(s.infra.postgres.catalog)
		if err := st.Migrate(ctx); err != nil {
			return nil, err
		}
		return st, nil

	case CatalogSourceFile:
		return catalog.LoadFile(s.c.Catalog.File)
	}

	return nil, fmt.Errorf("unknown catalog source %q", s.c.Catalog.Source)
}

func (s *Server) initSessionStore(ctx context.Context) (session.Store, error) {
	switch s.c.Session.Store {
	case SessionStorePostgres:
		st := session.NewPostgresStore(s.infra.postgres.session)
		if err := st.Migrate(ctx); err != nil {
			return nil, err
		}
		return st, nil

	case SessionStoreMemory:
		slog.Warn("server: sessions are kept in memory and lost on restart")
		return session.NewMemoryStore(), nil
	}

	return nil, fmt.Errorf("unknown session store %q", s.c.Session.Store)
}

func (s *Server) initService() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cat, err := s.initCatalog(ctx)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}

	store, err := s.initSessionStore(ctx)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}

	rnd, err := random.FromConfig(s.c.Lifeline.Seed)
	if err != nil {
		return err
	}

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus:        s.eb,
		Redis:           s.infra.redis.leaderboard,
		Prefix:          s.c.Redis.Leaderboard.Prefix,
		TopN:            s.c.Leaderboard.TopN,
		PublishInterval: s.c.Leaderboard.PublishInterval,
	})

	s.service.score = score.NewService(score.Config{
		EventBus: s.eb,
		Records:  s.service.leaderboard,
	})

	s.service.session = session.NewService(session.Config{
		Store:     store,
		Catalog:   cat,
		Provider:  catalog.NewProvider(cat, rnd),
		Lifelines: lifeline.NewResolver(rnd),
		Scorer:    s.service.score,
		EventBus:  s.eb,
	})

	return nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery(), telemetry.HTTPLogger())
	e.Use(cors.New(cors.Config{
		AllowOrigins: s.c.CORS.AllowOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))

	s.grpc = grpc.NewServer(telemetry.GRPCServerOptions()...)

	s.api = api.New(api.Config{
		Router:       e,
		GRPC:         s.grpc,
		EventBus:     s.eb,
		Session:      s.service.session,
		Score:        s.service.score,
		Leaderboard:  s.service.leaderboard,
		Hub:          api.NewHub(),
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
		AuthSecret:   s.c.Auth.Secret,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.api.Close()
	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	if err := s.service.leaderboard.Close(ctx); err != nil {
		slog.ErrorContext(ctx, "server: flush leaderboard failed", "error", err)
	}

	// handlers may still publish notifications
	s.eb.Stop()

	s.closeInfra()

	slog.InfoContext(ctx, "server: shutdown completed")
}

func (s *Server) closeInfra() {
	for name, r := range map[string]redis.UniversalClient{
		"leaderboard": s.infra.redis.leaderboard,
		"pubsub":      s.infra.redis.pubsub,
	} {
		if err := r.Close(); err != nil {
			slog.Error("server: close redis failed", "client", name, "error", err)
		}
	}

	if s.infra.postgres.session != nil {
		s.infra.postgres.session.Close()
	}

	if s.infra.postgres.catalog != nil {
		if sqlDB, err := s.infra.postgres.catalog.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
