package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/landora/backoffice-gate/internal/auth"
	"github.com/landora/backoffice-gate/internal/backoffice"
	"github.com/landora/backoffice-gate/internal/config"
	"github.com/landora/backoffice-gate/internal/db"
	"github.com/landora/backoffice-gate/internal/middleware"
	"github.com/landora/backoffice-gate/internal/session"
	"github.com/landora/backoffice-gate/internal/telemetry/metrics"
	"github.com/landora/backoffice-gate/internal/telemetry/tracing"
	"github.com/landora/backoffice-gate/pkg"

	"github.com/IBM/pgxpoolprometheus"
	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

type Server struct {
	httpServer        *http.Server
	metricsHttpServer *http.Server
	versionInfo       string

	config         *config.Config
	dbPool         *pgxpool.Pool
	redisClient    *redis.Client
	reqRateLimiter middleware.RequestRateLimiter
	sessionManager *session.Manager
	attemptStore   *auth.CacheAttemptStore
	authService    *auth.Service
	auditRepo      *auth.AuditRepo

	// telemetry
	instr        *metrics.Manager
	promRegistry *prometheus.Registry
	otelShutdown func()
}

type NewServerParams struct {
	Config      *config.Config
	Secrets     *config.Secrets
	VersionInfo string
}

func NewServer(
	ctx context.Context,
	params NewServerParams,
) (*Server, error) {
	cfg := params.Config

	var dbPool *pgxpool.Pool
	var promCollectors []prometheus.Collector
	if cfg.AuditEnabled {
		pool, err := db.NewDBPool(ctx, db.NewDBPoolParams{
			DBHost:         cfg.PostgresHost,
			DBPort:         cfg.PostgresPort,
			DBName:         cfg.PostgresDBName,
			TracingEnabled: cfg.TracingEnabled,
		})
		if err != nil {
			return nil, fmt.Errorf("new db pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			log.Warnf("failed to ping db: %s", err)
		}
		dbPool = pool
		promCollectors = append(promCollectors, pgxpoolprometheus.NewCollector(
			dbPool,
			map[string]string{"db_name": cfg.PostgresDBName},
		))
	}

	promRegistry := metrics.SetupPrometheus(promCollectors...)
	instr := metrics.NewManager("backoffice", "gate", promRegistry)
	instr.GaugeLifeSignal.Set(0) // will be set to 1 when all is set and running

	rdb := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.RedisHost, cfg.RedisPort),
		Password: params.Secrets.RedisPassword,
		DB:       0, // use default DB
	})

	rdbStatus := rdb.Ping(ctx)
	if err := rdbStatus.Err(); err != nil {
		log.Errorf("--> failed to ping redis: %s", err)
	} else {
		log.Debugf("redis ping: %s", rdbStatus.Val())
	}

	otelShutdown, err := tracing.Setup(cfg.TracingEnabled, "backoffice-gate")
	if err != nil {
		return nil, err
	}

	sessionManager := session.NewManager(params.Secrets.SessionSecret, session.DefaultTTL)
	attemptStore := auth.NewCacheAttemptStore(auth.AttemptWindow)

	var auditRepo *auth.AuditRepo
	var auditor auth.AuditRecorder
	if dbPool != nil {
		auditRepo = auth.NewAuditRepo(dbPool)
		auditor = auditRepo
	}

	authService := auth.NewService(
		auth.Admin{
			Email:    params.Secrets.AdminEmail,
			Password: params.Secrets.AdminPassword,
		},
		sessionManager,
		attemptStore,
		auditor,
		instr,
	)

	return &Server{
		config:         cfg,
		versionInfo:    params.VersionInfo,
		dbPool:         dbPool,
		redisClient:    rdb,
		reqRateLimiter: redis_rate.NewLimiter(rdb),
		sessionManager: sessionManager,
		attemptStore:   attemptStore,
		authService:    authService,
		auditRepo:      auditRepo,
		instr:          instr,
		promRegistry:   promRegistry,
		otelShutdown:   otelShutdown,
	}, nil
}

func (s *Server) routerSetup() *mux.Router {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("backoffice-gate-router"))

	r.HandleFunc("/", s.handleRoot).Methods("GET", "OPTIONS").Name("root")
	r.HandleFunc("/version", s.handleGetVersionInfo).Methods("GET").Name("version")

	authHandler := auth.NewHandler(auth.NewHandlerParams{
		Service:       s.authService,
		LoginPath:     s.config.LoginPath,
		DashboardPath: s.config.DashboardPath,
		HomePath:      s.config.PublicHomePath,
		CookieMaxAge:  int(session.DefaultTTL.Seconds()),
		SecureCookies: strings.HasPrefix(s.config.Environment, "prod"),
	})
	authHandler.SetupRoutes(r, s.reqRateLimiter, s.instr, s.config.LoginRateLimitAllowedPerMin)

	var auditTrail backoffice.AuditTrail
	if s.auditRepo != nil {
		auditTrail = s.auditRepo
	}
	backofficeHandler := backoffice.NewHandler(
		s.sessionManager,
		auditTrail,
		auth.SessionCookieName,
		s.config.LoginPath,
		s.versionInfo,
	)
	backofficeHandler.SetupRoutes(r)

	// all the rest - unhandled paths
	r.HandleFunc("/{unknown}", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}).Methods("GET", "POST", "PUT", "OPTIONS").Name("unknown")

	authMiddleware := middleware.NewAuthMiddlewareHandler(
		s.sessionManager,
		auth.SessionCookieName,
		s.config.ProtectedPathPrefix,
		s.config.LoginPath,
	)

	r.Use(middleware.PanicRecovery(s.instr))
	r.Use(middleware.LogRequest())
	r.Use(middleware.RequestMetrics(s.instr))
	r.Use(middleware.Cors())
	r.Use(authMiddleware.AuthCheck())
	r.Use(middleware.DrainAndCloseRequest())

	return r
}

func (s *Server) Serve(host string, port int) {
	router := s.routerSetup()

	ipAndPort := net.JoinHostPort(host, strconv.Itoa(port))
	s.httpServer = &http.Server{
		Handler:      router,
		Addr:         ipAndPort,
		WriteTimeout: time.Minute,
		ReadTimeout:  time.Minute,
		ConnState:    s.connStateMetrics,
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.HandlerFor(
		s.promRegistry,
		promhttp.HandlerOpts{},
	))
	metricsAddr := net.JoinHostPort(s.config.PrometheusMetricsHost, s.config.PrometheusMetricsPort)
	s.metricsHttpServer = &http.Server{
		Addr:    metricsAddr,
		Handler: metricsRouter,
	}

	go func() {
		log.Infof(" > server listening on: [%s]", ipAndPort)
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("gate service, listen and serve: %s", err)
		}
	}()

	go func() {
		log.Debugf(" > metrics listening on: [%s]", metricsAddr)
		err := s.metricsHttpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics service, listen and serve: %s", err)
		}
	}()

	s.instr.GaugeLifeSignal.Set(1)
}

func (s *Server) GracefulShutdown() {
	log.Debug("graceful shutdown initiated ...")

	s.instr.GaugeLifeSignal.Set(0)

	s.otelShutdown()
	log.Trace("otel shut down ...")

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			log.Errorf("failed to close redis client conn: %s", err)
		}
	}

	if s.dbPool != nil {
		log.Debugln("closing db pool ...")
		s.dbPool.Close() // blocking operation
		log.Debugln("db pool closed")
	}

	if ok := sentry.Flush(5 * time.Second); ok {
		log.Debugf("sentry flush ok: %t", ok)
	}

	maxWaitDuration := time.Second * 15
	ctx, timeoutCancel := context.WithTimeout(context.Background(), maxWaitDuration)
	defer timeoutCancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Error(" >>> failed to gracefully shutdown http server")
	}
	log.Warnln("server shut down")

	if err := s.metricsHttpServer.Shutdown(ctx); err != nil {
		log.Error(" >>> failed to gracefully shutdown metrics http server")
	}
	log.Warnln("metrics server shut down")
}

func (s *Server) connStateMetrics(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.instr.GaugeRequests.Add(1)
	case http.StateClosed:
		s.instr.GaugeRequests.Add(-1)
	default:
		// do nothing
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	pkg.WriteTextResponseOK(w, "Landora back office gate")
}

func (s *Server) handleGetVersionInfo(w http.ResponseWriter, _ *http.Request) {
	pkg.WriteTextResponseOK(w, s.versionInfo)
}
