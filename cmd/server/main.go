package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/health"

	"homestack-control-plane/internal/action"
	"homestack-control-plane/internal/action/homeassistant"
	"homestack-control-plane/internal/audit"
	auditrepo "homestack-control-plane/internal/audit/repository"
	"homestack-control-plane/internal/config"
	"homestack-control-plane/internal/conversation"
	"homestack-control-plane/internal/db"
	healthhandler "homestack-control-plane/internal/health/handler"
	identityservice "homestack-control-plane/internal/identity/service"
	instancerepo "homestack-control-plane/internal/instance/repository"
	instanceservice "homestack-control-plane/internal/instance/service"
	intentservice "homestack-control-plane/internal/intent/service"
	"homestack-control-plane/internal/kv"
	"homestack-control-plane/internal/logging"
	"homestack-control-plane/internal/metrics"
	"homestack-control-plane/internal/nlu/ollama"
	"homestack-control-plane/internal/policy/engine"
	"homestack-control-plane/internal/runtime"
	"homestack-control-plane/internal/runtime/dockerapi"
	"homestack-control-plane/internal/runtime/dockercli"
	"homestack-control-plane/internal/runtime/mock"
	"homestack-control-plane/internal/security"
	"homestack-control-plane/internal/server"
	"homestack-control-plane/internal/telemetry"
	telemetryotel "homestack-control-plane/internal/telemetry/otel"
	"homestack-control-plane/internal/telemetry/producer"
	"homestack-control-plane/internal/token"
	tokenrepo "homestack-control-plane/internal/token/repository"
	userrepo "homestack-control-plane/internal/user/repository"
)

const (
	serviceName       = "homestack-control-plane"
	kvPrefix          = "homestack"
	shutdownTimeout   = 15 * time.Second
	readinessInterval = 15 * time.Second
	actionHTTPTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logging is not configured yet.
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("config")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogPretty)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, serviceName, cfg.OTLPInsecure)
	if err != nil {
		return err
	}
	providers.SetGlobal()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(sctx); err != nil {
			logger.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	store, closeKV, err := openKV(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeKV() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	tokens, err := security.LoadTokenProvider(security.TokenSettings{
		PrivateKey: cfg.JWTPrivateKey,
		PublicKey:  cfg.JWTPublicKey,
		Secret:     cfg.JWTSecret,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		AccessTTL:  cfg.AccessTTL(),
		RefreshTTL: cfg.RefreshTTL(),
	})
	if err != nil {
		return err
	}
	auth := identityservice.NewAuthService(
		userrepo.NewPostgresRepository(conn),
		tokenrepo.NewPostgresRepository(conn),
		token.NewDenylist(store, cfg.KVOpTimeout()),
		security.NewHasher(cfg.BcryptCost),
		tokens,
		cfg.PasswordMinLength,
		m,
		logger,
	)

	rt, err := openRuntime(cfg)
	if err != nil {
		return err
	}
	if c, ok := rt.(io.Closer); ok {
		defer c.Close()
	}
	settings, err := instanceservice.SettingsFromConfig(cfg)
	if err != nil {
		return err
	}
	instances := instancerepo.NewPostgresRepository(conn)
	orch := instanceservice.NewOrchestrator(instances, rt, settings, m, logger)

	emitter := eventEmitter(cfg, providers)
	defer closeEmitters(emitter, logger)

	policy, err := engine.NewOPAEvaluator(ctx, cfg.ConfidenceThreshold)
	if err != nil {
		return err
	}
	nluClient := ollama.New(cfg.NLUBaseURL, cfg.NLUModel, cfg.NLUTemperature, &http.Client{}, logger)
	recorder := audit.NewRecorder(auditrepo.NewPostgresRepository(conn), emitter.emitter, logger)

	var executor action.Executor = action.Noop{}
	if cfg.ActionDriver == config.ActionDriverHomeAssistant {
		executor = homeassistant.New(instances, cfg.HAHost, cfg.HAAccessToken, &http.Client{Timeout: actionHTTPTimeout})
	}

	pipeline := intentservice.NewPipeline(intentservice.Deps{
		Verifier: auth,
		Policy:   policy,
		Contexts: conversation.NewStore(store, cfg.ContextWindow, cfg.SessionContextTTL(), cfg.KVOpTimeout(), logger),
		NLU:      nluClient,
		Executor: executor,
		Audit:    recorder,
		Metrics:  m,
	}, cfg.NLURequestTimeout(), logger)

	grpcHealth := health.NewServer()
	healthAPI := healthhandler.NewHealthAPI([]healthhandler.Check{
		{Name: "database", Probe: conn.PingContext},
		{Name: "kv", Probe: store.Ping},
		{Name: "policy", Probe: policy.HealthCheck},
		{Name: "nlu", Probe: nluClient.Health},
		{Name: "runtime", Probe: orch.Ping},
	}, 0, grpcHealth)

	e := server.NewHTTPServer(server.HTTPDeps{
		Auth:                auth,
		Verifier:            auth,
		Intent:              pipeline,
		Instances:           orch,
		Audit:               recorder,
		Health:              healthAPI,
		Emitter:             emitter.emitter,
		Gatherer:            reg,
		InternalToken:       cfg.InternalAPIToken,
		IntentRatePerMinute: cfg.IntentRateLimitPerMinute,
		Logger:              logger,
	})

	errCh := make(chan error, 2)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		gs := server.NewGRPCServer(grpcHealth)
		go func() {
			logger.Info().Str("addr", cfg.GRPCAddr).Msg("grpc health server listening")
			if err := gs.Serve(lis); err != nil {
				errCh <- err
			}
		}()
		defer gs.GracefulStop()
	}
	go healthAPI.Watch(ctx, readinessInterval)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	// Let in-flight async emits finish before the providers and Kafka writer close.
	time.Sleep(telemetry.ShutdownDrainDuration)
	return nil
}

func openKV(cfg *config.Config, logger zerolog.Logger) (kv.Store, func() error, error) {
	if cfg.RedisURL == "" {
		logger.Warn().Msg("REDIS_URL not set, using in-process store")
		s := kv.NewMemoryStore()
		return s, s.Close, nil
	}
	s, err := kv.NewRedisStore(cfg.RedisURL, kvPrefix)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}

func openRuntime(cfg *config.Config) (runtime.Runtime, error) {
	switch cfg.RuntimeDriver {
	case config.RuntimeDriverCLI:
		return dockercli.New(cfg.DockerBinary, cfg.DockerHost), nil
	case config.RuntimeDriverMock:
		return mock.New(), nil
	default:
		return dockerapi.New(cfg.DockerHost)
	}
}

type emitters struct {
	emitter telemetry.EventEmitter
	kafka   producer.Producer
}

// eventEmitter fans events out to the OTel log pipeline and, when configured, Kafka.
func eventEmitter(cfg *config.Config, providers *telemetryotel.Providers) emitters {
	out := emitters{}
	list := []telemetry.EventEmitter{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	if kp := producer.NewKafkaProducer(cfg.TelemetryKafkaBrokersList(), cfg.TelemetryKafkaTopic); kp != nil {
		out.kafka = kp
		list = append(list, kp)
	}
	out.emitter = telemetry.Fanout(list...)
	return out
}

func closeEmitters(e emitters, logger zerolog.Logger) {
	if e.kafka == nil {
		return
	}
	if err := e.kafka.Close(); err != nil {
		logger.Warn().Err(err).Msg("kafka producer close")
	}
}
