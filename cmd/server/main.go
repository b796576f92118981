package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"credverify/internal/audit"
	audithandler "credverify/internal/audit/handler"
	auditkafka "credverify/internal/audit/store/kafka"
	auditmemory "credverify/internal/audit/store/memory"
	auditpostgres "credverify/internal/audit/store/postgres"
	"credverify/internal/ledger"
	"credverify/internal/platform/config"
	"credverify/internal/platform/httpserver"
	"credverify/internal/platform/logger"
	"credverify/internal/platform/metrics"
	"credverify/internal/platform/redis"
	"credverify/internal/ratelimit"
	ratelimitmemory "credverify/internal/ratelimit/store/memory"
	ratelimitredis "credverify/internal/ratelimit/store/redis"
	sessionhandler "credverify/internal/session/handler"
	sessionmetrics "credverify/internal/session/metrics"
	sessionservice "credverify/internal/session/service"
	httptransport "credverify/internal/transport/http"
	"credverify/internal/verify/alias"
	aliasmemory "credverify/internal/verify/alias/store/memory"
	aliasredis "credverify/internal/verify/alias/store/redis"
	"credverify/internal/verify/fetcher"
	verifyhandler "credverify/internal/verify/handler"
	"credverify/internal/verify/metadata"
	verifymetrics "credverify/internal/verify/metrics"
	"credverify/internal/verify/receipt"
	verifyservice "credverify/internal/verify/service"
	"credverify/internal/verify/view"
	"credverify/internal/wallet/provider"
	"credverify/internal/wallet/provider/rpcbridge"
	"credverify/pkg/domain"
	"credverify/pkg/platform/circuit"
	"credverify/pkg/platform/middleware/admin"
	clientmeta "credverify/pkg/platform/middleware/metadata"
)

const startupTimeout = 15 * time.Second

// main wires dependencies, serves HTTP and shuts down on SIGINT/SIGTERM.
// Business logic lives in internal service packages.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	contract, err := domain.ParseAddress(cfg.Ledger.ContractAddress)
	if err != nil {
		return fmt.Errorf("ledger.contract_address: %w", err)
	}
	m := metrics.New()

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	// Audit: bounded publisher drained by a worker into postgres or memory.
	var auditStore audit.Store = auditmemory.NewInMemoryStore()
	if cfg.Audit.PostgresDSN != "" {
		pg, err := auditpostgres.Connect(startCtx, cfg.Audit.PostgresDSN)
		if err != nil {
			return fmt.Errorf("audit store: %w", err)
		}
		defer pg.Close()
		auditStore = pg
	}
	var sinks []audit.Sink
	if brokers := cfg.Audit.KafkaBrokers; len(brokers) > 0 {
		sink, err := auditkafka.New(startCtx, brokers, cfg.Audit.KafkaTopic, cfg.Audit.KafkaPartitions)
		if err != nil {
			return fmt.Errorf("audit kafka sink: %w", err)
		}
		defer sink.Close()
		sinks = append(sinks, sink)
	}
	publisher := audit.NewPublisher(
		audit.WithBufferSize(cfg.Audit.BufferSize),
		audit.WithLogger(log),
		audit.WithRegisterer(m.Registry),
	)
	worker := audit.NewWorker(audit.Tee(auditStore, sinks...), publisher.Events(), log)

	redisClient, err := redis.New(startCtx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Ledger: public read-only handle plus the signer-bound one from sessions.
	ledgerClient, err := ethclient.DialContext(startCtx, cfg.Ledger.RPCURL)
	if err != nil {
		return fmt.Errorf("dial ledger rpc: %w", err)
	}
	defer ledgerClient.Close()
	public := ledger.NewContract(contract, ledgerClient)

	env := dialWallets(startCtx, cfg.Wallet, log)
	defer env.close()

	verifyMetrics := verifymetrics.New(m.Registry)
	breaker := circuit.New("metadata-gateway",
		circuit.WithFailureThreshold(cfg.Metadata.FailureThreshold),
		circuit.WithSuccessThreshold(cfg.Metadata.SuccessThreshold),
	)

	chain := cfg.Ledger.Chain
	manager, err := sessionservice.New(
		env.environment,
		provider.Kind(cfg.Wallet.TargetKind),
		provider.NewRequiredChain(domain.ChainID(chain.ID), chain.Name, provider.NativeCurrency{
			Name:     chain.Currency.Name,
			Symbol:   chain.Currency.Symbol,
			Decimals: chain.Currency.Decimals,
		}, chain.RPCURLs, chain.ExplorerURL),
		ledger.ProviderBinder(contract),
		sessionservice.WithLogger(log),
		sessionservice.WithMetrics(sessionmetrics.New(m.Registry)),
		sessionservice.WithAuditor(publisher),
		// A network change invalidates what the gateway breaker learned
		// through the previous session.
		sessionservice.WithReinitHook(breaker.Reset),
	)
	if err != nil {
		return err
	}
	defer manager.Close()
	if err := manager.Restore(startCtx); err != nil {
		log.Info("no wallet session restored", "error", err)
	}

	names, aliasClient, err := aliasCache(startCtx, cfg, redisClient, verifyMetrics, log)
	if err != nil {
		return err
	}
	defer aliasClient.Close()

	resolver := metadata.NewResolver(cfg.Metadata.PrimaryGateway,
		metadata.WithLogger(log),
		metadata.WithMetrics(verifyMetrics),
		metadata.WithFallbackGateway(cfg.Metadata.FallbackGateway),
		metadata.WithTimeout(cfg.Metadata.Timeout),
		metadata.WithProbeTimeout(cfg.Metadata.ProbeTimeout),
		metadata.WithMaxDocumentBytes(cfg.Metadata.MaxDocumentBytes),
		metadata.WithBreaker(breaker),
	)
	verifier, err := verifyservice.New(
		ledger.NewSelector(public, manager),
		fetcher.New(fetcher.WithLogger(log)),
		resolver,
		names,
		view.NewAssembler(resolver.Gateway(), cfg.Verify.PublicBaseURL,
			view.WithElision(cfg.Verify.ElideHead, cfg.Verify.ElideTail)),
		verifyservice.WithLogger(log),
		verifyservice.WithMetrics(verifyMetrics),
		verifyservice.WithAuditor(publisher),
	)
	if err != nil {
		return err
	}

	var verifyMiddleware []func(http.Handler) http.Handler
	if cfg.RateLimit.Enabled {
		verifyMiddleware = append(verifyMiddleware, rateLimiter(cfg.RateLimit, redisClient, m, log).Middleware)
	}

	health := map[string]httptransport.HealthCheck{
		"ledger": func(ctx context.Context) error {
			_, err := ledgerClient.ChainID(ctx)
			return err
		},
	}
	if redisClient != nil {
		health["redis"] = redisClient.Health
	}
	modules := []httptransport.Registrar{
		sessionhandler.New(manager, log, cfg.Verify.PublicBaseURL+"/"),
		verifyhandler.New(verifier, log, verifyMiddleware...),
		audithandler.New(auditStore, log, admin.RequireAdminToken(cfg.Audit.AdminToken, log)),
	}
	if cfg.Verify.ReceiptKey != "" {
		signer := receipt.NewSigner(cfg.Verify.ReceiptKey, cfg.Verify.PublicBaseURL, cfg.Verify.ReceiptTTL)
		modules = append(modules, receipt.NewHandler(verifier, signer, log, verifyMiddleware...))
	}
	trusted, err := clientmeta.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return fmt.Errorf("server.trusted_proxies: %w", err)
	}
	router := httptransport.NewRouter(httptransport.Dependencies{
		Logger:         log,
		Metrics:        m,
		Modules:        modules,
		Health:         health,
		TrustedProxies: trusted,
	})
	srv := httpserver.New(cfg.Server.Addr, router)
	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
	}
	log.Info("starting credverify", "addr", ln.Addr().String(), "chain_id", chain.ID, "contract", contract.Hex())
	return serve(ctx, srv, ln, worker, publisher, cfg.Server.ShutdownTimeout, log)
}

// aliasCache resolves reverse names on the alias network, memoized in redis
// when enabled and in process otherwise. The caller closes the returned client.
func aliasCache(ctx context.Context, cfg *config.Config, rc *redis.Client, m *verifymetrics.Metrics, log *slog.Logger) (*alias.Cache, *ethclient.Client, error) {
	registry, err := domain.ParseAddress(cfg.Alias.Registry)
	if err != nil {
		return nil, nil, fmt.Errorf("alias.registry: %w", err)
	}
	client, err := ethclient.DialContext(ctx, cfg.Alias.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial alias rpc: %w", err)
	}

	var store alias.Store = aliasmemory.New()
	if cfg.Alias.RedisEnabled && rc != nil {
		store = aliasredis.New(rc.Client, cfg.Alias.RedisTTL)
	}
	return alias.New(alias.NewENSResolver(client, registry), store,
		alias.WithTimeout(cfg.Alias.Timeout),
		alias.WithLogger(log),
		alias.WithMetrics(m),
	), client, nil
}

// rateLimiter bounds verification requests per client IP, shared through
// redis when enabled.
func rateLimiter(cfg config.RateLimitConfig, rc *redis.Client, m *metrics.Metrics, log *slog.Logger) *ratelimit.Limiter {
	var store ratelimit.Store = ratelimitmemory.New(time.Now)
	if cfg.RedisEnabled && rc != nil {
		store = ratelimitredis.New(rc.Client, time.Now)
	}
	return ratelimit.New(store, cfg.Requests, cfg.Window,
		ratelimit.WithLogger(log),
		ratelimit.WithRegisterer(m.Registry),
	)
}

// wallets holds the bridges dialed at startup.
type wallets struct {
	env     provider.Environment
	bridges []*rpcbridge.Bridge
}

func (w *wallets) environment() provider.Environment {
	return w.env
}

func (w *wallets) close() {
	for _, b := range w.bridges {
		b.Close()
	}
}

// dialWallets connects to every configured wallet bridge. Unreachable
// bridges are skipped; with none the session reports provider_not_found.
func dialWallets(ctx context.Context, cfg config.WalletConfig, log *slog.Logger) *wallets {
	w := &wallets{}
	dial := func(ep config.WalletEndpoint) provider.Provider {
		b, err := rpcbridge.Dial(ctx, ep.URL, provider.ParseKinds(ep.Kinds),
			rpcbridge.WithLogger(log),
			rpcbridge.WithPollInterval(cfg.PollInterval),
		)
		if err != nil {
			log.Warn("wallet bridge unavailable", "url", ep.URL, "error", err)
			return nil
		}
		w.bridges = append(w.bridges, b)
		return b
	}
	if cfg.Primary != nil {
		if p := dial(*cfg.Primary); p != nil {
			w.env.Primary = p
		}
	}
	for _, ep := range cfg.Providers {
		if p := dial(ep); p != nil {
			w.env.Providers = append(w.env.Providers, p)
		}
	}
	return w
}
