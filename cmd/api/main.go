package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/api"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/auth"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/config"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/jobs"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/ledger"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/log"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/metrics"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/onchain"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/repository"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/service"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/store"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/ws"
	"github.com/ubiquity/ubiquity-dollar-sub001/pkg/kv"
	_ "github.com/ubiquity/ubiquity-dollar-sub001/pkg/kv/memory"
	_ "github.com/ubiquity/ubiquity-dollar-sub001/pkg/kv/redis"
)

// Fixed devnet accounts. The token and jar addresses follow from the
// deployer's nonces, so they are stable across restarts. The dev admin is
// the first account of the well-known hardhat mnemonic, so local tooling can
// sign admin requests.
var (
	proxyAddress    = common.HexToAddress("0x00000000000000000000000000000000000f00d0")
	deployerAddress = common.HexToAddress("0x00000000000000000000000000000000000de910")
	devAdminAddress = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
)

// devSimulator backs the /v1/sim endpoints.
type devSimulator struct {
	jobs.MemoryJarDrifter
	*onchain.Devnet
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewSugar(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infow("Starting yield proxy API server",
		"env", cfg.Env,
		"addr", cfg.HTTPAddr,
		"store", cfg.Store.Backend,
		"journal", cfg.Journal.Backend,
	)

	metricsObj, metricsHandler, err := metrics.Setup("yieldproxy")
	if err != nil {
		logger.Fatalw("Failed to setup metrics", "error", err)
	}

	kvStore, err := kv.NewStoreFromConfig(kv.Config{
		Backend:  cfg.Store.Backend,
		RedisURL: cfg.Store.RedisURL,
	})
	if err != nil {
		logger.Fatalw("Failed to open ledger store", "error", err)
	}
	defer kvStore.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var journal repository.Journal
	switch cfg.Journal.Backend {
	case "postgres":
		journal, err = repository.NewPostgresJournal(ctx, repository.PostgresConfig{
			DSN:      cfg.Journal.PostgresDSN,
			MaxConns: cfg.Journal.MaxConns,
		})
		if err != nil {
			logger.Fatalw("Failed to open journal", "error", err)
		}
	default:
		journal = repository.NewMemoryJournal()
	}
	defer journal.Close()
	logger.Infow("Journal ready", "backend", cfg.Journal.Backend)

	// Empty redis URL selects the in-process cache.
	redisURL := ""
	if cfg.Store.Backend == kv.BackendRedis {
		redisURL = cfg.Store.RedisURL
	}
	cache, err := store.NewCache(redisURL, logger, metricsObj)
	if err != nil {
		logger.Fatalw("Failed to setup cache", "error", err)
	}
	defer cache.Close()

	if err := cache.Ping(ctx); err != nil {
		logger.Fatalw("Cache ping failed", "error", err)
	}

	devnet := onchain.NewDevnet(proxyAddress, deployerAddress, cfg.Vault.StableDecimals)
	stable, dollar, governance, reward := devnet.Bound()

	engine, err := ledger.NewEngine(ledger.Params{
		Self:       proxyAddress,
		Stable:     stable,
		Dollar:     dollar,
		Governance: governance,
		Reward:     reward,
		Chain:      devnet.Chain,
		State:      ledger.NewKVState(kvStore),
		Sink: ledger.MultiSink{
			service.NewJournalSink(journal, logger),
			service.NewCacheInvalidator(cache, logger),
			store.NewEventPublisher(cache, logger),
			metricsObj,
		},
		Logger: logger,
	})
	if err != nil {
		logger.Fatalw("Failed to create ledger", "error", err)
	}

	admin := cfg.Vault.Admin()
	if admin == (common.Address{}) {
		admin = devAdminAddress
		logger.Warnw("YP_ADMIN_ADDRESS unset, using the devnet admin", "admin", admin.Hex())
	}
	if err := engine.Init(ctx, ledger.Genesis{
		Admin:              admin,
		VaultAddress:       devnet.Jar.Address(),
		FeeRateCapBps:      cfg.Vault.FeeRateCapBps,
		StakeCapForZeroFee: cfg.Vault.StakeCap(),
	}); err != nil {
		logger.Fatalw("Failed to initialize vault config", "error", err)
	}

	assets := engine.Assets()
	logger.Infow("Ledger ready",
		"proxy", proxyAddress.Hex(),
		"stable", assets.Stable.Hex(),
		"dollar", assets.Dollar.Hex(),
		"governance", assets.Governance.Hex(),
		"reward", assets.Reward.Hex(),
	)

	vaultSvc := service.NewVaultService(engine, journal, cache, logger, service.Config{
		PositionTTL: cfg.Store.CacheTTL,
	})

	drifter := jobs.MemoryJarDrifter{
		Chain: devnet.Chain,
		Vault: func(ctx context.Context) (common.Address, error) {
			vc, err := engine.Config(ctx)
			return vc.VaultAddress, err
		},
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	wsHub := ws.NewHub(cache, cfg.Security.CORSAllowedOrigins, logger, metricsObj)
	go wsHub.Run(bgCtx)

	publisherConfig := jobs.DefaultSharePricePublisherConfig()
	publisherConfig.Interval = cfg.Jobs.PricePublishInterval
	var pubDrifter jobs.Drifter
	if cfg.IsDev() && cfg.Jobs.SimDriftBps > 0 {
		publisherConfig.DriftBps = cfg.Jobs.SimDriftBps
		pubDrifter = drifter
	}
	publisher := jobs.NewSharePricePublisher(engine, pubDrifter, cache, metricsObj, logger, publisherConfig)
	go func() {
		if err := publisher.Start(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorw("Share price publisher error", "error", err)
		}
	}()

	var sim api.Simulator
	if cfg.IsDev() {
		sim = devSimulator{MemoryJarDrifter: drifter, Devnet: devnet}
		logger.Infow("Simulation endpoints enabled")
	}

	handler := api.NewHandler(vaultSvc, wsHub, cache, sim, cfg, logger, metricsObj)
	router := handler.Routes(api.NewMiddleware(logger, metricsObj), api.RouteOptions{
		CORSOrigins:    cfg.Security.CORSAllowedOrigins,
		MirrorOrigin:   cfg.IsDev(),
		RateLimitRPM:   cfg.Security.RateLimitRPM,
		MetricsHandler: metricsHandler,
		Verifier: auth.NewVerifier(auth.Config{
			MaxSkew: cfg.Security.AuthMaxSkew,
			Nonces:  auth.NewKVNonces(kvStore),
		}),
	})

	logger.Infow("CORS configured", "allowed_origins", cfg.Security.CORSAllowedOrigins)
	logger.Infow("Signed requests required for mutations", "max_skew", cfg.Security.AuthMaxSkew)

	// WriteTimeout stays zero so websocket connections outlive it; REST
	// routes run under the router's request timeout.
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Infow("API server starting", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalw("Server startup failed", "error", err)
		}
	case sig := <-shutdown:
		logger.Infow("Shutdown signal received", "signal", sig.String())
		bgCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Errorw("Graceful shutdown failed", "error", err)
			server.Close()
		}
		logger.Infow("Server stopped")
	}
}
