package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"polyarb/internal/analyzer"
	"polyarb/internal/client/clob"
	"polyarb/internal/client/embed"
	"polyarb/internal/client/gamma"
	"polyarb/internal/client/llm"
	"polyarb/internal/cluster"
	"polyarb/internal/config"
	cronrunner "polyarb/internal/cron"
	"polyarb/internal/db"
	"polyarb/internal/handler"
	"polyarb/internal/logger"
	gormrepository "polyarb/internal/repository/gorm"
	"polyarb/internal/scan"
	"polyarb/internal/strategy"
	"polyarb/internal/validation"
)

func main() {
	once := flag.Bool("once", false, "run a single scan, print the report as JSON, and exit")
	flag.Parse()

	cfgPath := os.Getenv("PA_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}
	envOnly := false
	if envOnlyRaw := os.Getenv("PA_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// A DSN is optional: one-shot scans work without persistence.
	var dbConn *db.DB
	if strings.TrimSpace(cfg.DB.DSN) != "" {
		dbConn, err = db.Open(cfg.DB)
		if err != nil {
			logger.Fatal("db open failed", zap.Error(err))
		}
		defer db.Close(dbConn)
		if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
			logger.Warn("failed to set timezone", zap.Error(err))
		}
		if err := db.AutoMigrate(dbConn); err != nil {
			logger.Fatal("auto-migrate failed", zap.Error(err))
		}
	} else if !*once {
		logger.Warn("no db.dsn configured, scan reports will not be persisted")
	}

	gammaClient := gamma.NewClient(cfg.Gamma, cfg.Rate, cfg.Concurrency.NSource, logger)
	clobClient := clob.NewClient(cfg.ClobREST, cfg.Rate, cfg.Concurrency.NBook, logger)
	llmClient := llm.NewClient(cfg.LLM, cfg.Rate, logger)
	embedClient := embed.NewClient(cfg.Embed, cfg.Rate, logger)

	pairAnalyzer := analyzer.New(llmClient, cfg.Concurrency.NLLM, cfg.LLM.MaxCalls, logger)
	clusterer := cluster.New(embedClient, cfg.Concurrency.NEmbed, cfg.Scan.SimilarityCutoff, logger)

	params := strategy.DefaultParams()
	params.MonoTolerance = cfg.Thresholds.Mono
	params.ImplConfidence = cfg.Thresholds.Impl
	params.EquivConfidence = cfg.Thresholds.Equiv
	params.ExhConfidence = cfg.Thresholds.Exhaustive
	params.ProfitEpsilon = cfg.Scan.ProfitEpsilon
	params.EquivEpsilon = cfg.Scan.EquivEpsilon
	params.ExhaustiveEpsilon = cfg.Scan.ExhaustiveEpsilon
	params.DeadlineTolerance = cfg.Scan.DeadlineTolerance
	params.OptimalOnly = cfg.Scan.OptimalOnly
	strategies := strategy.Registry(cfg.Strategies.Enabled, params, pairAnalyzer, pairAnalyzer, logger)

	engine := &validation.Engine{
		Params: validation.Params{
			TargetSizeUSD:     cfg.Scan.TargetSizeUSD,
			MinLiquidityUSD:   cfg.Scan.MinLiquidityUSD,
			MinAPY:            cfg.Scan.MinAPY,
			ProfitEpsilon:     cfg.Scan.ProfitEpsilon,
			PlanMaxAge:        cfg.Scan.PlanMaxAge,
			DeadlineTolerance: cfg.Scan.DeadlineTolerance,
		},
		Books:  clobClient,
		Logger: logger,
	}

	svc := &scan.Service{
		Orchestrator: &scan.Orchestrator{
			Catalog:    gammaClient,
			Clusterer:  clusterer,
			Strategies: strategies,
			Validator:  engine,
			Analyzer:   pairAnalyzer,
			Cfg:        cfg.Scan,
			Logger:     logger,
		},
		Logger: logger,
	}
	if dbConn != nil {
		svc.Repo = gormrepository.New(dbConn.Gorm)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checkTags(ctx, gammaClient, cfg.Scan.Tags, logger)

	if *once {
		runOnce(ctx, svc, logger)
		return
	}
	serve(ctx, cfg, svc, dbConn, logger)
}

// checkTags verifies the configured tag slugs against the venue tag
// catalog. A typoed slug would otherwise just yield an empty scan, so
// unknown slugs are surfaced up front. Best effort only.
func checkTags(ctx context.Context, catalog *gamma.Client, tags []string, logger *zap.Logger) {
	known, err := catalog.FetchTags(ctx)
	if err != nil {
		logger.Warn("tag catalog unavailable, skipping tag check", zap.Error(err))
		return
	}
	bySlug := make(map[string]struct{}, len(known))
	for _, t := range known {
		bySlug[t.Slug] = struct{}{}
	}
	for _, tag := range tags {
		if _, ok := bySlug[tag]; !ok {
			logger.Warn("configured tag not in venue catalog", zap.String("tag", tag))
		}
	}
}

func runOnce(ctx context.Context, svc *scan.Service, logger *zap.Logger) {
	report, err := svc.Trigger(ctx)
	if err != nil && report == nil {
		logger.Fatal("scan failed", zap.Error(err))
	}
	out, merr := json.MarshalIndent(report, "", "  ")
	if merr != nil {
		logger.Fatal("report marshal failed", zap.Error(merr))
	}
	os.Stdout.Write(out)
	os.Stdout.Write([]byte("\n"))
	if err != nil {
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg config.Config, svc *scan.Service, dbConn *db.DB, logger *zap.Logger) {
	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{}
	if dbConn != nil {
		healthHandler.DB = dbConn.Gorm
	}
	healthHandler.Register(engine)

	scanHandler := &handler.ScanHandler{Service: svc, Repo: svc.Repo}
	scanHandler.Register(engine)
	oppHandler := &handler.OpportunityHandler{Repo: svc.Repo}
	oppHandler.Register(engine)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled {
		if _, err := cronRunner.Add(cfg.Cron.Scan, "scan", func(ctx context.Context) error {
			_, err := svc.Trigger(ctx)
			if err != nil && !errors.Is(err, scan.ErrScanInProgress) {
				return err
			}
			return nil
		}); err != nil {
			logger.Warn("cron register scan failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
