/**
 * Card Scanner - Main Entry Point
 *
 * Turns camera frames of Magic: The Gathering cards into catalog printings.
 *
 * Architecture:
 * - Frame capture from a webcam (gocv) or a watched folder (fsnotify)
 * - Name and collector number bands preprocessed and read with Tesseract
 * - Fuzzy name index over the canonical name list, cached in Redis
 * - Printings resolved against the Postgres catalog mirror, then Scryfall
 * - Asynq worker for scan persistence, catalog sync and index refresh
 * - Gin HTTP control surface for scan sessions
 *
 * Modes:
 *   serve  run the HTTP API and the task worker (default)
 *   scan   recognize one frame and print the result as JSON
 *   sync   load the Scryfall bulk data into the catalog mirror once
 */

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/ogier/pflag"

	"github.com/Epetaway/mtg-proxy-generator/internal/api"
	"github.com/Epetaway/mtg-proxy-generator/internal/capture"
	"github.com/Epetaway/mtg-proxy-generator/internal/catalog"
	"github.com/Epetaway/mtg-proxy-generator/internal/clients"
	"github.com/Epetaway/mtg-proxy-generator/internal/config"
	"github.com/Epetaway/mtg-proxy-generator/internal/logging"
	"github.com/Epetaway/mtg-proxy-generator/internal/mirror"
	"github.com/Epetaway/mtg-proxy-generator/internal/nameindex"
	"github.com/Epetaway/mtg-proxy-generator/internal/ocr"
	"github.com/Epetaway/mtg-proxy-generator/internal/ocr/tesseract"
	"github.com/Epetaway/mtg-proxy-generator/internal/preprocess"
	"github.com/Epetaway/mtg-proxy-generator/internal/queue"
	"github.com/Epetaway/mtg-proxy-generator/internal/resolver"
	"github.com/Epetaway/mtg-proxy-generator/internal/scanner"
	"github.com/Epetaway/mtg-proxy-generator/internal/storage"
	"github.com/Epetaway/mtg-proxy-generator/internal/vision"
)

var (
	envFile   = flag.StringP("env-file", "e", ".env", "file with environment overrides")
	addr      = flag.String("addr", "", "HTTP listen address (overrides LISTEN_ADDR)")
	imagePath = flag.StringP("image", "i", "", "scan mode: read this image instead of the capture source")
	tessdata  = flag.String("tessdata", "", "tessdata directory")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] [serve|scan|sync]\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	os.Exit(run())
}

// run returns the process exit code once every deferred cleanup has run
func run() int {
	logger := logging.NewLogger("cardscan")

	if err := godotenv.Load(*envFile); err != nil {
		logger.Debug("No env file loaded, using system environment variables", "file", *envFile)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		return 1
	}
	logger.SetLevel(logging.ParseLevel(cfg.LogLevel))
	if *addr != "" {
		cfg.ListenAddr = *addr
	}

	mode := "serve"
	if flag.NArg() > 0 {
		mode = flag.Arg(0)
	}
	switch mode {
	case "serve", "scan", "sync":
	default:
		usage()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg, logger)
	defer app.Close()
	if err != nil {
		logger.Error("Failed to initialize", "error", err)
		return 1
	}

	switch mode {
	case "scan":
		err = app.scan(ctx, *imagePath)
	case "sync":
		err = app.sync(ctx)
	default:
		err = app.serve(ctx, cfg)
	}
	if err != nil {
		logger.Error("Command failed", "mode", mode, "error", err)
		return 1
	}
	return 0
}

// app holds the wired components
type app struct {
	logger   *logging.Logger
	device   *capture.Device
	ocr      *ocr.Service
	names    *nameindex.Index
	pipeline *scanner.Pipeline
	manager  *scanner.Manager

	pg       *storage.PostgresClient
	scans    *storage.ScanRecords
	syncer   *mirror.Syncer
	bulk     *clients.BulkClient
	cache    *storage.RedisNameCache
	enqueuer *queue.Enqueuer
}

// build wires every component. On error the partially built app is returned
// so the caller can release what was opened.
func build(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*app, error) {
	a := &app{logger: logger}

	// Capture source
	switch cfg.CaptureSource {
	case config.SourceFolder:
		dir := cfg.FrameDir
		a.device = capture.NewDevice(func(ctx context.Context) (capture.Capturer, error) {
			folder, err := capture.NewFolderCapturer(dir, logger.With("capture"))
			if err != nil {
				return nil, err
			}
			return folder, nil
		})
	default:
		a.device = capture.NewDevice(vision.Opener(cfg.CameraDevice, logger.With("capture")))
	}

	// Preprocessing and OCR
	var binarizer preprocess.Binarizer
	switch cfg.PreprocessBackend {
	case config.BackendOpenCV:
		binarizer = vision.OtsuBinarizer{}
	case config.BackendImaging:
		binarizer = preprocess.NewImagingBinarizer()
	default:
		binarizer = preprocess.PassThrough{}
	}
	pre := preprocess.NewPreprocessor(binarizer, logger.With("preprocess"))

	engine, err := tesseract.NewEngine(tesseract.Config{Language: cfg.OCRLanguage, TessdataPrefix: *tessdata})
	if err != nil {
		return a, err
	}
	a.ocr = ocr.NewService(engine, cfg.OCRTimeout, logger.With("ocr"))
	logger.Info("OCR engine ready", "tesseract", engine.Version(), "backend", pre.Backend())

	// Catalog: Postgres mirror first when configured, Scryfall otherwise
	scryfall, err := clients.NewScryfallClient(logger.With("scryfall"))
	if err != nil {
		return a, err
	}
	var searcher catalog.Searcher = scryfall
	a.bulk = clients.NewBulkClient(cfg.BulkDataURL)

	if cfg.MirrorEnabled() {
		pg, err := storage.NewPostgresClient(cfg.DatabaseURL)
		if err != nil {
			return a, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return a, err
		}
		a.pg = pg
		catalogMirror := storage.NewCatalogMirror(pg)
		searcher = catalog.NewChain(catalogMirror, scryfall, logger.With("catalog"))
		a.scans = storage.NewScanRecords(pg)
		a.syncer = mirror.NewSyncer(a.bulk, mirror.NewPostgresStore(catalogMirror), logger.With("mirror"))
		logger.Info("Catalog mirror enabled")
	}

	// Name index
	var cache nameindex.Cache = nameindex.NewMemoryCache()
	if redisCache, err := storage.NewRedisNameCache(cfg.RedisURL); err != nil {
		logger.Warn("Redis name cache unavailable, using memory cache", "error", err)
	} else {
		a.cache = redisCache
		cache = redisCache
	}
	a.names = nameindex.New(nameindex.Config{
		Source:    scryfall,
		Cache:     cache,
		Threshold: cfg.FuzzyThreshold,
		MaxAge:    cfg.NameCacheMaxAge,
		Logger:    logger.With("names"),
	})

	ranker, err := resolver.RankerFor(cfg.Ranking, cfg.PreferredLang)
	if err != nil {
		return a, err
	}
	res := resolver.New(searcher, logger.With("resolver"),
		resolver.WithRanker(ranker),
		resolver.WithConcurrency(cfg.ResolveConcurrency))

	reader := ocr.NewRegionReader(pre, a.ocr, logger.With("ocr"))
	a.pipeline = scanner.NewPipeline(reader, a.names, res, cfg.SuggestLimit, logger.With("pipeline"))

	mcfg := scanner.ManagerConfig{
		Device:   a.device,
		Pipeline: a.pipeline,
		Resolver: res,
		Index:    a.names,
		Defaults: scanner.Settings{
			Threshold:   cfg.ConfidenceThreshold,
			Interval:    cfg.CaptureInterval,
			TargetCount: cfg.TargetCount,
		},
		ChangeDetection: cfg.ChangeDetection,
		Logger:          logger.With("sessions"),
	}
	if a.scans != nil {
		enqueuer, err := queue.NewEnqueuer(cfg.RedisURL, queue.DefaultQueueName)
		if err != nil {
			logger.Warn("Scan persistence disabled", "error", err)
		} else {
			a.enqueuer = enqueuer
			mcfg.Persister = enqueuer
		}
	}
	a.manager = scanner.NewManager(mcfg)

	return a, nil
}

func (a *app) serve(ctx context.Context, cfg *config.Config) error {
	handlers := &queue.Handlers{Names: a.names, Logger: a.logger.With("tasks")}
	if a.scans != nil {
		handlers.Scans = a.scans
	}
	if a.syncer != nil {
		handlers.Syncer = a.syncer
	}

	consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:    cfg.RedisURL,
		QueueName:   queue.DefaultQueueName,
		Concurrency: cfg.WorkerConcurrency,
		Handlers:    handlers,
		Logger:      a.logger.With("queue"),
	})
	if err != nil {
		return err
	}
	if err := consumer.Start(ctx); err != nil {
		return err
	}
	defer consumer.Stop(context.Background())

	periodicCfg := queue.PeriodicConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         queue.DefaultQueueName,
		NamesRefreshEvery: cfg.NameCacheMaxAge,
		Logger:            a.logger.With("periodic"),
	}
	if a.syncer != nil {
		periodicCfg.SyncCron = cfg.CatalogSyncCron
	}
	periodic, err := queue.NewPeriodic(periodicCfg)
	if err != nil {
		return err
	}
	if err := periodic.Start(); err != nil {
		return err
	}
	defer periodic.Stop()

	// warm the name index in the background; sessions wait for it on create
	go func() {
		if err := a.names.EnsureReady(ctx); err != nil {
			a.logger.Warn("Name index warmup failed", "error", err)
		}
	}()

	checks := map[string]api.Checker{
		"bulk_data": a.bulk.HealthCheck,
	}
	if a.pg != nil {
		checks["postgres"] = a.pg.Ping
	}
	server := api.NewServer(api.Config{
		Manager:      a.manager,
		Names:        a.names,
		SuggestLimit: cfg.SuggestLimit,
		Checks:       checks,
		Logger:       a.logger.With("api"),
	})
	if err := server.Start(cfg.ListenAddr); err != nil {
		return err
	}

	a.logger.Info("Card scanner is ready",
		"addr", cfg.ListenAddr,
		"capture", cfg.CaptureSource,
		"backend", cfg.PreprocessBackend,
		"mirror", a.pg != nil,
		"workers", cfg.WorkerConcurrency)

	<-ctx.Done()
	a.logger.Info("Shutdown signal received, stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server shutdown failed", "error", err)
	}
	return nil
}

func (a *app) scan(ctx context.Context, path string) error {
	var (
		rec *scanner.Recognition
		err error
	)
	if path != "" {
		still, openErr := capture.OpenStill(path)
		if openErr != nil {
			return openErr
		}
		frame, frameErr := still.AcquireFrame(ctx)
		if frameErr != nil {
			return frameErr
		}
		rec, err = a.manager.RecognizeImage(ctx, frame.Image, path)
	} else {
		if err := a.names.EnsureReady(ctx); err != nil {
			return err
		}
		src, acquireErr := a.device.Acquire(ctx, "cli")
		if acquireErr != nil {
			return acquireErr
		}
		defer a.device.Release("cli")
		rec, err = a.pipeline.ScanOnce(ctx, src)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

func (a *app) sync(ctx context.Context) error {
	if a.syncer == nil {
		return fmt.Errorf("catalog mirror is not configured: set DATABASE_URL")
	}
	result, err := a.syncer.Sync(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("Catalog sync finished",
		"skipped", result.Skipped,
		"cards", result.Cards,
		"updated_at", result.UpdatedAt,
		"duration", result.Duration.String())
	return nil
}

// Close releases everything build opened, including after a partial build
func (a *app) Close() {
	if a == nil {
		return
	}
	if a.manager != nil {
		a.manager.Close()
	}
	if a.device != nil {
		a.device.Close()
	}
	if a.enqueuer != nil {
		a.enqueuer.Close()
	}
	if a.cache != nil {
		a.cache.Close()
	}
	if a.ocr != nil {
		a.ocr.Close()
	}
	if a.pg != nil {
		a.pg.Close()
	}
}
