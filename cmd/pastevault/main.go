package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pastevault/cfg"
	"pastevault/metrics"
	"pastevault/svc/api"
	"pastevault/svc/blob"
	"pastevault/svc/cache"
	"pastevault/svc/db"
	"pastevault/svc/svc"
	"pastevault/svc/util"

	"github.com/joho/godotenv"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-health" {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		dbPath := os.Getenv("DATABASE_PATH")
		if dbPath == "" {
			dbPath = "pastevault.db"
		}
		sqlDB, err := db.NewSQLite(dbPath)
		if err != nil {
			os.Exit(1)
		}
		defer sqlDB.Close()
		pingCtx, pingCancel := context.WithTimeout(ctx, 1*time.Second)
		defer pingCancel()
		if err := sqlDB.DB().PingContext(pingCtx); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}

	_ = godotenv.Load()

	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}
	defer c.Wipe()
	util.InitLog(c.LogLevel, c.Environment == "development")
	util.Info().Msg("starting pastevault API")
	metrics.Init()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sqlDB, err := db.NewSQLiteWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize database")
		os.Exit(1)
	}
	defer sqlDB.Close()
	util.Info().Str("path", c.DatabasePath).Msg("database initialized")

	var blobs blob.Store
	switch c.BlobBackend {
	case "s3":
		blobs, err = blob.NewS3Store(ctx, c.S3Bucket, c.S3Prefix, c.S3Endpoint)
		if err != nil {
			util.Fatal().Err(err).Msg("failed to initialize s3 blob store")
			os.Exit(1)
		}
		util.Info().Str("bucket", c.S3Bucket).Msg("s3 blob store initialized")
	default:
		blobs, err = blob.NewFSStore(c.UploadDir)
		if err != nil {
			util.Fatal().Err(err).Msg("failed to initialize fs blob store")
			os.Exit(1)
		}
		util.Info().Str("dir", c.UploadDir).Msg("fs blob store initialized")
	}

	var rdb *db.Redis
	if c.RedisURL != "" {
		rdb, err = db.NewRedis(c.RedisURL, c)
		if err != nil {
			if c.Environment == "production" {
				util.Fatal().Err(err).Msg("redis required in production")
				os.Exit(1)
			}
			util.Warn().Err(err).Msg("redis unavailable (dev mode)")
		} else {
			util.Info().Msg("redis connected")
		}
	}
	if rdb != nil {
		defer rdb.Close()
	}

	lruCache, err := cache.NewLRU(c.LRUCacheSize)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to create LRU cache")
		os.Exit(1)
	}
	util.Info().Int("size", c.LRUCacheSize).Msg("LRU cache initialized")

	// Seed the monotonic creation counter from the current row count on
	// first boot. Subsequent boots keep the accumulated value.
	total, err := sqlDB.CountAll(ctx)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to count pastes")
		os.Exit(1)
	}
	stat, err := sqlDB.GetOrCreateStat(ctx, "total_pastes_ever", total)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to seed stats")
		os.Exit(1)
	}
	util.Info().Int64("total_pastes_ever", stat.Value).Msg("stats seeded")

	pasteSvc := svc.NewPaste(sqlDB, blobs, lruCache, rdb, c)
	util.Info().Msg("paste service initialized")

	sweeper := svc.NewSweeper(sqlDB, blobs, c.SweepInterval, c.SweepGrace, c.SweepRate)
	go sweeper.Run(ctx)

	server := api.NewServer(c, pasteSvc, sweeper, sqlDB, rdb)

	quitWAL := make(chan struct{})
	go db.StartWALMaintenance(sqlDB.DB(), quitWAL)
	util.Info().Msg("WAL maintenance worker started")

	util.Info().Str("port", c.Port).Str("environment", c.Environment).Msg("server starting")
	go func() {
		if err := server.Start(); err != nil {
			util.Fatal().Err(err).Msg("server failed")
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	util.Info().Msg("shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		util.Error().Err(err).Msg("server shutdown error")
	}
	cancel()
	close(quitWAL)
	util.Info().Msg("shutdown complete")
}
