// Package bootstrap constructs the application dependency graph.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"

	"docmanager-backend/internal/documents"
	"docmanager-backend/internal/extract"
	"docmanager-backend/internal/ocr"
	"docmanager-backend/internal/ocrwork"
	"docmanager-backend/internal/queue"
	"docmanager-backend/internal/shared/config"
	"docmanager-backend/internal/shared/server"
	"docmanager-backend/internal/shared/storage/db"
	"docmanager-backend/internal/shared/storage/object"
	localstore "docmanager-backend/internal/shared/storage/object/local"
	s3store "docmanager-backend/internal/shared/storage/object/s3"
)

// App holds shared dependencies.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB
	Store  object.ObjectStore

	Queue    *queue.Memory
	WorkPool *ocrwork.Pool

	DocumentsRepo    documents.Repo
	DocumentsService *documents.Service
	DocumentsHandler *documents.Handler
}

// Build prepares shared dependencies and wires the router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var repo documents.Repo
	if sqlDB != nil {
		repo = &documents.PGRepo{DB: sqlDB}
	} else {
		repo = documents.NewMemoryRepo()
	}

	engine := ocr.NewTesseract(ocr.Config{
		DataPath:    cfg.TessdataPrefix,
		Languages:   cfg.OCRLanguages,
		PageSegMode: cfg.OCRPageSegMode,
	})
	extractor := extract.New(engine, ocr.NewFitzRenderer(), cfg.OCRRenderDPI)

	q := queue.NewMemory(cfg.OCRQueueSize)

	svc := &documents.Service{
		Repo:      repo,
		Store:     store,
		Extractor: extractor,
		Queue:     q,
	}

	pool := ocrwork.NewPool(q, svc, ocrwork.Config{
		Workers:    cfg.OCRWorkers,
		JobTimeout: cfg.OCRJobTimeout,
	})

	app := &App{
		Config:           cfg,
		DB:               sqlDB,
		Store:            store,
		Queue:            q,
		WorkPool:         pool,
		DocumentsRepo:    repo,
		DocumentsService: svc,
		DocumentsHandler: documents.NewHandler(svc, cfg.MaxUploadBytes),
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:           cfg,
		DocumentsHandler: app.DocumentsHandler,
	})

	return app, nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repository")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	opts := db.OptionsFromEnv(db.DefaultServerOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory repository: %v", err)
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
