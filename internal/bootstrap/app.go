package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"

	"farmassist-backend/internal/detections"
	"farmassist-backend/internal/provider"
	"farmassist-backend/internal/provider/gemini"
	"farmassist-backend/internal/provider/groq"
	"farmassist-backend/internal/provider/huggingface"
	"farmassist-backend/internal/services/health"
	"farmassist-backend/internal/shared/config"
	"farmassist-backend/internal/shared/server"
	"farmassist-backend/internal/shared/storage/db"
	"farmassist-backend/internal/shared/storage/object"
	localstore "farmassist-backend/internal/shared/storage/object/local"
	s3store "farmassist-backend/internal/shared/storage/object/s3"
)

// App holds shared dependencies wired at startup.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB
	Store  object.ObjectStore

	Repo             detections.Repo
	Selector         *provider.Selector
	Engine           *detections.Engine
	DetectionService *detections.Service
	DetectionHandler *detections.Handler
	Health           *health.Service
}

// Build prepares dependencies and the router.
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

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		Store:  store,
		Health: health.NewService(),
	}
	buildServices(app)

	app.Router = server.NewRouter(server.RouterDeps{
		Config:           app.Config,
		DetectionHandler: app.DetectionHandler,
		Health:           app.Health,
		Store:            app.Store,
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
	if db.IsLambdaRuntime() {
		opts = db.OptionsFromEnv(db.DefaultLambdaOptions())
	}
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory repository: %v", err)
			return nil, nil
		}
		return nil, err
	}

	if err := db.RunMigrations(ctx, sqlDB); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildServices(app *App) {
	cfg := app.Config

	var repo detections.Repo
	if app.DB != nil {
		repo = &detections.PGRepo{DB: app.DB}
	} else {
		repo = detections.NewMemoryRepo()
	}
	app.Repo = repo

	app.Selector = provider.NewSelector(
		groq.NewClient(cfg.GroqAPIKey, cfg.GroqModel),
		gemini.NewClient(cfg.GeminiAPIKey, cfg.GeminiModel),
		huggingface.NewClient(cfg.HuggingFaceAPIKey),
	)
	app.Engine = &detections.Engine{Repo: repo, Analyzer: app.Selector}
	app.DetectionService = &detections.Service{
		Repo:            repo,
		Engine:          app.Engine,
		Store:           app.Store,
		PublicBaseURL:   cfg.PublicBaseURL,
		DefaultProvider: cfg.DefaultProvider,
	}
	app.DetectionHandler = detections.NewHandler(app.DetectionService)
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
