package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/luminnus/lia-backend/config"
	"github.com/luminnus/lia-backend/internal/api/handlers"
	"github.com/luminnus/lia-backend/internal/api/middleware"
	"github.com/luminnus/lia-backend/internal/api/routes"
	"github.com/luminnus/lia-backend/internal/cache"
	"github.com/luminnus/lia-backend/internal/identity"
	"github.com/luminnus/lia-backend/internal/logger"
	"github.com/luminnus/lia-backend/internal/models"
	mongorepo "github.com/luminnus/lia-backend/internal/repositories/mongo"
	pgrepo "github.com/luminnus/lia-backend/internal/repositories/postgres"
	"github.com/luminnus/lia-backend/internal/scope"
	"github.com/luminnus/lia-backend/internal/services"
	"github.com/luminnus/lia-backend/internal/storage"
	"github.com/luminnus/lia-backend/internal/workers"

	"github.com/luminnus/lia-backend/internal/providers/llm"
)

func main() {
	_ = godotenv.Load()

	appLog := logger.New()

	// Init MongoDB
	if err := config.InitMongo(); err != nil {
		log.Fatalf("MongoDB init error: %v", err)
	}
	if err := config.EnsureMongoIndexes(); err != nil {
		log.Fatalf("MongoDB index error: %v", err)
	}
	fmt.Println("MongoDB connected")

	// Init PostgreSQL
	if err := config.InitPostgres(); err != nil {
		log.Fatalf("PostgreSQL init error: %v", err)
	}
	if os.Getenv("AUTO_MIGRATE") == "true" {
		if err := config.PostgresDB.AutoMigrate(
			&models.Conversation{},
			&models.Message{},
			&models.MemoryFact{},
			&models.Profile{},
		); err != nil {
			log.Fatalf("PostgreSQL migrate error: %v", err)
		}
	}
	fmt.Println("PostgreSQL connected")

	// Init Redis
	if err := config.InitRedis(); err != nil {
		log.Fatalf("Redis init error: %v", err)
	}
	fmt.Println("Redis connected")

	ctx := context.Background()

	// Repositories
	convRepo := pgrepo.NewConversationRepo(config.PostgresDB)
	msgRepo := pgrepo.NewMessageRepo(config.PostgresDB)
	memRepo := pgrepo.NewMemoryRepo(config.PostgresDB)
	profRepo := pgrepo.NewProfileRepo(config.PostgresDB)

	dbName := os.Getenv("MONGO_DB")
	if dbName == "" {
		dbName = "lia"
	}
	liveRepo := mongorepo.NewLiveSessionRepo(config.MongoClient.Database(dbName))

	// Services
	policy := identity.PolicyFromEnv()
	liveState := services.NewLiveState()

	convSvc := services.NewConversationService(convRepo, msgRepo)
	memSvc := services.NewMemoryService(memRepo, policy, appLog)
	gate := services.NewMemoryGate()
	resSvc := services.NewResourceService(cache.NewRedisCache(config.RedisClient), convRepo, appLog)
	ctxSvc := services.NewContextService(convSvc, memSvc, resSvc, liveState, appLog)
	liveSvc := services.NewLiveService(liveRepo, ctxSvc, liveState, appLog)
	profSvc := services.NewProfileService(profRepo)

	// LLM provider
	project := os.Getenv("GCP_PROJECT_ID")
	location := os.Getenv("GCP_LOCATION")
	if location == "" {
		location = "us-central1"
	}
	modelName := os.Getenv("GEMINI_MODEL")
	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}
	provider, err := llm.NewVertexGemini(ctx, project, location, modelName)
	if err != nil {
		log.Fatalf("Vertex AI init error: %v", err)
	}

	// Attachment storage (optional: routes still register, uploads fail cleanly
	// without a bucket)
	var uploader storage.Uploader
	if bucket := os.Getenv("GCS_BUCKET"); bucket != "" {
		u, err := storage.NewGCSUploader(ctx, bucket)
		if err != nil {
			log.Fatalf("GCS init error: %v", err)
		}
		uploader = u
	}
	attachSvc := services.NewAttachmentService(uploader)

	// Turn workers
	pool := &workers.TurnWorkerPool{
		Redis:    config.RedisClient,
		Convs:    convSvc,
		Contexts: ctxSvc,
		Memories: memSvc,
		Gate:     gate,
		LLM:      provider,
		Logger:   appLog,
	}
	if err := pool.Start(ctx); err != nil {
		log.Fatalf("turn worker start error: %v", err)
	}

	// HTTP
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(appLog))
	routes.RegisterRoutes(r, routes.Deps{
		Identity:     policy,
		Logger:       appLog,
		Conversation: handlers.NewConversationHandler(convSvc),
		Message:      handlers.NewMessageHandler(convSvc),
		Memory:       handlers.NewMemoryHandler(memSvc, gate),
		Context:      handlers.NewContextHandler(ctxSvc),
		Resource:     handlers.NewResourceHandler(resSvc),
		Live:         handlers.NewLiveHandler(liveSvc),
		Profile:      handlers.NewProfileHandler(profSvc),
		Attachment:   handlers.NewAttachmentHandler(attachSvc),
		WS:           handlers.NewWSHandler(convSvc, scope.NewRegistry(), config.RedisClient),
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
