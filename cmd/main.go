package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"circulation/internal/handlers"
	"circulation/internal/repositories"
	"circulation/internal/services"
)

func main() {
	// Optional .env for local development; real deployments set the env directly.
	_ = godotenv.Load()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("failed to get generic DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	notifier := services.NewLogNotifier()
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		channel := os.Getenv("REDIS_EVENT_CHANNEL")
		if channel == "" {
			channel = "circulation.events"
		}
		notifier = services.NewMultiNotifier(notifier, services.NewRedisNotifier(rdb, channel))
		log.Printf("publishing lifecycle events to redis channel %q", channel)
	}

	libraryRepo := repositories.NewLibraryRepository(db)
	thingRepo := repositories.NewThingRepository(db)
	itemRepo := repositories.NewItemRepository(db)
	loanRepo := repositories.NewLoanRepository(db)
	userRepo := repositories.NewUserRepository(db)

	loanService := services.NewLoanService(db, loanRepo, itemRepo, thingRepo, userRepo, notifier)
	directoryService := services.NewDirectoryService(db, libraryRepo, thingRepo, itemRepo, userRepo)

	router := gin.Default()
	router.Use(cors.Default())

	handlers.RegisterRoutes(router, loanService, directoryService)

	serverAddr := os.Getenv("SERVER_ADDR")
	if serverAddr == "" {
		serverAddr = ":8080"
	}

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	log.Printf("Starting server on %s", serverAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
