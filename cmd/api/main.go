package main

import (
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"schooldesk/internal/config"
	"schooldesk/internal/database"
	"schooldesk/internal/middleware"
	"schooldesk/internal/modules/auth"
	"schooldesk/internal/modules/roster"
	jwtsvc "schooldesk/internal/pkg/jwt"
	"schooldesk/internal/repository"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAuthRuntimeConfig()
	if err != nil {
		log.Fatal(err)
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is empty")
	}

	db, err := database.Connect(dsn)
	if err != nil {
		log.Fatal(err)
	}

	userRepo := repository.NewUserRepository(db)
	rosterRepo := repository.NewRosterRepository(db)

	var ledger auth.RefreshLedger
	if cfg.RedisAddr != "" {
		log.Printf("refresh ledger backend: redis addr=%s", cfg.RedisAddr)
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ledger = repository.NewRedisRefreshLedger(rdb)
	} else {
		ledger = repository.NewRefreshRecordRepository(db)
	}

	j := jwtsvc.New(cfg.JWTSecret, cfg.JWTAccessTTL)

	authService := auth.NewService(userRepo, ledger, j, cfg.RefreshTokenPepper, cfg.RefreshTTL)
	authHandler := auth.NewHandler(authService)

	rosterService := roster.NewService(rosterRepo)
	rosterHandler := roster.NewHandler(rosterService)

	r := gin.Default()
	r.Use(middleware.ErrorLogger())

	gate := middleware.NewRoleGate()

	v1 := r.Group("/api/v1")
	{
		// public
		authHandler.RegisterPublicRoutes(v1)

		// protected: bearer check first, then the role gate
		protected := v1.Group("/")
		protected.Use(middleware.JWTAuth(j), middleware.RequireAccess(gate))
		{
			authHandler.RegisterProtectedRoutes(protected)
			rosterHandler.RegisterRoutes(protected)
		}
	}

	addr := ":" + getEnv("PORT", "8080")
	if err := r.Run(addr); err != nil {
		log.Fatal(err)
	}
}

func getEnv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
