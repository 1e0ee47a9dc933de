package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"schooldesk/internal/database"
	"schooldesk/internal/repository"
)

// Expired refresh records, and revoked ones past the retention window,
// are deleted here rather than inline at rotation time. Run from cron.
// The Redis ledger backend expires its own keys and does not need this.
const revokedRetention = 30 * 24 * time.Hour

func main() {
	_ = godotenv.Load()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := database.Connect(databaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}

	ledger := repository.NewRefreshRecordRepository(db)

	deleted, err := ledger.DeleteExpired(context.Background(), time.Now(), revokedRetention)
	if err != nil {
		log.Fatalf("cleanup refresh_records failed: %v", err)
	}

	log.Printf("auth cleanup completed: refresh_records=%d", deleted)
}
