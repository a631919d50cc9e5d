// Command admin is the operator CLI for the announcement workflow: list
// pending requests, approve once the payment is verified, or reject.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"talkstage/backend/internal/announce"
	"talkstage/backend/internal/config"
	"talkstage/backend/internal/models"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if cfg.DatabaseDSN == "" {
		log.Fatal("database_dsn is required")
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	storage, err := announce.NewGormStorage(db)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}
	svc := announce.NewService(storage, nil, cfg, zerolog.Nop())

	if len(os.Args) < 2 {
		usage()
	}
	ctx := context.Background()

	switch os.Args[1] {
	case "pending":
		reqs, err := svc.Pending(ctx)
		if err != nil {
			log.Fatalf("listing pending requests: %v", err)
		}
		if len(reqs) == 0 {
			fmt.Println("No pending requests.")
			return
		}
		for _, req := range reqs {
			printRequest(req)
		}

	case "approve":
		if len(os.Args) < 3 {
			fmt.Println("Usage: admin approve <request_id> [admin_name]")
			os.Exit(1)
		}
		id := parseID(os.Args[2])
		admin := "admin"
		if len(os.Args) > 3 {
			admin = os.Args[3]
		}
		a, err := svc.Approve(ctx, id, admin)
		if err != nil {
			log.Fatalf("approving request %d: %v", id, err)
		}
		fmt.Printf("Request %d approved. Announcement #%d runs until %s.\n",
			id, a.ID, a.ExpiresAt.Format(time.RFC3339))

	case "reject":
		if len(os.Args) < 4 {
			fmt.Println("Usage: admin reject <request_id> <reason...>")
			os.Exit(1)
		}
		id := parseID(os.Args[2])
		reason := strings.Join(os.Args[3:], " ")
		if err := svc.Reject(ctx, id, "admin", reason); err != nil {
			log.Fatalf("rejecting request %d: %v", id, err)
		}
		fmt.Printf("Request %d rejected: %s\n", id, reason)

	default:
		usage()
	}
}

func usage() {
	fmt.Println("Usage: admin <pending|approve|reject> [args]")
	os.Exit(1)
}

func parseID(raw string) uint {
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		fmt.Println("Invalid request ID. Please provide a positive integer.")
		os.Exit(1)
	}
	return uint(id)
}

func printRequest(req models.AnnouncementRequest) {
	fmt.Printf("#%d  [%s]  ₱%d / %d min  from %s\n    %s\n",
		req.ID, req.CreatedAt.Format("2006-01-02 15:04"),
		req.PaymentAmount, req.DurationMinutes, req.RequesterID, req.Message)
}
