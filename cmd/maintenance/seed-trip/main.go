package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/yatra/booking-backend/internal/config"
	"github.com/yatra/booking-backend/internal/database"
	"github.com/yatra/booking-backend/internal/models"
)

func main() {
	var (
		dbURLFlag string
		tripID    string
		title     string
		capacity  int
		price     float64
		currency  string
	)
	flag.StringVar(&dbURLFlag, "database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	flag.StringVar(&tripID, "trip-id", "", "trip UUID (generated when empty)")
	flag.StringVar(&title, "title", "", "trip title shown on receipts")
	flag.IntVar(&capacity, "capacity", 0, "number of seats")
	flag.Float64Var(&price, "price", 0, "price per person")
	flag.StringVar(&currency, "currency", "NPR", "ISO currency code")
	flag.Parse()

	_ = godotenv.Load()

	dbURL := dbURLFlag
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set and -database-url was not provided")
	}
	if title == "" || capacity < 1 || price < 0 {
		log.Fatal("-title, a positive -capacity and a non-negative -price are required")
	}

	id := uuid.New()
	if tripID != "" {
		parsed, err := uuid.Parse(tripID)
		if err != nil {
			log.Fatalf("invalid -trip-id: %v", err)
		}
		id = parsed
	}

	db, err := database.NewConnection(config.DatabaseConfig{URL: dbURL, MaxConnections: 2, MaxIdleConnections: 1})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	inv := &models.TripInventory{TripID: id, Title: title, Capacity: capacity, UnitPrice: price, Currency: currency}
	if err := database.NewTripInventoryRepository(db.DB).Seed(ctx, inv); err != nil {
		log.Fatalf("failed to seed trip: %v", err)
	}

	fmt.Printf("✅ Trip %s seeded: %q, %d seats at %.2f %s\n", inv.TripID, inv.Title, inv.AvailableSeats, inv.UnitPrice, inv.Currency)
}
