package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/yatra/booking-backend/internal/config"
	"github.com/yatra/booking-backend/internal/database"
)

func main() {
	var dbURLFlag string
	var keepInventory bool
	flag.StringVar(&dbURLFlag, "database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	flag.BoolVar(&keepInventory, "keep-inventory", true, "keep trip_inventory rows and reset their availability to capacity")
	flag.Parse()

	// Try loading .env from current working directory (optional)
	_ = godotenv.Load()

	dbURL := dbURLFlag
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set and -database-url was not provided")
	}

	// Build minimal database config without loading full app config
	dbCfg := config.DatabaseConfig{
		URL:                dbURL,
		MaxConnections:     5,
		MaxIdleConnections: 2,
	}

	db, err := database.NewConnection(dbCfg)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	tables := []string{"payment_audits", "bookings"}
	if !keepInventory {
		tables = append(tables, "trip_inventory")
	}

	fmt.Println("Connected to database. Truncating booking tables...")

	tx, err := db.Beginx()
	if err != nil {
		log.Fatalf("failed to begin transaction: %v", err)
	}
	for _, t := range tables {
		if _, err := tx.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", t)); err != nil {
			_ = tx.Rollback()
			log.Fatalf("failed to truncate %s: %v", t, err)
		}
	}
	if keepInventory {
		if _, err := tx.Exec(`UPDATE trip_inventory SET available_seats = capacity, updated_at = NOW()`); err != nil {
			_ = tx.Rollback()
			log.Fatalf("failed to reset inventory: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		log.Fatalf("failed to commit: %v", err)
	}

	fmt.Println("Booking data cleared successfully.")

	// Verify by printing row counts for each table
	fmt.Println("Post-clear row counts:")
	for _, t := range []string{"payment_audits", "bookings", "trip_inventory"} {
		var count int
		if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", t)).Scan(&count); err != nil {
			fmt.Printf("  %s: error: %v\n", t, err)
			continue
		}
		fmt.Printf("  %s: %d\n", t, count)
	}
}
