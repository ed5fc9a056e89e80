package main

import (
	"flag"
	"log"
	"os"

	"github.com/lumenbro/photonbot-turnkey/internal/storage"
)

func main() {
	dsn := flag.String("dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	if err := storage.Migrate(*dsn); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("Migrations applied")
}
