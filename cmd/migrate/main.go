package main

import (
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/knoxlock/authcore/internal/migration"
	"github.com/knoxlock/authcore/internal/server"
)

func main() {
	command := flag.String("command", "up", "migration command (up/down/status/version/reset)")
	flag.Parse()

	_ = godotenv.Load()

	if os.Getenv("APP_ENV") == "" {
		os.Setenv("APP_ENV", "development")
	}

	logger, err := server.NewLogger(os.Getenv("APP_ENV"))
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := server.LoadConfig(logger)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	migrator, err := migration.NewMigrator(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to create migrator: %v", err)
	}
	defer migrator.Close()

	switch *command {
	case "up":
		if err := migrator.Up(); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		log.Println("Successfully ran migrations")

	case "down":
		if err := migrator.Down(); err != nil {
			log.Fatalf("Failed to rollback migrations: %v", err)
		}
		log.Println("Successfully rolled back migrations")

	case "status":
		if err := migrator.Status(); err != nil {
			log.Fatalf("Failed to get migration status: %v", err)
		}

	case "version":
		version, err := migrator.Version()
		if err != nil {
			log.Fatalf("Failed to get migration version: %v", err)
		}
		log.Printf("Current migration version: %d", version)

	case "reset":
		if err := migrator.Reset(); err != nil {
			log.Fatalf("Failed to reset migrations: %v", err)
		}
		log.Println("Successfully reset migrations")

	default:
		log.Fatalf("Unknown command: %s", *command)
	}
}
