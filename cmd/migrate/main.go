package main

import (
	"fmt"
	"log"
	"os"

	"github.com/zfogg/orbit/internal/config"
	"github.com/zfogg/orbit/internal/database"
	"github.com/zfogg/orbit/internal/logger"
	"go.uber.org/zap"
)

func main() {
	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "up":
		run(migrateUp)
	case "down":
		run(migrateDown)
	case "status":
		run(status)
	default:
		fmt.Println("Usage: migrate [up|down|status]")
		fmt.Println("  up     - Create or update all tables and indexes")
		fmt.Println("  down   - Drop every orbit table (destroys data)")
		fmt.Println("  status - Show which tables exist")
		os.Exit(1)
	}
}

func run(step func(*zap.Logger, *database.Migrator) error) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	zapLog, err := logger.Initialize(cfg.LogLevel, "")
	if err != nil {
		log.Fatalf("❌ Failed to initialize logger: %v", err)
	}
	defer logger.Close()

	zapLog.Info("🔄 Connecting to database...")
	db, err := database.Open(cfg.DatabaseURL, zapLog, false)
	if err != nil {
		zapLog.Fatal("❌ Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	if err := step(zapLog, database.NewMigrator(db)); err != nil {
		zapLog.Fatal("❌ Migration failed", zap.Error(err))
	}
}

func migrateUp(log *zap.Logger, m *database.Migrator) error {
	log.Info("📈 Running migrations...")
	if err := m.Up(); err != nil {
		return err
	}
	log.Info("✅ All migrations completed successfully!")
	return nil
}

func migrateDown(log *zap.Logger, m *database.Migrator) error {
	log.Warn("⚠️  Dropping all orbit tables")
	if err := m.Down(); err != nil {
		return err
	}
	log.Info("✅ Tables dropped")
	return nil
}

func status(_ *zap.Logger, m *database.Migrator) error {
	for _, t := range m.Status() {
		mark := "missing"
		if t.Exists {
			mark = "ok"
		}
		fmt.Printf("%-24s %s\n", t.Table, mark)
	}
	return nil
}
