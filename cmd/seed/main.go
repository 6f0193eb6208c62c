package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/zfogg/orbit/internal/auth"
	"github.com/zfogg/orbit/internal/config"
	"github.com/zfogg/orbit/internal/database"
	"github.com/zfogg/orbit/internal/logger"
	"github.com/zfogg/orbit/internal/models"
	"github.com/zfogg/orbit/internal/seed"
	"go.uber.org/zap"
)

func main() {
	command := "dev"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	flags := flag.NewFlagSet(command, flag.ExitOnError)
	userCount := flags.Int("users", 20, "number of random users (dev only)")
	tokenTTL := flags.Duration("token-ttl", 24*time.Hour, "lifetime of the printed tokens")
	if len(os.Args) > 2 {
		_ = flags.Parse(os.Args[2:])
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	zapLog, err := logger.Initialize(cfg.LogLevel, "")
	if err != nil {
		log.Fatalf("❌ Failed to initialize logger: %v", err)
	}
	defer logger.Close()

	db, err := database.Open(cfg.DatabaseURL, zapLog, false)
	if err != nil {
		zapLog.Fatal("❌ Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	if err := database.Migrate(db); err != nil {
		zapLog.Fatal("❌ Failed to run migrations", zap.Error(err))
	}

	ctx := context.Background()
	seeder := seed.NewSeeder(db)

	var users []models.User
	switch command {
	case "dev":
		zapLog.Info("🌱 Seeding development database...", zap.Int("users", *userCount))
		users, err = seeder.SeedDev(ctx, *userCount)
	case "test":
		zapLog.Info("🌱 Seeding test database...")
		users, err = seeder.SeedTest(ctx)
	case "clean":
		zapLog.Warn("🧹 Removing all messaging data and users")
		err = seeder.Clean(ctx)
	default:
		fmt.Println("Usage: seed [dev|test|clean] [-users N] [-token-ttl 24h]")
		fmt.Println("  dev   - Seed random users and conversations")
		fmt.Println("  test  - Seed the fixed test users (alice, bob, charlie, diana, eve)")
		fmt.Println("  clean - Remove all seed data (use with caution)")
		os.Exit(1)
	}
	if err != nil {
		zapLog.Fatal("❌ Seeding failed", zap.Error(err))
	}
	if len(users) == 0 {
		zapLog.Info("✅ Done")
		return
	}

	tokens, err := seed.Tokens(auth.NewVerifier(cfg.JWTSecret), users, *tokenTTL)
	if err != nil {
		zapLog.Fatal("❌ Failed to sign tokens", zap.Error(err))
	}
	names := make([]string, 0, len(tokens))
	for name := range tokens {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("\nTokens (export ORBIT_TOKEN=... to use the CLI):")
	for _, name := range names {
		fmt.Printf("%-20s %s\n", name, tokens[name])
	}
	zapLog.Info("✅ Seeding complete", zap.Int("users", len(users)))
}
