package database

import (
	"context"
	"fmt"
	"time"

	"github.com/zfogg/orbit/internal/models"
	"github.com/zfogg/orbit/internal/telemetry"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open creates and configures the Postgres connection.
// The returned handle is owned by the caller (cmd/server registers Close on shutdown).
func Open(databaseURL string, log *zap.Logger, development bool) (*gorm.DB, error) {
	// Configure GORM logger
	gormLogger := logger.Default.LogMode(logger.Warn)
	if development {
		gormLogger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Use(telemetry.GORMTracingPlugin()); err != nil {
		return nil, fmt.Errorf("failed to register tracing plugin: %w", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Info("✅ Database connected successfully")
	return db, nil
}

// Models lists every table the service owns, in foreign key order
func Models() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Conversation{},
		&models.FriendMessage{},
		&models.MessageReadReceipt{},
	}
}

// Migrate runs auto-migration for all models
func Migrate(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("database not initialized")
	}

	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if db.Dialector.Name() == "postgres" {
		if err := createIndexes(db); err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	}

	return nil
}

// createIndexes creates Postgres-only performance indexes
func createIndexes(db *gorm.DB) error {
	statements := []string{
		// Conversation list ordering
		"CREATE INDEX IF NOT EXISTS idx_friend_conversations_user1_last ON friend_conversations (user1_id, last_message_at DESC NULLS LAST)",
		"CREATE INDEX IF NOT EXISTS idx_friend_conversations_user2_last ON friend_conversations (user2_id, last_message_at DESC NULLS LAST)",

		// Unread lookups: messages of a conversation not sent by the reader
		"CREATE INDEX IF NOT EXISTS idx_friend_messages_conversation_sender ON friend_messages (conversation_id, sender_id)",

		// Guard the sender/reader invariant at the storage layer as well
		`DO $$ BEGIN
			IF NOT EXISTS (SELECT 1 FROM pg_proc WHERE proname = 'reject_self_read_receipt') THEN
				CREATE FUNCTION reject_self_read_receipt() RETURNS trigger AS $f$
				BEGIN
					IF EXISTS (SELECT 1 FROM friend_messages WHERE id = NEW.message_id AND sender_id = NEW.reader_id) THEN
						RAISE EXCEPTION 'sender cannot create a read receipt for their own message';
					END IF;
					RETURN NEW;
				END $f$ LANGUAGE plpgsql;
			END IF;
		END $$`,
		"DROP TRIGGER IF EXISTS trg_reject_self_read_receipt ON message_read_receipts",
		"CREATE TRIGGER trg_reject_self_read_receipt BEFORE INSERT ON message_read_receipts FOR EACH ROW EXECUTE FUNCTION reject_self_read_receipt()",
	}

	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

// Health checks database connectivity
func Health(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("database not initialized")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	return sqlDB.PingContext(ctx)
}
