package database

import (
	"fmt"
	"slices"

	"gorm.io/gorm"
)

// TableStatus reports whether one model's table exists
type TableStatus struct {
	Table  string
	Exists bool
}

// Migrator runs schema changes for cmd/migrate
type Migrator struct {
	db *gorm.DB
}

// NewMigrator creates a migrator over db
func NewMigrator(db *gorm.DB) *Migrator {
	return &Migrator{db: db}
}

// Up creates or updates every table and index
func (m *Migrator) Up() error {
	return Migrate(m.db)
}

// Down drops every table in reverse foreign key order
func (m *Migrator) Down() error {
	tables := Models()
	slices.Reverse(tables)
	for _, model := range tables {
		if err := m.db.Migrator().DropTable(model); err != nil {
			return fmt.Errorf("failed to drop %s: %w", tableName(m.db, model), err)
		}
	}
	return nil
}

// Status lists each table in migration order
func (m *Migrator) Status() []TableStatus {
	out := make([]TableStatus, 0, len(Models()))
	for _, model := range Models() {
		out = append(out, TableStatus{
			Table:  tableName(m.db, model),
			Exists: m.db.Migrator().HasTable(model),
		})
	}
	return out
}

func tableName(db *gorm.DB, model interface{}) string {
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(model); err != nil {
		return fmt.Sprintf("%T", model)
	}
	return stmt.Schema.Table
}
