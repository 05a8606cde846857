package database

import (
	"fmt"

	"gorm.io/gorm"

	"parley/pkg/types"
)

// Models lists every persisted type in dependency order
func Models() []interface{} {
	return []interface{}{
		&types.User{},
		&types.Conversation{},
		&types.ConversationMember{},
		&types.Message{},
	}
}

// MigrationManager keeps the schema in step with the gorm models
type MigrationManager struct {
	db *gorm.DB
}

// NewMigrationManager creates a new migration manager
func NewMigrationManager(db *gorm.DB) *MigrationManager {
	return &MigrationManager{db: db}
}

// ApplyMigrations creates missing tables, columns and indexes.
// AutoMigrate never drops columns, so it is safe to run on every start.
func (m *MigrationManager) ApplyMigrations() error {
	if err := m.db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to auto-migrate schema: %w", err)
	}
	return nil
}

// ValidateSchema checks that migrations produced everything the stores query
func (m *MigrationManager) ValidateSchema() error {
	validator := NewSchemaValidator(m.db)
	if err := validator.ValidateTablesExist(); err != nil {
		return err
	}
	if err := validator.ValidateTableStructure(); err != nil {
		return err
	}
	return validator.ValidateIndexes()
}
