package database

import (
	"fmt"

	"gorm.io/gorm"

	"parley/pkg/types"
)

// SchemaValidator inspects a live schema through gorm's migrator.
// It is independent of MigrationManager so deployments can verify a schema
// they did not migrate themselves.
type SchemaValidator struct {
	db *gorm.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *gorm.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := []struct {
		model       interface{}
		description string
	}{
		{&types.User{}, "account storage"},
		{&types.Conversation{}, "conversation storage"},
		{&types.ConversationMember{}, "participant storage"},
		{&types.Message{}, "message storage"},
	}

	migrator := v.db.Migrator()
	for _, table := range requiredTables {
		if !migrator.HasTable(table.model) {
			return fmt.Errorf("required table for %s does not exist", table.description)
		}
	}
	return nil
}

// ValidateTableStructure verifies the columns the stores read and write
func (v *SchemaValidator) ValidateTableStructure() error {
	expected := []struct {
		model   interface{}
		name    string
		columns []string
	}{
		{&types.User{}, "users", []string{"id", "email", "name", "password_hash", "created_at", "updated_at"}},
		{&types.Conversation{}, "conversations", []string{"id", "created_by", "created_at", "updated_at"}},
		{&types.ConversationMember{}, "conversation_members", []string{"conversation_id", "user_id", "joined_at"}},
		{&types.Message{}, "messages", []string{"id", "conversation_id", "sender_id", "content", "created_at", "updated_at"}},
	}

	migrator := v.db.Migrator()
	for _, table := range expected {
		for _, column := range table.columns {
			if !migrator.HasColumn(table.model, column) {
				return fmt.Errorf("%s table structure invalid: missing column %s", table.name, column)
			}
		}
	}
	return nil
}

// ValidateIndexes verifies the lookup indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	expected := []struct {
		model interface{}
		index string
	}{
		{&types.User{}, "idx_users_email"},
		{&types.ConversationMember{}, "idx_conversation_members_user_id"},
		{&types.Message{}, "idx_messages_conversation_created"},
	}

	migrator := v.db.Migrator()
	for _, idx := range expected {
		if !migrator.HasIndex(idx.model, idx.index) {
			return fmt.Errorf("required index %s does not exist", idx.index)
		}
	}
	return nil
}
