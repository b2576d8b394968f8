package database

import (
	"errors"
	"time"

	"github.com/umshado/umshado-api/internal/messaging"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillConversationActivity = "2026-03-01_backfill_conversation_activity"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillConversationActivity, apply: backfillConversationActivity},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillConversationActivity sets last_message_at on conversations imported without it.
func backfillConversationActivity(db *gorm.DB) error {
	return db.Model(&messaging.Conversation{}).
		Where("last_message_at IS NULL AND EXISTS (SELECT 1 FROM messages WHERE messages.conversation_id = conversations.id)").
		Update("last_message_at", gorm.Expr("(SELECT MAX(messages.created_at) FROM messages WHERE messages.conversation_id = conversations.id)")).Error
}
