package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizeUserHosts = "2026-09-28_normalize_cached_user_hosts"
	migrationDropEmptyPayloads  = "2026-10-06_drop_empty_cached_payloads"
)

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
		{name: migrationNormalizeUserHosts, apply: normalizeUserHosts},
		{name: migrationDropEmptyPayloads, apply: dropEmptyPayloads},
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

// Hosts are matched case-insensitively by user name lookups.
func normalizeUserHosts(db *gorm.DB) error {
	return db.Model(&cachedUser{}).
		Where("host <> lower(host)").
		Update("host", gorm.Expr("lower(host)")).Error
}

func dropEmptyPayloads(db *gorm.DB) error {
	if err := db.Where("payload = ''").Delete(&cachedNote{}).Error; err != nil {
		return err
	}
	return db.Where("payload = ''").Delete(&cachedUser{}).Error
}
