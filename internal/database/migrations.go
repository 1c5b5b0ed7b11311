package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/canvas/internal/canvas"
	"github.com/MarcoPoloResearchLab/canvas/internal/collab"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNameUntitledCanvases = "2026-03-01_name_untitled_canvases"
	migrationNormalizeMemberRoles = "2026-03-14_normalize_member_roles"
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
		{name: migrationNameUntitledCanvases, apply: nameUntitledCanvases},
		{name: migrationNormalizeMemberRoles, apply: normalizeMemberRoles},
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

func nameUntitledCanvases(db *gorm.DB) error {
	return db.Model(&canvas.DocumentRecord{}).
		Where("TRIM(name) = ''").
		Update("name", "Untitled").Error
}

func normalizeMemberRoles(db *gorm.DB) error {
	return db.Model(&collab.MemberRecord{}).
		Where("role NOT IN ?", []string{string(collab.RoleViewer), string(collab.RoleEditor), string(collab.RoleAdmin)}).
		Update("role", string(collab.RoleViewer)).Error
}
