package canvas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentRecord stores the latest committed state of a canvas document.
type DocumentRecord struct {
	DocumentID       string `gorm:"column:document_id;primaryKey;size:190;not null"`
	Name             string `gorm:"column:name;size:190;not null"`
	ContentJSON      string `gorm:"column:content_json;type:text;not null"`
	Version          int64  `gorm:"column:version;not null;default:0"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (DocumentRecord) TableName() string {
	return "canvas_documents"
}

type documentContent struct {
	Elements []Element `json:"elements"`
	Settings Settings  `json:"settings"`
}

// GormRepository persists documents through GORM.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository constructs a Repository backed by the provided database.
func NewGormRepository(db *gorm.DB) (*GormRepository, error) {
	if db == nil {
		return nil, errors.New("database handle is required")
	}
	return &GormRepository{db: db}, nil
}

// LoadDocument returns the stored document, or false when none exists.
func (r *GormRepository) LoadDocument(ctx context.Context, id DocumentID) (Document, bool, error) {
	var record DocumentRecord
	err := r.db.WithContext(ctx).Where("document_id = ?", id.String()).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, err
	}

	var content documentContent
	if err := json.Unmarshal([]byte(record.ContentJSON), &content); err != nil {
		return Document{}, false, fmt.Errorf("decode document %s: %w", record.DocumentID, err)
	}
	if content.Elements == nil {
		content.Elements = []Element{}
	}
	return Document{
		ID:        DocumentID(record.DocumentID),
		Name:      record.Name,
		Elements:  content.Elements,
		Settings:  content.Settings,
		Version:   record.Version,
		UpdatedAt: time.Unix(record.UpdatedAtSeconds, 0).UTC(),
	}, true, nil
}

// SaveDocument upserts the document, replacing older versions.
func (r *GormRepository) SaveDocument(ctx context.Context, document Document) error {
	encoded, err := json.Marshal(documentContent{Elements: document.Elements, Settings: document.Settings})
	if err != nil {
		return fmt.Errorf("encode document %s: %w", document.ID, err)
	}
	record := DocumentRecord{
		DocumentID:       document.ID.String(),
		Name:             document.Name,
		ContentJSON:      string(encoded),
		Version:          document.Version,
		UpdatedAtSeconds: document.UpdatedAt.UTC().Unix(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "document_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "content_json", "version", "updated_at_s"}),
	}).Create(&record).Error
}
