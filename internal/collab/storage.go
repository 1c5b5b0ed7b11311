package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is the durable storage collaborator for room state.
type Repository interface {
	LoadCollaboration(ctx context.Context, roomID string) (Collaboration, bool, error)
	SaveCollaboration(ctx context.Context, collaboration Collaboration) error
	LoadMemberships(ctx context.Context, roomID string) ([]Membership, error)
	SaveMembership(ctx context.Context, membership Membership) error
}

// CollaborationRecord stores the latest collaboration snapshot per room.
type CollaborationRecord struct {
	RoomID           string `gorm:"column:room_id;primaryKey;size:190;not null"`
	StateJSON        string `gorm:"column:state_json;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (CollaborationRecord) TableName() string {
	return "room_collaborations"
}

// MemberRecord stores a user's role within a room.
type MemberRecord struct {
	RoomID           string `gorm:"column:room_id;primaryKey;size:190;not null"`
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	Role             string `gorm:"column:role;size:32;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (MemberRecord) TableName() string {
	return "room_members"
}

type collaborationState struct {
	Participants []Participant `json:"participants"`
	Chat         []ChatMessage `json:"chat"`
}

// GormRepository persists room state through GORM.
type GormRepository struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewGormRepository constructs a Repository backed by the provided database.
func NewGormRepository(db *gorm.DB) (*GormRepository, error) {
	if db == nil {
		return nil, errors.New("database handle is required")
	}
	return &GormRepository{db: db, clock: time.Now}, nil
}

func (r *GormRepository) LoadCollaboration(ctx context.Context, roomID string) (Collaboration, bool, error) {
	var record CollaborationRecord
	err := r.db.WithContext(ctx).Where("room_id = ?", roomID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Collaboration{}, false, nil
	}
	if err != nil {
		return Collaboration{}, false, err
	}
	var state collaborationState
	if err := json.Unmarshal([]byte(record.StateJSON), &state); err != nil {
		return Collaboration{}, false, fmt.Errorf("decode collaboration %s: %w", roomID, err)
	}
	return Collaboration{
		RoomID:       record.RoomID,
		Participants: state.Participants,
		Chat:         state.Chat,
		UpdatedAt:    time.Unix(record.UpdatedAtSeconds, 0).UTC(),
	}, true, nil
}

func (r *GormRepository) SaveCollaboration(ctx context.Context, collaboration Collaboration) error {
	encoded, err := json.Marshal(collaborationState{Participants: collaboration.Participants, Chat: collaboration.Chat})
	if err != nil {
		return err
	}
	updatedAt := collaboration.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = r.clock()
	}
	record := CollaborationRecord{
		RoomID:           collaboration.RoomID,
		StateJSON:        string(encoded),
		UpdatedAtSeconds: updatedAt.UTC().Unix(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"state_json", "updated_at_s"}),
	}).Create(&record).Error
}

func (r *GormRepository) LoadMemberships(ctx context.Context, roomID string) ([]Membership, error) {
	var records []MemberRecord
	if err := r.db.WithContext(ctx).Where("room_id = ?", roomID).Order("created_at_s ASC, user_id ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	memberships := make([]Membership, 0, len(records))
	for _, record := range records {
		memberships = append(memberships, Membership{RoomID: record.RoomID, UserID: record.UserID, Role: Role(record.Role)})
	}
	return memberships, nil
}

func (r *GormRepository) SaveMembership(ctx context.Context, membership Membership) error {
	now := r.clock().UTC().Unix()
	record := MemberRecord{
		RoomID:           membership.RoomID,
		UserID:           membership.UserID,
		Role:             string(membership.Role),
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "updated_at_s"}),
	}).Create(&record).Error
}
