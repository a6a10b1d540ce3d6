package session

import (
	"context"
	"time"

	"gorm.io/gorm"

	"h3-server/services/tour-api/internal/domain/upload"
	"h3-server/services/tour-api/internal/infrastructure/database/entities"
)

// Repository handles upload session persistence.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, s *upload.Session) error {
	entity := toEntity(s)
	if err := r.db.WithContext(ctx).Create(&entity).Error; err != nil {
		return err
	}
	s.CreatedAt = entity.CreatedAt
	s.UpdatedAt = entity.UpdatedAt
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*upload.Session, error) {
	var entity entities.UploadSession
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	s := fromEntity(entity)
	return &s, nil
}

func (r *Repository) GetLatestByObjectKey(ctx context.Context, objectKey string) (*upload.Session, error) {
	var entity entities.UploadSession
	err := r.db.WithContext(ctx).
		Where("object_key = ?", objectKey).
		Order("created_at DESC").
		First(&entity).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	s := fromEntity(entity)
	return &s, nil
}

// Transition performs a compare-and-set status change: the update applies
// only while the row is still in one of the from states.
func (r *Repository) Transition(ctx context.Context, id string, from []upload.Status, to upload.Status) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&entities.UploadSession{}).
		Where("id = ? AND status IN ?", id, statusStrings(from)).
		Updates(map[string]interface{}{"status": string(to), "updated_at": time.Now()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkTerminal moves a session into a terminal state unless it is already in
// one, stamping completed_at.
func (r *Repository) MarkTerminal(ctx context.Context, id string, to upload.Status, completedAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&entities.UploadSession{}).
		Where("id = ? AND status NOT IN ?", id, []string{
			string(upload.StatusCompleted), string(upload.StatusFailed), string(upload.StatusExpired),
		}).
		Updates(map[string]interface{}{
			"status":       string(to),
			"completed_at": completedAt,
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *Repository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []string{
			string(upload.StatusCompleted), string(upload.StatusFailed), string(upload.StatusExpired),
		}, cutoff).
		Delete(&entities.UploadSession{})
	return res.RowsAffected, res.Error
}

func toEntity(s *upload.Session) entities.UploadSession {
	return entities.UploadSession{
		ID:          s.ID,
		TourName:    s.TourName,
		ObjectKey:   s.ObjectKey,
		ContentID:   s.ContentID,
		IsUpdate:    s.IsUpdate,
		Status:      string(s.Status),
		ExpiresAt:   s.ExpiresAt,
		CompletedAt: s.CompletedAt,
	}
}

func fromEntity(e entities.UploadSession) upload.Session {
	return upload.Session{
		ID:          e.ID,
		TourName:    e.TourName,
		ObjectKey:   e.ObjectKey,
		ContentID:   e.ContentID,
		IsUpdate:    e.IsUpdate,
		Status:      upload.Status(e.Status),
		ExpiresAt:   e.ExpiresAt,
		CompletedAt: e.CompletedAt,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func statusStrings(statuses []upload.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
