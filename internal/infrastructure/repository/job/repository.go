package job

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"h3-server/services/tour-api/internal/domain/processing"
	"h3-server/services/tour-api/internal/infrastructure/database/entities"
)

// Repository handles processing job persistence.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, j *processing.Job) error {
	entity := entities.ProcessingJob{
		ID:             j.ID,
		SessionID:      j.SessionID,
		Stage:          string(j.Stage),
		Percent:        j.Percent,
		Message:        j.Message,
		TerminalStatus: string(j.TerminalStatus),
		ErrorDetail:    j.ErrorDetail,
	}
	if err := r.db.WithContext(ctx).Create(&entity).Error; err != nil {
		if isUniqueViolation(err) {
			return processing.ErrDuplicateSession
		}
		return err
	}
	j.CreatedAt = entity.CreatedAt
	j.UpdatedAt = entity.UpdatedAt
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*processing.Job, error) {
	return r.getOne(ctx, "id = ?", id)
}

func (r *Repository) GetBySessionID(ctx context.Context, sessionID string) (*processing.Job, error) {
	return r.getOne(ctx, "session_id = ?", sessionID)
}

func (r *Repository) getOne(ctx context.Context, query string, arg string) (*processing.Job, error) {
	var entity entities.ProcessingJob
	err := r.db.WithContext(ctx).Where(query, arg).First(&entity).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	j := fromEntity(entity)
	return &j, nil
}

// UpdateProgress advances stage/message and keeps percent monotonic. Rows
// already in a terminal state are never touched.
func (r *Repository) UpdateProgress(ctx context.Context, id string, stage processing.Stage, percent int, message string) error {
	return r.db.WithContext(ctx).
		Model(&entities.ProcessingJob{}).
		Where("id = ? AND terminal_status = '' AND percent <= ?", id, percent).
		Updates(map[string]interface{}{
			"stage":      string(stage),
			"percent":    percent,
			"message":    message,
			"updated_at": time.Now(),
		}).Error
}

// MarkTerminal records the final outcome with compare-and-set semantics: it
// only applies while the row has no terminal status yet.
func (r *Repository) MarkTerminal(ctx context.Context, id string, status processing.TerminalStatus, stage processing.Stage, percent int, errDetail string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&entities.ProcessingJob{}).
		Where("id = ? AND terminal_status = ''", id).
		Updates(map[string]interface{}{
			"terminal_status": string(status),
			"stage":           string(stage),
			"percent":         percent,
			"error_detail":    errDetail,
			"updated_at":      time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// FailStuck marks every non-terminal job untouched since cutoff as failed and
// returns the affected jobs.
func (r *Repository) FailStuck(ctx context.Context, cutoff time.Time, detail string) ([]processing.Job, error) {
	var stuck []entities.ProcessingJob
	err := r.db.WithContext(ctx).
		Where("terminal_status = '' AND updated_at < ?", cutoff).
		Find(&stuck).Error
	if err != nil {
		return nil, err
	}

	var failed []processing.Job
	for _, entity := range stuck {
		ok, err := r.MarkTerminal(ctx, entity.ID, processing.TerminalFailed, processing.Stage(entity.Stage), entity.Percent, detail)
		if err != nil {
			return failed, err
		}
		if ok {
			j := fromEntity(entity)
			j.TerminalStatus = processing.TerminalFailed
			j.ErrorDetail = detail
			failed = append(failed, j)
		}
	}
	return failed, nil
}

func fromEntity(e entities.ProcessingJob) processing.Job {
	return processing.Job{
		ID:             e.ID,
		SessionID:      e.SessionID,
		Stage:          processing.Stage(e.Stage),
		Percent:        e.Percent,
		Message:        e.Message,
		TerminalStatus: processing.TerminalStatus(e.TerminalStatus),
		ErrorDetail:    e.ErrorDetail,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// Postgres unique_violation surfaces as SQLSTATE 23505.
	return strings.Contains(err.Error(), "23505") ||
		strings.Contains(err.Error(), "duplicate key")
}
