package tour

import (
	"context"
	"time"

	"gorm.io/gorm"

	domain "h3-server/services/tour-api/internal/domain/tour"
	"h3-server/services/tour-api/internal/infrastructure/database/entities"
)

// Repository handles published content registry persistence.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, t *domain.Tour) error {
	entity := toEntity(t)
	if err := r.db.WithContext(ctx).Create(&entity).Error; err != nil {
		return err
	}
	t.CreatedAt = entity.CreatedAt
	t.UpdatedAt = entity.UpdatedAt
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Tour, error) {
	return r.getOne(ctx, "id = ?", id)
}

func (r *Repository) GetBySlug(ctx context.Context, slug string) (*domain.Tour, error) {
	return r.getOne(ctx, "slug = ?", slug)
}

func (r *Repository) GetByName(ctx context.Context, name string) (*domain.Tour, error) {
	return r.getOne(ctx, "name = ?", name)
}

func (r *Repository) getOne(ctx context.Context, query string, arg string) (*domain.Tour, error) {
	var entity entities.Tour
	err := r.db.WithContext(ctx).Where(query, arg).First(&entity).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	t := fromEntity(entity)
	return &t, nil
}

func (r *Repository) List(ctx context.Context) ([]domain.Tour, error) {
	var rows []entities.Tour
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Tour, len(rows))
	for i, row := range rows {
		out[i] = fromEntity(row)
	}
	return out, nil
}

func (r *Repository) Update(ctx context.Context, t *domain.Tour) error {
	entity := toEntity(t)
	entity.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).
		Model(&entities.Tour{}).
		Where("id = ?", t.ID).
		Updates(map[string]interface{}{
			"name":            entity.Name,
			"slug":            entity.Slug,
			"storage_prefix":  entity.StoragePrefix,
			"status":          entity.Status,
			"archive_prefix":  entity.ArchivePrefix,
			"archived_at":     entity.ArchivedAt,
			"retention_until": entity.RetentionUntil,
			"updated_at":      entity.UpdatedAt,
		}).Error
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&entities.Tour{}).Error
}

func (r *Repository) CreateRedirect(ctx context.Context, oldSlug, newSlug string) error {
	redirect := entities.SlugRedirect{OldSlug: oldSlug, NewSlug: newSlug}
	// An old slug being reused points at its newest target.
	return r.db.WithContext(ctx).Save(&redirect).Error
}

func (r *Repository) GetRedirect(ctx context.Context, oldSlug string) (string, error) {
	var redirect entities.SlugRedirect
	err := r.db.WithContext(ctx).Where("old_slug = ?", oldSlug).First(&redirect).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", nil
		}
		return "", err
	}
	return redirect.NewSlug, nil
}

func (r *Repository) ListExpiredArchives(ctx context.Context, now time.Time) ([]domain.Tour, error) {
	var rows []entities.Tour
	err := r.db.WithContext(ctx).
		Where("status = ? AND retention_until IS NOT NULL AND retention_until < ?",
			string(domain.StatusArchived), now).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Tour, len(rows))
	for i, row := range rows {
		out[i] = fromEntity(row)
	}
	return out, nil
}

func toEntity(t *domain.Tour) entities.Tour {
	return entities.Tour{
		ID:             t.ID,
		Name:           t.Name,
		Slug:           t.Slug,
		StoragePrefix:  t.StoragePrefix,
		Status:         string(t.Status),
		ArchivePrefix:  t.ArchivePrefix,
		ArchivedAt:     t.ArchivedAt,
		RetentionUntil: t.RetentionUntil,
	}
}

func fromEntity(e entities.Tour) domain.Tour {
	return domain.Tour{
		ID:             e.ID,
		Name:           e.Name,
		Slug:           e.Slug,
		StoragePrefix:  e.StoragePrefix,
		Status:         domain.Status(e.Status),
		ArchivePrefix:  e.ArchivePrefix,
		ArchivedAt:     e.ArchivedAt,
		RetentionUntil: e.RetentionUntil,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}
