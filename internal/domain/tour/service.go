package tour

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"h3-server/services/tour-api/internal/config"
	"h3-server/services/tour-api/internal/infrastructure/metrics"
	"h3-server/services/tour-api/utils/tourid"
)

var (
	ErrTourNotFound = errors.New("tour not found")
	ErrSlugTaken    = errors.New("slug is already in use")
	ErrInvalidSlug  = errors.New("slug contains invalid characters")
	ErrTourArchived = errors.New("tour is archived")
	ErrRedirectLoop = errors.New("slug redirect chain too deep")
)

var (
	slugPattern  = regexp.MustCompile(`^[a-z0-9][a-z0-9-_]*$`)
	slugScrubber = regexp.MustCompile(`[^a-z0-9-_]`)
)

// Chasing more redirects than this means a mapping loop.
const maxRedirectHops = 8

// Repository is the persistence surface for the published content registry.
// Lookups return (nil, nil) when absent.
type Repository interface {
	Create(ctx context.Context, t *Tour) error
	GetByID(ctx context.Context, id string) (*Tour, error)
	GetBySlug(ctx context.Context, slug string) (*Tour, error)
	GetByName(ctx context.Context, name string) (*Tour, error)
	List(ctx context.Context) ([]Tour, error)
	Update(ctx context.Context, t *Tour) error
	Delete(ctx context.Context, id string) error
	CreateRedirect(ctx context.Context, oldSlug, newSlug string) error
	GetRedirect(ctx context.Context, oldSlug string) (string, error)
	ListExpiredArchives(ctx context.Context, now time.Time) ([]Tour, error)
}

// Storage is the object store capability the lifecycle operations need.
type Storage interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Copy(ctx context.Context, srcKey, dstKey string) error
	Delete(ctx context.Context, key string) error
	ListPrefix(ctx context.Context, prefix string) ([]string, error)
}

// Service is the published content registry and its lifecycle operations.
type Service struct {
	cfg     *config.Config
	repo    Repository
	storage Storage
	log     zerolog.Logger
}

func NewService(cfg *config.Config, repo Repository, store Storage, log zerolog.Logger) *Service {
	return &Service{
		cfg:     cfg,
		repo:    repo,
		storage: store,
		log:     log.With().Str("component", "tour-service").Logger(),
	}
}

// HandlePublished upserts the registry row after a successful processor run.
// First publish mints a durable content id; an update keeps id and slug and
// only bumps the prefix and timestamps.
func (s *Service) HandlePublished(ctx context.Context, name, storagePrefix, contentID string, isUpdate bool) (*Tour, error) {
	if isUpdate && contentID != "" {
		existing, err := s.repo.GetByID(ctx, contentID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, ErrTourNotFound
		}
		existing.StoragePrefix = storagePrefix
		existing.Status = StatusCompleted
		if err := s.repo.Update(ctx, existing); err != nil {
			return nil, err
		}
		s.log.Info().Str("content_id", existing.ID).Str("prefix", storagePrefix).Msg("tour updated in place")
		return existing, nil
	}

	// A republish of a name that already exists (storage-event redelivery)
	// updates the existing row rather than minting a second identity.
	if existing, err := s.repo.GetByName(ctx, name); err != nil {
		return nil, err
	} else if existing != nil && existing.Status != StatusArchived {
		existing.StoragePrefix = storagePrefix
		existing.Status = StatusCompleted
		if err := s.repo.Update(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	t := &Tour{
		ID:            tourid.NewTour(),
		Name:          name,
		Slug:          defaultSlug(name),
		StoragePrefix: storagePrefix,
		Status:        StatusCompleted,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	s.log.Info().Str("content_id", t.ID).Str("slug", t.Slug).Str("prefix", storagePrefix).Msg("tour published")
	return t, nil
}

// ContentExists resolves a content id for update grant validation.
func (s *Service) ContentExists(ctx context.Context, contentID string) (bool, string, error) {
	t, err := s.repo.GetByID(ctx, contentID)
	if err != nil {
		return false, "", err
	}
	if t == nil || t.Status == StatusArchived {
		return false, "", nil
	}
	return true, t.Name, nil
}

// Get returns a tour by content id.
func (s *Service) Get(ctx context.Context, id string) (*Tour, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrTourNotFound
	}
	return t, nil
}

// List returns every registry row.
func (s *Service) List(ctx context.Context) ([]Tour, error) {
	return s.repo.List(ctx)
}

// Resolve maps a slug to its tour, chasing redirect mappings from previous
// slug changes. redirected is non-empty when the caller should 301 to the
// current slug first.
func (s *Service) Resolve(ctx context.Context, slug string) (*Tour, string, error) {
	current := slug
	for hop := 0; hop < maxRedirectHops; hop++ {
		t, err := s.repo.GetBySlug(ctx, current)
		if err != nil {
			return nil, "", err
		}
		if t != nil {
			if t.Status == StatusArchived {
				return nil, "", ErrTourArchived
			}
			if current != slug {
				return t, current, nil
			}
			return t, "", nil
		}
		next, err := s.repo.GetRedirect(ctx, current)
		if err != nil {
			return nil, "", err
		}
		if next == "" {
			return nil, "", ErrTourNotFound
		}
		current = next
	}
	return nil, "", ErrRedirectLoop
}

// Open streams one published file for the resolver proxy.
func (s *Service) Open(ctx context.Context, t *Tour, filePath string) (io.ReadCloser, error) {
	filePath = strings.TrimPrefix(filePath, "/")
	if filePath == "" {
		filePath = "index.htm"
	}
	return s.storage.Get(ctx, t.StoragePrefix+filePath)
}

// ChangeSlug rewrites the routing alias and registers the old slug as a
// redirect so previously shared links stay valid. The content id and storage
// prefix are untouched.
func (s *Service) ChangeSlug(ctx context.Context, id, newSlug string) (*Tour, error) {
	newSlug = strings.ToLower(strings.TrimSpace(newSlug))
	if !slugPattern.MatchString(newSlug) {
		return nil, ErrInvalidSlug
	}

	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrTourNotFound
	}
	if t.Slug == newSlug {
		return t, nil
	}

	if taken, err := s.repo.GetBySlug(ctx, newSlug); err != nil {
		return nil, err
	} else if taken != nil {
		return nil, ErrSlugTaken
	}

	oldSlug := t.Slug
	t.Slug = newSlug
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	if err := s.repo.CreateRedirect(ctx, oldSlug, newSlug); err != nil {
		return nil, fmt.Errorf("register slug redirect: %w", err)
	}

	s.log.Info().Str("content_id", id).Str("old", oldSlug).Str("new", newSlug).Msg("slug changed")
	return t, nil
}

// Archive soft-deletes a tour: every published object is copied under the
// archive prefix with a retention stamp, and only after every copy succeeded
// are the originals deleted. A crash mid-way duplicates data, never loses it.
func (s *Service) Archive(ctx context.Context, id string) (*Tour, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrTourNotFound
	}
	if t.Status == StatusArchived {
		return t, nil
	}

	keys, err := s.storage.ListPrefix(ctx, t.StoragePrefix)
	if err != nil {
		return nil, fmt.Errorf("list published objects: %w", err)
	}

	now := time.Now().UTC()
	archivePrefix := fmt.Sprintf("%s%s/%s/", s.cfg.ArchivePrefix, t.ID, now.Format("20060102T150405Z"))

	for _, key := range keys {
		rel := strings.TrimPrefix(key, t.StoragePrefix)
		if err := s.storage.Copy(ctx, key, archivePrefix+rel); err != nil {
			return nil, fmt.Errorf("archive copy %s: %w", key, err)
		}
	}
	for _, key := range keys {
		if err := s.storage.Delete(ctx, key); err != nil {
			return nil, fmt.Errorf("archive delete %s: %w", key, err)
		}
	}

	retention := now.Add(s.cfg.ArchiveRetention)
	t.Status = StatusArchived
	t.ArchivePrefix = archivePrefix
	t.ArchivedAt = &now
	t.RetentionUntil = &retention
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("content_id", t.ID).
		Str("archive_prefix", archivePrefix).
		Time("retention_until", retention).
		Int("objects", len(keys)).
		Msg("tour archived")
	return t, nil
}

// SweepExpiredArchives hard-deletes archived tours whose retention window has
// passed, both their archived objects and their registry rows.
func (s *Service) SweepExpiredArchives(ctx context.Context) error {
	expired, err := s.repo.ListExpiredArchives(ctx, time.Now())
	if err != nil {
		return err
	}
	for _, t := range expired {
		keys, err := s.storage.ListPrefix(ctx, t.ArchivePrefix)
		if err != nil {
			s.log.Error().Err(err).Str("content_id", t.ID).Msg("list expired archive")
			continue
		}
		failed := false
		for _, key := range keys {
			if err := s.storage.Delete(ctx, key); err != nil {
				s.log.Error().Err(err).Str("key", key).Msg("delete expired archive object")
				failed = true
				break
			}
		}
		if failed {
			continue
		}
		if err := s.repo.Delete(ctx, t.ID); err != nil {
			s.log.Error().Err(err).Str("content_id", t.ID).Msg("delete expired registry row")
			continue
		}
		s.log.Info().Str("content_id", t.ID).Int("objects", len(keys)).Msg("expired archive removed")
	}
	metrics.RecordSweep("archive_retention", int64(len(expired)))
	return nil
}

func defaultSlug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = slugScrubber.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}
