package upload

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"h3-server/services/tour-api/internal/config"
	"h3-server/services/tour-api/internal/infrastructure/metrics"
	"h3-server/services/tour-api/internal/infrastructure/storage"
	"h3-server/services/tour-api/utils/tourid"
)

var (
	ErrSessionNotFound = errors.New("upload session not found")
	ErrSessionExpired  = errors.New("upload grant has expired")
	ErrObjectMissing   = errors.New("uploaded object not found in storage")
	ErrArchiveType     = errors.New("only zip archives are accepted")
	ErrArchiveTooLarge = errors.New("archive exceeds the maximum allowed size")
	ErrUnknownContent  = errors.New("unknown content id")
	ErrEmptyName       = errors.New("tour name resolves to an empty identifier")
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9-_]`)

// SessionRepository is the persistence surface for upload sessions. GetByID
// returns (nil, nil) when the session does not exist.
type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id string) (*Session, error)
	GetLatestByObjectKey(ctx context.Context, objectKey string) (*Session, error)
	Transition(ctx context.Context, id string, from []Status, to Status) (bool, error)
	MarkTerminal(ctx context.Context, id string, to Status, completedAt time.Time) (bool, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ContentResolver checks that an existing content id resolves to known
// published content before an update grant is issued.
type ContentResolver interface {
	ContentExists(ctx context.Context, contentID string) (bool, string, error)
}

// Storage is the object store capability the session manager needs: a head
// probe for completion defense and presigned single-object upload grants.
type Storage interface {
	Head(ctx context.Context, key string) (*storage.ObjectInfo, error)
	PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (*storage.Grant, error)
}

// Service issues upload grants and manages session state.
type Service struct {
	cfg      *config.Config
	sessions SessionRepository
	contents ContentResolver
	storage  Storage
	log      zerolog.Logger
}

func NewService(cfg *config.Config, sessions SessionRepository, contents ContentResolver, store Storage, log zerolog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		sessions: sessions,
		contents: contents,
		storage:  store,
		log:      log.With().Str("component", "upload-service").Logger(),
	}
}

// IssueGrant validates the request, mints a session and returns a presigned
// single-object upload descriptor. Nothing is granted on validation failure.
func (s *Service) IssueGrant(ctx context.Context, req GrantRequest) (*Grant, error) {
	if req.FileSize <= 0 || req.FileSize > s.cfg.MaxArchiveBytes {
		metrics.RecordGrant("rejected")
		return nil, fmt.Errorf("%w (max %d bytes)", ErrArchiveTooLarge, s.cfg.MaxArchiveBytes)
	}
	if !isZipUpload(req.FileName, req.FileType) {
		metrics.RecordGrant("rejected")
		return nil, ErrArchiveType
	}

	name := req.TourName
	if name == "" {
		name = strings.TrimSuffix(path.Base(req.FileName), path.Ext(req.FileName))
	}
	name = SanitizeName(name)
	if name == "" {
		metrics.RecordGrant("rejected")
		return nil, ErrEmptyName
	}

	contentID := ""
	if req.IsUpdate {
		if req.ContentID == "" {
			metrics.RecordGrant("rejected")
			return nil, ErrUnknownContent
		}
		exists, existingName, err := s.contents.ContentExists(ctx, req.ContentID)
		if err != nil {
			return nil, err
		}
		if !exists {
			metrics.RecordGrant("rejected")
			return nil, ErrUnknownContent
		}
		contentID = req.ContentID
		if existingName != "" {
			name = existingName
		}
	}

	objectKey := s.cfg.UploadPrefix + name + ".zip"
	grant, err := s.storage.PresignPut(ctx, objectKey, "application/zip", s.cfg.GrantTTL)
	if err != nil {
		return nil, fmt.Errorf("issue grant: %w", err)
	}

	session := &Session{
		ID:        tourid.NewSession(),
		TourName:  name,
		ObjectKey: objectKey,
		ContentID: contentID,
		IsUpdate:  req.IsUpdate,
		Status:    StatusCreated,
		ExpiresAt: grant.ExpiresAt,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	metrics.RecordGrant("issued")
	s.log.Info().
		Str("session_id", session.ID).
		Str("object_key", objectKey).
		Bool("is_update", req.IsUpdate).
		Msg("upload grant issued")

	return &Grant{
		SessionID: session.ID,
		UploadURL: grant.URL,
		Headers:   grant.Headers,
		ObjectKey: objectKey,
		ExpiresAt: grant.ExpiresAt,
	}, nil
}

// MarkUploaded records the client's completion notice. Repeat calls on a
// session already at uploaded or later are no-op successes so the browser can
// retry after a network blip.
func (s *Service) MarkUploaded(ctx context.Context, sessionID string) error {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionNotFound
	}

	switch session.Status {
	case StatusUploaded, StatusProcessing, StatusCompleted:
		return nil
	case StatusFailed, StatusExpired:
		return fmt.Errorf("session %s is %s", sessionID, session.Status)
	}

	if time.Now().After(session.ExpiresAt) {
		if _, err := s.sessions.MarkTerminal(ctx, sessionID, StatusExpired, time.Now()); err != nil {
			return err
		}
		return ErrSessionExpired
	}

	// The client may lie about completion; confirm the object exists.
	if _, err := s.storage.Head(ctx, session.ObjectKey); err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return ErrObjectMissing
		}
		return fmt.Errorf("verify upload: %w", err)
	}

	ok, err := s.sessions.Transition(ctx, sessionID, []Status{StatusCreated, StatusUploading}, StatusUploaded)
	if err != nil {
		return err
	}
	if !ok {
		// Lost a race with another completion notice; re-read and treat a
		// uploaded-or-later state as success.
		current, err := s.sessions.GetByID(ctx, sessionID)
		if err != nil {
			return err
		}
		if current == nil || current.Status == StatusFailed || current.Status == StatusExpired {
			return fmt.Errorf("session %s is no longer uploadable", sessionID)
		}
	}
	s.log.Info().Str("session_id", sessionID).Msg("upload confirmed")
	return nil
}

// GetSession returns the session or ErrSessionNotFound.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// CleanupSessions removes terminal sessions older than the retention window.
func (s *Service) CleanupSessions(ctx context.Context) error {
	cutoff := time.Now().Add(-s.cfg.SessionRetention)
	n, err := s.sessions.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	metrics.RecordSweep("session_retention", n)
	if n > 0 {
		s.log.Info().Int64("removed", n).Msg("session retention sweep")
	}
	return nil
}

// SanitizeName maps a logical tour name onto the safe storage alphabet.
// Deterministic, never produces a path-traversal-capable string.
func SanitizeName(name string) string {
	name = unsafeChars.ReplaceAllString(name, "_")
	return strings.Trim(name, "_.")
}

func isZipUpload(fileName, fileType string) bool {
	if !strings.EqualFold(path.Ext(fileName), ".zip") {
		return false
	}
	if fileType == "" {
		return true
	}
	switch fileType {
	case "application/zip", "application/x-zip-compressed", "application/octet-stream":
		return true
	}
	return false
}
