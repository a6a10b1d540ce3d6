package upload

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"h3-server/services/tour-api/internal/config"
	"h3-server/services/tour-api/internal/infrastructure/storage"
)

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[string]*Session)}
}

func (r *fakeSessionRepo) Create(ctx context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *fakeSessionRepo) GetByID(ctx context.Context, id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *fakeSessionRepo) GetLatestByObjectKey(ctx context.Context, objectKey string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *Session
	for _, s := range r.sessions {
		if s.ObjectKey != objectKey {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *fakeSessionRepo) Transition(ctx context.Context, id string, from []Status, to Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if s.Status == f {
			s.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeSessionRepo) MarkTerminal(ctx context.Context, id string, to Status, completedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.Status.Terminal() {
		return false, nil
	}
	s.Status = to
	s.CompletedAt = &completedAt
	return true, nil
}

func (r *fakeSessionRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if s.Status.Terminal() && s.CompletedAt != nil && s.CompletedAt.Before(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

type fakeResolver struct {
	known map[string]string
}

func (f *fakeResolver) ContentExists(ctx context.Context, contentID string) (bool, string, error) {
	name, ok := f.known[contentID]
	return ok, name, nil
}

type fakeUploadStorage struct {
	objects map[string]int64
}

func (f *fakeUploadStorage) Head(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	size, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return &storage.ObjectInfo{Key: key, Size: size}, nil
}

func (f *fakeUploadStorage) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (*storage.Grant, error) {
	return &storage.Grant{
		URL:       "https://storage.test/" + key + "?signed",
		Headers:   map[string]string{"Content-Type": contentType},
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

func uploadTestConfig() *config.Config {
	return &config.Config{
		UploadPrefix:     "uploads/",
		MaxArchiveBytes:  1 << 30,
		GrantTTL:         time.Hour,
		SessionRetention: 7 * 24 * time.Hour,
	}
}

func newUploadService(repo *fakeSessionRepo, resolver *fakeResolver, store *fakeUploadStorage) *Service {
	if resolver == nil {
		resolver = &fakeResolver{known: map[string]string{}}
	}
	if store == nil {
		store = &fakeUploadStorage{objects: map[string]int64{}}
	}
	return NewService(uploadTestConfig(), repo, resolver, store, zerolog.Nop())
}

func TestIssueGrant(t *testing.T) {
	repo := newFakeSessionRepo()
	svc := newUploadService(repo, nil, nil)

	grant, err := svc.IssueGrant(context.Background(), GrantRequest{
		FileName: "Beach House.zip",
		FileSize: 1024,
		FileType: "application/zip",
	})
	require.NoError(t, err)

	assert.Equal(t, "uploads/Beach_House.zip", grant.ObjectKey)
	assert.Contains(t, grant.UploadURL, "signed")
	assert.Equal(t, "application/zip", grant.Headers["Content-Type"])
	assert.NotEmpty(t, grant.SessionID)

	session, err := svc.GetSession(context.Background(), grant.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, session.Status)
	assert.Equal(t, "Beach_House", session.TourName)
	assert.False(t, session.IsUpdate)
}

func TestIssueGrantValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     GrantRequest
		wantErr error
	}{
		{"zero size", GrantRequest{FileName: "a.zip", FileSize: 0}, ErrArchiveTooLarge},
		{"negative size", GrantRequest{FileName: "a.zip", FileSize: -1}, ErrArchiveTooLarge},
		{"too large", GrantRequest{FileName: "a.zip", FileSize: 2 << 30}, ErrArchiveTooLarge},
		{"not a zip", GrantRequest{FileName: "a.tar.gz", FileSize: 10}, ErrArchiveType},
		{"wrong mime", GrantRequest{FileName: "a.zip", FileSize: 10, FileType: "text/plain"}, ErrArchiveType},
		{"name collapses to nothing", GrantRequest{FileName: "....zip", FileSize: 10}, ErrEmptyName},
		{"update without content id", GrantRequest{FileName: "a.zip", FileSize: 10, IsUpdate: true}, ErrUnknownContent},
		{"update with unknown content id", GrantRequest{FileName: "a.zip", FileSize: 10, IsUpdate: true, ContentID: "tour_missing"}, ErrUnknownContent},
	}

	repo := newFakeSessionRepo()
	svc := newUploadService(repo, nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.IssueGrant(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Empty(t, repo.sessions, "no session may exist after a rejected grant")
}

func TestIssueGrantUpdateReusesName(t *testing.T) {
	repo := newFakeSessionRepo()
	resolver := &fakeResolver{known: map[string]string{"tour_abc": "existing_tour"}}
	svc := newUploadService(repo, resolver, nil)

	grant, err := svc.IssueGrant(context.Background(), GrantRequest{
		FileName:  "renamed-on-disk.zip",
		FileSize:  10,
		IsUpdate:  true,
		ContentID: "tour_abc",
	})
	require.NoError(t, err)

	// Updates target the existing content's key so the republished prefix
	// lines up with the original one.
	assert.Equal(t, "uploads/existing_tour.zip", grant.ObjectKey)

	session, err := svc.GetSession(context.Background(), grant.SessionID)
	require.NoError(t, err)
	assert.True(t, session.IsUpdate)
	assert.Equal(t, "tour_abc", session.ContentID)
}

func TestMarkUploaded(t *testing.T) {
	repo := newFakeSessionRepo()
	store := &fakeUploadStorage{objects: map[string]int64{}}
	svc := newUploadService(repo, nil, store)

	grant, err := svc.IssueGrant(context.Background(), GrantRequest{FileName: "demo.zip", FileSize: 10})
	require.NoError(t, err)

	// Completion notice without an actual object is rejected.
	require.ErrorIs(t, svc.MarkUploaded(context.Background(), grant.SessionID), ErrObjectMissing)

	store.objects[grant.ObjectKey] = 10
	require.NoError(t, svc.MarkUploaded(context.Background(), grant.SessionID))

	session, err := svc.GetSession(context.Background(), grant.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusUploaded, session.Status)

	// Repeats are no-op successes.
	require.NoError(t, svc.MarkUploaded(context.Background(), grant.SessionID))
	require.NoError(t, svc.MarkUploaded(context.Background(), grant.SessionID))
}

func TestMarkUploadedUnknownSession(t *testing.T) {
	svc := newUploadService(newFakeSessionRepo(), nil, nil)
	require.ErrorIs(t, svc.MarkUploaded(context.Background(), "sess_nope"), ErrSessionNotFound)
}

func TestMarkUploadedExpiredGrant(t *testing.T) {
	repo := newFakeSessionRepo()
	store := &fakeUploadStorage{objects: map[string]int64{}}
	svc := newUploadService(repo, nil, store)

	grant, err := svc.IssueGrant(context.Background(), GrantRequest{FileName: "demo.zip", FileSize: 10})
	require.NoError(t, err)
	store.objects[grant.ObjectKey] = 10

	repo.mu.Lock()
	repo.sessions[grant.SessionID].ExpiresAt = time.Now().Add(-time.Minute)
	repo.mu.Unlock()

	require.ErrorIs(t, svc.MarkUploaded(context.Background(), grant.SessionID), ErrSessionExpired)

	session, err := svc.GetSession(context.Background(), grant.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, session.Status)
}

func TestCleanupSessions(t *testing.T) {
	repo := newFakeSessionRepo()
	svc := newUploadService(repo, nil, nil)

	old := time.Now().Add(-30 * 24 * time.Hour)
	recent := time.Now()
	repo.sessions["sess_old"] = &Session{ID: "sess_old", Status: StatusCompleted, CompletedAt: &old}
	repo.sessions["sess_recent"] = &Session{ID: "sess_recent", Status: StatusFailed, CompletedAt: &recent}
	repo.sessions["sess_live"] = &Session{ID: "sess_live", Status: StatusProcessing}

	require.NoError(t, svc.CleanupSessions(context.Background()))

	assert.NotContains(t, repo.sessions, "sess_old")
	assert.Contains(t, repo.sessions, "sess_recent")
	assert.Contains(t, repo.sessions, "sess_live")
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Beach House", "Beach_House"},
		{"tour-2024_final", "tour-2024_final"},
		{"../../etc/passwd", "etc_passwd"},
		{"...", ""},
		{"héllo", "h_llo"},
	}
	for _, tt := range tests {
		if got := SanitizeName(tt.in); got != tt.want {
			t.Fatalf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
