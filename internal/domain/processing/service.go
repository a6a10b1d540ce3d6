package processing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"h3-server/services/tour-api/internal/config"
	"h3-server/services/tour-api/internal/domain/tour"
	"h3-server/services/tour-api/internal/domain/upload"
	"h3-server/services/tour-api/internal/infrastructure/metrics"
	"h3-server/services/tour-api/utils/tourid"
)

var (
	ErrJobNotFound      = errors.New("processing job not found")
	ErrSessionNotReady  = errors.New("session is not in uploaded state")
	ErrUnknownReport    = errors.New("report does not match any known session")
	ErrDuplicateSession = errors.New("a job already exists for this session")
)

const timeoutDetail = "processing timeout"

// JobRepository is the persistence surface for processing jobs. Create must
// return ErrDuplicateSession when a job already exists for the session.
// GetByID and GetBySessionID return (nil, nil) when absent.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, id string) (*Job, error)
	GetBySessionID(ctx context.Context, sessionID string) (*Job, error)
	UpdateProgress(ctx context.Context, id string, stage Stage, percent int, message string) error
	MarkTerminal(ctx context.Context, id string, status TerminalStatus, stage Stage, percent int, errDetail string) (bool, error)
	FailStuck(ctx context.Context, cutoff time.Time, detail string) ([]Job, error)
}

// TourRegistry is what the webhook receiver needs from the published content
// registry: an upsert on successful publish. Failures never touch it.
type TourRegistry interface {
	HandlePublished(ctx context.Context, name, storagePrefix, contentID string, isUpdate bool) (*tour.Tour, error)
}

// Service owns the processing trigger, the webhook state machine, the polled
// progress read model and the stuck-job sweep.
type Service struct {
	cfg      *config.Config
	jobs     JobRepository
	sessions upload.SessionRepository
	tours    TourRegistry
	log      zerolog.Logger
}

func NewService(cfg *config.Config, jobs JobRepository, sessions upload.SessionRepository, tours TourRegistry, log zerolog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		jobs:     jobs,
		sessions: sessions,
		tours:    tours,
		log:      log.With().Str("component", "processing-service").Logger(),
	}
}

// StartProcessing transitions the session to processing and creates its job.
// At most one job is ever created per session: the loser of a race observes
// the existing job and returns its id. The inbox object's presence is itself
// the processor signal, so no RPC is made here.
func (s *Service) StartProcessing(ctx context.Context, sessionID string) (string, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if session == nil {
		return "", upload.ErrSessionNotFound
	}

	if existing, err := s.jobs.GetBySessionID(ctx, sessionID); err != nil {
		return "", err
	} else if existing != nil {
		return existing.ID, nil
	}

	if session.Status != upload.StatusUploaded {
		return "", fmt.Errorf("%w: %s", ErrSessionNotReady, session.Status)
	}

	ok, err := s.sessions.Transition(ctx, sessionID, []upload.Status{upload.StatusUploaded}, upload.StatusProcessing)
	if err != nil {
		return "", err
	}
	if !ok {
		// Another trigger won the compare-and-set; return its job.
		existing, err := s.jobs.GetBySessionID(ctx, sessionID)
		if err != nil {
			return "", err
		}
		if existing != nil {
			return existing.ID, nil
		}
		return "", fmt.Errorf("%w: concurrent transition", ErrSessionNotReady)
	}

	job := &Job{
		ID:        tourid.NewJob(),
		SessionID: sessionID,
		Stage:     StageDownloading,
		Percent:   0,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		if errors.Is(err, ErrDuplicateSession) {
			existing, gerr := s.jobs.GetBySessionID(ctx, sessionID)
			if gerr == nil && existing != nil {
				return existing.ID, nil
			}
		}
		return "", err
	}

	s.log.Info().
		Str("session_id", sessionID).
		Str("job_id", job.ID).
		Str("object_key", session.ObjectKey).
		Msg("processing triggered")
	return job.ID, nil
}

// ApplyReport applies a verified terminal callback from the processor. The
// first terminal report is authoritative; repeats are acknowledged without
// re-mutating state, and divergent repeats are logged as anomalies.
func (s *Service) ApplyReport(ctx context.Context, report Report) (Ack, error) {
	if report.ObjectKey == "" {
		return "", fmt.Errorf("%w: missing s3_key", ErrUnknownReport)
	}
	session, err := s.sessions.GetLatestByObjectKey(ctx, report.ObjectKey)
	if err != nil {
		return "", err
	}
	if session == nil {
		return "", ErrUnknownReport
	}

	job, err := s.jobs.GetBySessionID(ctx, session.ID)
	if err != nil {
		return "", err
	}
	if job == nil {
		// Storage-event redelivery can start the processor before the
		// completion notice arrives; materialize the job row now.
		job = &Job{ID: tourid.NewJob(), SessionID: session.ID, Stage: StageDownloading}
		if err := s.jobs.Create(ctx, job); err != nil && !errors.Is(err, ErrDuplicateSession) {
			return "", err
		}
		if job, err = s.jobs.GetBySessionID(ctx, session.ID); err != nil || job == nil {
			return "", fmt.Errorf("materialize job: %w", err)
		}
	}

	if job.TerminalStatus != TerminalNone {
		reported := TerminalFailed
		if report.Success {
			reported = TerminalCompleted
		}
		if job.TerminalStatus == reported {
			metrics.RecordWebhookResult("duplicate")
			return AckDuplicate, nil
		}
		s.log.Warn().
			Str("job_id", job.ID).
			Str("stored", string(job.TerminalStatus)).
			Str("reported", string(reported)).
			Msg("divergent terminal report ignored, first terminal state wins")
		metrics.RecordWebhookResult("anomaly")
		return AckAnomaly, nil
	}

	if report.Success {
		return s.applySuccess(ctx, session, job, report)
	}
	return s.applyFailure(ctx, session, job, report)
}

func (s *Service) applySuccess(ctx context.Context, session *upload.Session, job *Job, report Report) (Ack, error) {
	prefix := report.StoragePrefix
	if prefix == "" {
		prefix = s.cfg.ToursPrefix + session.TourName + "/"
	}

	if _, err := s.tours.HandlePublished(ctx, session.TourName, prefix, session.ContentID, session.IsUpdate); err != nil {
		return "", fmt.Errorf("register published content: %w", err)
	}

	ok, err := s.jobs.MarkTerminal(ctx, job.ID, TerminalCompleted, StageCleanup, 100, "")
	if err != nil {
		return "", err
	}
	if !ok {
		// Lost the race with the timeout sweep; the stored state wins.
		metrics.RecordWebhookResult("anomaly")
		return AckAnomaly, nil
	}
	if _, err := s.sessions.MarkTerminal(ctx, session.ID, upload.StatusCompleted, time.Now()); err != nil {
		return "", err
	}

	metrics.RecordWebhookResult("success")
	metrics.RecordJobOutcome("completed")
	s.log.Info().
		Str("job_id", job.ID).
		Str("tour_name", session.TourName).
		Int("files", report.FilesExtracted).
		Int64("bytes", report.TotalSize).
		Msg("processing completed")
	return AckApplied, nil
}

func (s *Service) applyFailure(ctx context.Context, session *upload.Session, job *Job, report Report) (Ack, error) {
	stage := Stage(report.Stage)
	if stage == "" {
		stage = job.Stage
	}
	detail := report.ErrorMessage
	if detail == "" {
		detail = "processing failed"
	}

	ok, err := s.jobs.MarkTerminal(ctx, job.ID, TerminalFailed, stage, job.Percent, detail)
	if err != nil {
		return "", err
	}
	if !ok {
		metrics.RecordWebhookResult("anomaly")
		return AckAnomaly, nil
	}
	if _, err := s.sessions.MarkTerminal(ctx, session.ID, upload.StatusFailed, time.Now()); err != nil {
		return "", err
	}

	// Existing published content is deliberately left untouched; a failed
	// update must leave the previous publish servable.
	metrics.RecordWebhookResult("failure")
	metrics.RecordJobOutcome("failed")
	s.log.Warn().
		Str("job_id", job.ID).
		Str("tour_name", session.TourName).
		Str("stage", string(stage)).
		Str("error", detail).
		Msg("processing failed")
	return AckApplied, nil
}

// ApplyProgress applies a verified mid-run stage callback. Updates after a
// terminal state, and percent regressions, are ignored.
func (s *Service) ApplyProgress(ctx context.Context, update ProgressUpdate) error {
	if update.ObjectKey == "" {
		return fmt.Errorf("%w: missing s3_key", ErrUnknownReport)
	}
	session, err := s.sessions.GetLatestByObjectKey(ctx, update.ObjectKey)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrUnknownReport
	}
	job, err := s.jobs.GetBySessionID(ctx, session.ID)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrJobNotFound
	}
	percent := update.Percent
	if percent > 99 {
		// 100 is reserved for the terminal completion report.
		percent = 99
	}
	return s.jobs.UpdateProgress(ctx, job.ID, Stage(update.Stage), percent, update.Message)
}

// GetProgress is the polled read model: it accepts a job id or a session id
// and has no side effects.
func (s *Service) GetProgress(ctx context.Context, id string) (*Progress, error) {
	var job *Job
	var session *upload.Session
	var err error

	switch {
	case strings.HasPrefix(id, tourid.JobPrefix):
		if job, err = s.jobs.GetByID(ctx, id); err != nil {
			return nil, err
		}
		if job == nil {
			return nil, ErrJobNotFound
		}
		if session, err = s.sessions.GetByID(ctx, job.SessionID); err != nil {
			return nil, err
		}
	default:
		if session, err = s.sessions.GetByID(ctx, id); err != nil {
			return nil, err
		}
		if session == nil {
			return nil, upload.ErrSessionNotFound
		}
		if job, err = s.jobs.GetBySessionID(ctx, session.ID); err != nil {
			return nil, err
		}
	}

	progress := &Progress{}
	if session != nil {
		progress.Status = string(session.Status)
	}
	if job != nil {
		progress.Stage = string(job.Stage)
		progress.Percent = job.Percent
		progress.Message = job.Message
		if job.TerminalStatus == TerminalFailed && job.ErrorDetail != "" {
			progress.Message = job.ErrorDetail
		}
	}
	return progress, nil
}

// FailStuckJobs marks every job that has not reached a terminal state within
// the processing ceiling as failed, so a processor crash that never called
// back does not leave the UI polling forever.
func (s *Service) FailStuckJobs(ctx context.Context) error {
	cutoff := time.Now().Add(-s.cfg.ProcessingTimeout)
	stuck, err := s.jobs.FailStuck(ctx, cutoff, timeoutDetail)
	if err != nil {
		return err
	}
	for _, job := range stuck {
		if _, err := s.sessions.MarkTerminal(ctx, job.SessionID, upload.StatusFailed, time.Now()); err != nil {
			s.log.Error().Err(err).Str("session_id", job.SessionID).Msg("fail session for stuck job")
		}
		metrics.RecordJobOutcome("timeout")
		s.log.Warn().Str("job_id", job.ID).Str("stage", string(job.Stage)).Msg("job marked failed by timeout sweep")
	}
	metrics.RecordSweep("stuck_jobs", int64(len(stuck)))
	return nil
}
