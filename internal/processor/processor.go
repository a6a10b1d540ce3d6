// Package processor implements the out-of-process extraction pipeline: it
// downloads an uploaded archive from the inbox prefix, extracts it, maps each
// entry to a content type, republishes everything under the public prefix and
// reports the outcome back to the control plane over the signed webhook.
package processor

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"h3-server/services/tour-api/internal/config"
	"h3-server/services/tour-api/internal/domain/processing"
	"h3-server/services/tour-api/internal/infrastructure/cdn"
	"h3-server/services/tour-api/internal/infrastructure/metrics"
	"h3-server/services/tour-api/internal/infrastructure/storage"
)

var (
	ErrOutsideInbox = errors.New("object is outside the inbox prefix")
	ErrNotArchive   = errors.New("object is not a zip archive")
	ErrTooLarge     = errors.New("archive exceeds the maximum size")
	ErrEmptyName    = errors.New("object key yields an empty content name")
	ErrEmptyArchive = errors.New("archive contains no publishable files")
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9-_]`)

// Long-lived cache headers for published tour assets; updates go through CDN
// invalidation instead of short TTLs.
const publishedCacheControl = "max-age=31536000"

// Gateway is the object store surface the pipeline needs.
type Gateway interface {
	Head(ctx context.Context, key string) (*storage.ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Put(ctx context.Context, key string, body io.Reader, contentType, cacheControl string) error
	Copy(ctx context.Context, srcKey, dstKey string) error
	Delete(ctx context.Context, key string) error
	ListPrefix(ctx context.Context, prefix string) ([]string, error)
}

// Reporter delivers progress and terminal callbacks to the control plane.
// Terminal reports are best-effort mandatory: the pipeline always attempts
// one, because the control plane has no other way to learn the run died.
type Reporter interface {
	ReportProgress(ctx context.Context, update processing.ProgressUpdate)
	Report(ctx context.Context, report processing.Report) error
}

// Metadata is the marker object written next to the published files.
type Metadata struct {
	TourName     string    `json:"tour_name"`
	OriginalFile string    `json:"original_file"`
	ExtractedAt  time.Time `json:"extracted_at"`
	FilesCount   int       `json:"files_count"`
	TotalSize    int64     `json:"total_size"`
	Structure    string    `json:"structure"`
}

// Result summarizes one pipeline run.
type Result struct {
	TourName       string
	StoragePrefix  string
	FilesExtracted int
	TotalSize      int64
	Structure      string
}

// Processor runs the extraction pipeline for one inbox object at a time.
type Processor struct {
	cfg         *config.Config
	gateway     Gateway
	reporter    Reporter
	invalidator cdn.Invalidator
	log         zerolog.Logger
}

func New(cfg *config.Config, gateway Gateway, reporter Reporter, invalidator cdn.Invalidator, log zerolog.Logger) *Processor {
	return &Processor{
		cfg:         cfg,
		gateway:     gateway,
		reporter:    reporter,
		invalidator: invalidator,
		log:         log.With().Str("component", "processor").Logger(),
	}
}

// Process handles one storage event for key. Redelivered events for an object
// that has already been processed (and therefore moved out of the inbox) are
// skipped, which makes reprocessing safe under at-least-once delivery.
func (p *Processor) Process(ctx context.Context, key string) error {
	start := time.Now()

	result, err := p.run(ctx, key, start)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			p.log.Info().Str("key", key).Msg("inbox object already gone, skipping redelivery")
			return nil
		}
		p.moveInboxObject(ctx, key, p.cfg.FailedPrefix)
		report := processing.Report{
			Success:          false,
			TourName:         SanitizeKeyName(key, p.cfg.UploadPrefix),
			ObjectKey:        key,
			ErrorMessage:     err.Error(),
			Stage:            stageOf(err),
			ProcessingTimeMS: time.Since(start).Milliseconds(),
			Timestamp:        time.Now().UTC().Format(time.RFC3339),
		}
		if rerr := p.reporter.Report(ctx, report); rerr != nil {
			p.log.Error().Err(rerr).Str("key", key).Msg("failure report could not be delivered")
		}
		return err
	}

	// Cleanup: move the source archive out of the inbox so storage-event
	// redelivery finds nothing to reprocess.
	p.progress(ctx, key, processing.StageCleanup, 97, "archiving source upload")
	p.moveInboxObject(ctx, key, p.cfg.ProcessedPrefix)

	report := processing.Report{
		Success:          true,
		TourName:         result.TourName,
		ObjectKey:        key,
		StoragePrefix:    result.StoragePrefix,
		FilesExtracted:   result.FilesExtracted,
		TotalSize:        result.TotalSize,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
		Stage:            string(processing.StageCleanup),
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
	}
	if err := p.reporter.Report(ctx, report); err != nil {
		return fmt.Errorf("deliver success report: %w", err)
	}

	p.log.Info().
		Str("tour_name", result.TourName).
		Int("files", result.FilesExtracted).
		Int64("bytes", result.TotalSize).
		Dur("elapsed", time.Since(start)).
		Msg("tour processed")
	return nil
}

func (p *Processor) run(ctx context.Context, key string, start time.Time) (*Result, error) {
	// Fail fast before downloading anything.
	if !strings.HasPrefix(key, p.cfg.UploadPrefix) {
		return nil, stageErr(processing.StageValidating, ErrOutsideInbox)
	}
	if !strings.EqualFold(path.Ext(key), ".zip") {
		return nil, stageErr(processing.StageValidating, ErrNotArchive)
	}
	name := SanitizeKeyName(key, p.cfg.UploadPrefix)
	if name == "" {
		return nil, stageErr(processing.StageValidating, ErrEmptyName)
	}

	info, err := p.gateway.Head(ctx, key)
	if err != nil {
		return nil, err
	}
	if info.Size > p.cfg.MaxArchiveBytes {
		return nil, stageErr(processing.StageValidating,
			fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, info.Size, p.cfg.MaxArchiveBytes))
	}

	p.progress(ctx, key, processing.StageDownloading, 10, "downloading archive")
	body, err := p.gateway.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(body)
	body.Close()
	if err != nil {
		return nil, stageErr(processing.StageDownloading, fmt.Errorf("read archive body: %w", err))
	}

	p.progress(ctx, key, processing.StageValidating, 25, "validating archive")
	if !mimetype.Detect(data).Is("application/zip") {
		return nil, stageErr(processing.StageValidating, ErrNotArchive)
	}

	p.progress(ctx, key, processing.StageExtracting, 30, "extracting archive")
	entries, structure, err := extractArchive(data)
	if err != nil {
		return nil, stageErr(processing.StageExtracting, err)
	}
	if len(entries) == 0 {
		return nil, stageErr(processing.StageExtracting, ErrEmptyArchive)
	}

	result := &Result{
		TourName:      name,
		StoragePrefix: p.cfg.ToursPrefix + name + "/",
		Structure:     structure,
	}

	p.progress(ctx, key, processing.StageUploading, 60, "publishing tour files")
	for i, entry := range entries {
		if err := p.gateway.Put(ctx, result.StoragePrefix+entry.path,
			bytes.NewReader(entry.data), ContentTypeFor(entry.path), publishedCacheControl); err != nil {
			return nil, stageErr(processing.StageUploading, err)
		}
		result.FilesExtracted++
		result.TotalSize += int64(len(entry.data))
		metrics.PublishedFilesTotal.Inc()
		if (i+1)%25 == 0 {
			percent := 60 + (30*(i+1))/len(entries)
			p.progress(ctx, key, processing.StageUploading, percent,
				fmt.Sprintf("published %d/%d files", i+1, len(entries)))
		}
	}

	meta := Metadata{
		TourName:     name,
		OriginalFile: key,
		ExtractedAt:  time.Now().UTC(),
		FilesCount:   result.FilesExtracted,
		TotalSize:    result.TotalSize,
		Structure:    structure,
	}
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, stageErr(processing.StageUploading, err)
	}
	if err := p.gateway.Put(ctx, result.StoragePrefix+"tour-metadata.json",
		bytes.NewReader(metaJSON), "application/json", ""); err != nil {
		return nil, stageErr(processing.StageUploading, err)
	}

	// Invalidation failure is non-fatal: the publish already succeeded and
	// cache staleness is acceptable.
	p.progress(ctx, key, processing.StageInvalidating, 92, "invalidating cdn cache")
	if err := p.invalidator.Invalidate(ctx, []string{"/" + result.StoragePrefix + "*"}); err != nil {
		p.log.Warn().Err(err).Str("prefix", result.StoragePrefix).Msg("cdn invalidation failed, continuing")
	}

	return result, nil
}

// moveInboxObject copies the source object out of the inbox and deletes the
// original. Best effort; losing this move only risks a redundant reprocess.
func (p *Processor) moveInboxObject(ctx context.Context, key, destPrefix string) {
	target := strings.Replace(key, p.cfg.UploadPrefix, destPrefix, 1)
	if err := p.gateway.Copy(ctx, key, target); err != nil {
		p.log.Error().Err(err).Str("key", key).Str("target", target).Msg("move inbox object: copy")
		return
	}
	if err := p.gateway.Delete(ctx, key); err != nil {
		p.log.Error().Err(err).Str("key", key).Msg("move inbox object: delete")
	}
}

func (p *Processor) progress(ctx context.Context, key string, stage processing.Stage, percent int, message string) {
	p.reporter.ReportProgress(ctx, processing.ProgressUpdate{
		ObjectKey: key,
		Stage:     string(stage),
		Percent:   percent,
		Message:   message,
	})
}

// SanitizeKeyName derives the published content name from an inbox key:
// strip the prefix and extension, then map everything outside the safe
// alphabet to underscores. Deterministic; cannot produce a traversal.
func SanitizeKeyName(key, inboxPrefix string) string {
	name := strings.TrimPrefix(key, inboxPrefix)
	name = strings.TrimSuffix(name, path.Ext(name))
	name = path.Base(name)
	return unsafeChars.ReplaceAllString(name, "_")
}

type archiveEntry struct {
	path string
	data []byte
}

// extractArchive returns the publishable entries of the archive. Tours are
// commonly packaged with the web payload nested in an inner Web.zip; when one
// is present its contents are published instead of the outer wrapper.
func extractArchive(data []byte) ([]archiveEntry, string, error) {
	entries, nested, err := readZip(data)
	if err != nil {
		return nil, "", err
	}
	if nested != nil {
		inner, _, err := readZip(nested)
		if err != nil {
			return nil, "", fmt.Errorf("nested web archive: %w", err)
		}
		return inner, "nested", nil
	}
	return entries, "flat", nil
}

func readZip(data []byte) (entries []archiveEntry, nestedWebZip []byte, err error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, fmt.Errorf("open archive: %w", err)
	}

	for _, file := range reader.File {
		if file.FileInfo().IsDir() {
			continue
		}
		clean, ok := safeEntryPath(file.Name)
		if !ok {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, nil, fmt.Errorf("open entry %s: %w", file.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("read entry %s: %w", file.Name, err)
		}
		if len(content) == 0 {
			continue
		}
		if strings.HasSuffix(strings.ToLower(clean), "web.zip") {
			nestedWebZip = content
			continue
		}
		entries = append(entries, archiveEntry{path: clean, data: content})
	}
	return entries, nestedWebZip, nil
}

// safeEntryPath normalizes an archive entry path and rejects anything that
// could escape the publish prefix.
func safeEntryPath(name string) (string, bool) {
	clean := path.Clean(strings.ReplaceAll(name, `\`, "/"))
	if clean == "." || clean == "/" {
		return "", false
	}
	clean = strings.TrimPrefix(clean, "/")
	if clean == "" || strings.HasPrefix(clean, "../") || strings.Contains(clean, "/../") {
		return "", false
	}
	return clean, true
}

type stagedError struct {
	stage processing.Stage
	err   error
}

func (e *stagedError) Error() string { return e.err.Error() }
func (e *stagedError) Unwrap() error { return e.err }

func stageErr(stage processing.Stage, err error) error {
	return &stagedError{stage: stage, err: err}
}

func stageOf(err error) string {
	var staged *stagedError
	if errors.As(err, &staged) {
		return string(staged.stage)
	}
	return string(processing.StageDownloading)
}
