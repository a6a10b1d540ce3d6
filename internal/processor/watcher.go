package processor

import (
	"context"
	"path"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"h3-server/services/tour-api/internal/config"
)

// Watcher drives the processor from the inbox prefix itself: an archive
// sitting at the agreed key pattern is the trigger, so scanning the prefix is
// equivalent to consuming the storage's object-created events, with the same
// at-least-once semantics. The idempotency guards in Process absorb repeats.
type Watcher struct {
	cfg       *config.Config
	gateway   Gateway
	processor *Processor
	log       zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewWatcher(cfg *config.Config, gateway Gateway, proc *Processor, log zerolog.Logger) *Watcher {
	return &Watcher{
		cfg:       cfg,
		gateway:   gateway,
		processor: proc,
		log:       log.With().Str("component", "inbox-watcher").Logger(),
		inFlight:  make(map[string]struct{}),
	}
}

// Scan lists the inbox and processes every archive found. Keys already being
// processed by a previous overlapping scan are skipped.
func (w *Watcher) Scan(ctx context.Context) {
	keys, err := w.gateway.ListPrefix(ctx, w.cfg.UploadPrefix)
	if err != nil {
		w.log.Error().Err(err).Msg("list inbox")
		return
	}

	for _, key := range keys {
		if !strings.EqualFold(path.Ext(key), ".zip") {
			continue
		}
		if !w.claim(key) {
			continue
		}
		func() {
			defer w.release(key)
			if err := w.processor.Process(ctx, key); err != nil {
				w.log.Error().Err(err).Str("key", key).Msg("processing run failed")
			}
		}()
	}
}

func (w *Watcher) claim(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.inFlight[key]; busy {
		return false
	}
	w.inFlight[key] = struct{}{}
	return true
}

func (w *Watcher) release(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inFlight, key)
}
