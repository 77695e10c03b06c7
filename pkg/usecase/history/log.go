package history

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/m-mizutani/deepspace/pkg/model"
	"github.com/m-mizutani/deepspace/pkg/repository"
	"github.com/m-mizutani/deepspace/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Log is the append-only interaction history. Every mutation is mirrored to
// the repository as a full snapshot.
type Log struct {
	mu      sync.Mutex
	repo    repository.Repository
	entries []model.Interaction
	subs    []chan struct{}
	onClear func(ctx context.Context, cleared []model.Interaction)
}

type Option func(*Log)

// WithClearHook registers fn to run after Clear with the removed entries
func WithClearHook(fn func(ctx context.Context, cleared []model.Interaction)) Option {
	return func(l *Log) {
		l.onClear = fn
	}
}

// New creates a Log and rehydrates it from repo. A missing or unreadable
// stored log yields an empty history.
func New(ctx context.Context, repo repository.Repository, opts ...Option) *Log {
	l := &Log{repo: repo}
	for _, opt := range opts {
		opt(l)
	}
	l.entries = load(ctx, repo)
	return l
}

func load(ctx context.Context, repo repository.Repository) []model.Interaction {
	logger := logging.From(ctx)

	data, err := repo.GetHistory(ctx)
	if errors.Is(err, model.ErrHistoryNotFound) {
		return nil
	}
	if err != nil {
		logger.Warn("failed to load history, starting empty", "error", err)
		return nil
	}

	var entries []model.Interaction
	if err := json.Unmarshal(data, &entries); err != nil {
		logger.Warn("stored history is corrupted, starting empty", "error", err, "size", len(data))
		return nil
	}

	return entries
}

// Append adds x to the end of the log. An assistant interaction is accepted
// only after a user interaction for the same image.
func (l *Log) Append(ctx context.Context, x model.Interaction) error {
	if err := x.Validate(); err != nil {
		return goerr.Wrap(err, "invalid interaction")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if x.Role == model.RoleAssistant && !l.hasUserImage(x.Image) {
		return goerr.Wrap(model.ErrDanglingInteraction, "no user interaction for image",
			goerr.V("image", x.Image))
	}

	l.entries = append(l.entries, x)
	l.save(ctx)
	l.notify()
	return nil
}

func (l *Log) hasUserImage(ref model.ImageRef) bool {
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Role == model.RoleUser && l.entries[i].Image == ref {
			return true
		}
	}
	return false
}

// Clear empties the log and removes the persisted copy
func (l *Log) Clear(ctx context.Context) {
	l.mu.Lock()
	cleared := l.entries
	l.entries = nil
	if err := l.repo.DeleteHistory(ctx); err != nil {
		logging.From(ctx).Warn("failed to delete stored history", "error", err)
	}
	l.notify()
	l.mu.Unlock()

	if l.onClear != nil && len(cleared) > 0 {
		l.onClear(ctx, cleared)
	}
}

// Entries returns a copy of the log in chronological order
func (l *Log) Entries() []model.Interaction {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]model.Interaction, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Subscribe returns a channel signaled after every mutation. Signals are
// coalesced when the receiver is slow.
func (l *Log) Subscribe() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch := make(chan struct{}, 1)
	l.subs = append(l.subs, ch)
	return ch
}

func (l *Log) notify() {
	for _, ch := range l.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// save writes the whole log. It runs under l.mu so snapshots reach the
// repository in mutation order. Failures are logged only.
func (l *Log) save(ctx context.Context) {
	logger := logging.From(ctx)

	data, err := json.Marshal(l.entries)
	if err != nil {
		logger.Warn("failed to marshal history", "error", err)
		return
	}
	if err := l.repo.PutHistory(ctx, data); err != nil {
		logger.Warn("failed to save history", "error", err, "entries", len(l.entries))
	}
}
