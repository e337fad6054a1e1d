package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/llm-council/llm-council/gateway/internal/domain/service"
	"github.com/llm-council/llm-council/gateway/pkg/errors"
	"github.com/llm-council/llm-council/gateway/pkg/safego"
)

// Overlay is the persisted runtime configuration. Only these four keys are
// writable at runtime; everything else in Settings is environment-only.
type Overlay struct {
	CouncilModels  []string `json:"council_models"`
	ChairmanModel  string   `json:"chairman_model"`
	BackendMode    string   `json:"backend_mode"`
	BackendBaseURL string   `json:"backend_base_url"`
}

// Clone returns a deep copy so callers can never mutate the cached roster.
func (o Overlay) Clone() Overlay {
	out := o
	out.CouncilModels = append([]string(nil), o.CouncilModels...)
	return out
}

// criticalKeysMatch reports whether the overlay agrees with the environment
// on the keys that decide authority: the roster as a set, and the chairman.
func (o Overlay) criticalKeysMatch(env Overlay) bool {
	if o.ChairmanModel != env.ChairmanModel {
		return false
	}
	return sameSet(o.CouncilModels, env.CouncilModels)
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// Store resolves the live runtime configuration. The environment is the
// source of truth at process start: the overlay file is honored only while
// its critical keys match the environment, otherwise it is considered stale
// (the deployment changed underneath it) and rewritten from the environment.
// Runtime updates through the API then move the overlay away from the
// environment values without losing authority, because authority is decided
// once per cache fill, not per read.
type Store struct {
	mu     sync.Mutex
	path   string
	env    Overlay
	cache  *Overlay
	logger *zap.Logger

	// onUpdate, if set, runs in its own goroutine after a successful
	// Update with the new overlay. Must not call back into the store.
	onUpdate func(Overlay)
}

// SetOnUpdate registers the post-update hook.
func (s *Store) SetOnUpdate(fn func(Overlay)) {
	s.mu.Lock()
	s.onUpdate = fn
	s.mu.Unlock()
}

// NewStore builds a store over the overlay file at path. env is the
// environment snapshot captured at startup.
func NewStore(path string, env Overlay, logger *zap.Logger) *Store {
	return &Store{
		path:   path,
		env:    env.Clone(),
		logger: logger.With(zap.String("component", "config-store")),
	}
}

// NewStoreFromSettings captures the environment snapshot out of Settings.
func NewStoreFromSettings(settings *Settings, logger *zap.Logger) *Store {
	return NewStore(settings.ConfigFile, Overlay{
		CouncilModels:  settings.CouncilModels,
		ChairmanModel:  settings.ChairmanModel,
		BackendMode:    settings.BackendMode,
		BackendBaseURL: settings.BackendBaseURL,
	}, logger)
}

// Get returns the resolved runtime configuration, filling the cache on the
// first call after startup or invalidation.
func (s *Store) Get() Overlay {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveLocked().Clone()
}

// CouncilConfig implements service.ConfigProvider.
func (s *Store) CouncilConfig() service.CouncilConfig {
	o := s.Get()
	return service.CouncilConfig{Members: o.CouncilModels, Chairman: o.ChairmanModel}
}

// Update applies a partial change to the runtime configuration and persists
// the merged overlay. Nil or empty fields in the patch leave the current
// value untouched.
func (s *Store) Update(patch Overlay) (Overlay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.resolveLocked().Clone()
	if len(patch.CouncilModels) > 0 {
		current.CouncilModels = append([]string(nil), patch.CouncilModels...)
	}
	if patch.ChairmanModel != "" {
		current.ChairmanModel = patch.ChairmanModel
	}
	if patch.BackendMode != "" {
		current.BackendMode = patch.BackendMode
	}
	if patch.BackendBaseURL != "" {
		current.BackendBaseURL = patch.BackendBaseURL
	}

	if err := s.writeLocked(current); err != nil {
		return Overlay{}, err
	}
	s.cache = &current
	s.logger.Info("Runtime configuration updated",
		zap.Strings("council_models", current.CouncilModels),
		zap.String("chairman_model", current.ChairmanModel),
	)
	if s.onUpdate != nil {
		fn := s.onUpdate
		snapshot := current.Clone()
		safego.Go(s.logger, "config-update-hook", func() { fn(snapshot) })
	}
	return current.Clone(), nil
}

// Reload drops the cache; the next Get re-reads the overlay file and
// re-applies the environment-priority rule.
func (s *Store) Reload() Overlay {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = nil
	return s.resolveLocked().Clone()
}

// resolveLocked fills the cache if empty and returns the live overlay.
// Caller holds s.mu.
func (s *Store) resolveLocked() Overlay {
	if s.cache != nil {
		return *s.cache
	}

	fromFile, err := s.readFile()
	switch {
	case err != nil:
		s.logger.Warn("Overlay file unreadable, using environment configuration",
			zap.String("path", s.path), zap.Error(err))
		resolved := s.env.Clone()
		if werr := s.writeLocked(resolved); werr != nil {
			s.logger.Warn("Failed to seed overlay file", zap.Error(werr))
		}
		s.cache = &resolved
	case fromFile.criticalKeysMatch(s.env):
		resolved := fromFile.Clone()
		s.cache = &resolved
	default:
		s.logger.Info("Overlay file disagrees with environment, environment wins",
			zap.Strings("file_models", fromFile.CouncilModels),
			zap.Strings("env_models", s.env.CouncilModels),
		)
		resolved := s.env.Clone()
		if werr := s.writeLocked(resolved); werr != nil {
			s.logger.Warn("Failed to rewrite stale overlay file", zap.Error(werr))
		}
		s.cache = &resolved
	}
	return *s.cache
}

func (s *Store) readFile() (Overlay, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return Overlay{}, err
	}
	var o Overlay
	if err := json.Unmarshal(raw, &o); err != nil {
		return Overlay{}, errors.NewConfigValidationError(fmt.Sprintf("malformed overlay file %s: %v", s.path, err))
	}
	return o, nil
}

// writeLocked persists the overlay atomically: write to a temp file in the
// same directory, then rename over the target. Caller holds s.mu.
func (s *Store) writeLocked(o Overlay) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.NewStorageError(fmt.Sprintf("create config dir %s", dir), err)
	}

	raw, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return errors.NewInternalErrorWithCause("marshal overlay", err)
	}

	tmp, err := os.CreateTemp(dir, ".council_config-*.json")
	if err != nil {
		return errors.NewStorageError("create temp overlay file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.NewStorageError("write temp overlay file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.NewStorageError("close temp overlay file", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return errors.NewStorageError("replace overlay file", err)
	}
	return nil
}

// Watch invalidates the cache when the overlay file changes on disk, so
// out-of-band edits take effect without a restart. Events caused by the
// store's own writes are recognized by content comparison and ignored,
// otherwise every Update would immediately trip the environment-priority
// rule and revert itself. The returned stop function ends the watch.
func (s *Store) Watch() (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.NewInternalErrorWithCause("create config watcher", err)
	}

	// Watch the directory, not the file: atomic rename replaces the inode.
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		watcher.Close()
		return nil, errors.NewStorageError(fmt.Sprintf("create config dir %s", dir), err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, errors.NewInternalErrorWithCause("watch config dir", err)
	}

	done := make(chan struct{})
	safego.Go(s.logger, "config-watch", func() {
		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(s.path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				s.onFileEvent()
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("Config watcher error", zap.Error(werr))
			}
		}
	})

	return func() {
		close(done)
		watcher.Close()
	}, nil
}

// onFileEvent drops the cache only when the on-disk content differs from it.
func (s *Store) onFileEvent() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cache == nil {
		return
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		s.logger.Warn("Overlay file vanished or unreadable after change event", zap.Error(err))
		s.cache = nil
		return
	}
	cached, err := json.MarshalIndent(*s.cache, "", "  ")
	if err == nil && bytes.Equal(bytes.TrimSpace(raw), bytes.TrimSpace(cached)) {
		return // our own write landing on disk
	}
	s.logger.Info("Overlay file changed on disk, invalidating cache",
		zap.String("path", s.path))
	s.cache = nil
}
