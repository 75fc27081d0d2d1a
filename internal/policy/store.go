package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/fsnotify/fsnotify"
	yamlparser "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conductd/internal/events"
)

// maxStateFileSize caps the persisted profile file.
const maxStateFileSize = 64 * 1024

// Config configures the policy store.
type Config struct {
	// InitialProfile is applied at construction (default: balanced).
	InitialProfile string

	// StateFile optionally persists the profile selection. When set, the
	// file is rewritten on SetProfile and watched for external edits so a
	// change takes effect without restarting the daemon.
	StateFile string
}

// Store resolves autonomy settings. Resolution order is session override,
// then the active profile, then the built-in default; a recognized key is
// never unresolved. All mutations publish change notifications on the bus.
type Store struct {
	mu        sync.RWMutex
	profile   Profile
	active    *koanf.Koanf
	defaults  *koanf.Koanf
	overrides map[string]any

	stateFile string
	watcher   *fsnotify.Watcher

	bus    *events.Bus
	logger *zap.Logger
}

// NewStore creates a policy store with the configured initial profile.
func NewStore(cfg *Config, bus *events.Bus, logger *zap.Logger) (*Store, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if bus == nil {
		bus = events.NewBus(logger)
	}

	initial := ProfileBalanced
	if cfg.InitialProfile != "" {
		p, err := ParseProfile(cfg.InitialProfile)
		if err != nil {
			return nil, err
		}
		initial = p
	}

	active, err := loadProfile(initial)
	if err != nil {
		return nil, err
	}
	// Balanced doubles as the built-in default layer.
	defaults, err := loadProfile(ProfileBalanced)
	if err != nil {
		return nil, err
	}

	s := &Store{
		profile:   initial,
		active:    active,
		defaults:  defaults,
		overrides: make(map[string]any),
		stateFile: cfg.StateFile,
		bus:       bus,
		logger:    logger.Named("policy"),
	}

	if s.stateFile != "" {
		if err := s.save(); err != nil {
			return nil, fmt.Errorf("failed to persist initial profile: %w", err)
		}
	}

	return s, nil
}

// Profile returns the active profile name.
func (s *Store) Profile() Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

// Resolve returns the effective value for key: session overrides first,
// then the active profile, then the built-in default.
func (s *Store) Resolve(key string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveLocked(key)
}

func (s *Store) resolveLocked(key string) any {
	if v, ok := s.overrides[key]; ok {
		return v
	}
	if s.active.Exists(key) {
		return s.active.Get(key)
	}
	return s.defaults.Get(key)
}

// ResolveBool resolves key as a boolean; unrecognized keys resolve false.
func (s *Store) ResolveBool(key string) bool {
	b, _ := s.Resolve(key).(bool)
	return b
}

// ResolveInt resolves key as an integer; unrecognized keys resolve zero.
func (s *Store) ResolveInt(key string) int {
	switch v := s.Resolve(key).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// ResolveString resolves key as a string; unrecognized keys resolve empty.
func (s *Store) ResolveString(key string) string {
	v, _ := s.Resolve(key).(string)
	return v
}

// SetProfile validates name against the fixed enum and applies the profile
// atomically: the full replacement settings map is built before the swap,
// so partial application is never observable. Every setting whose value
// changed emits a policy_changed notification.
func (s *Store) SetProfile(name string) error {
	p, err := ParseProfile(name)
	if err != nil {
		return err
	}

	next, err := loadProfile(p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.profile == p {
		s.mu.Unlock()
		return nil
	}
	oldSettings := s.active.All()
	s.active = next
	s.profile = p
	newSettings := next.All()
	stateFile := s.stateFile
	s.mu.Unlock()

	s.logger.Info("applied autonomy profile", zap.String("profile", string(p)))

	for key, newVal := range newSettings {
		oldVal := oldSettings[key]
		if reflect.DeepEqual(oldVal, newVal) {
			continue
		}
		s.bus.Publish(events.Event{
			Kind: events.KindPolicyChanged,
			Key:  key,
			Old:  oldVal,
			New:  newVal,
		})
	}

	if stateFile != "" {
		if err := s.save(); err != nil {
			s.logger.Warn("failed to persist profile selection", zap.Error(err))
		}
	}
	return nil
}

// SetOverride records a session-scoped override. Overrides are consulted
// before the active profile and are never persisted.
func (s *Store) SetOverride(key string, value any) {
	s.mu.Lock()
	old := s.resolveLocked(key)
	s.overrides[key] = value
	s.mu.Unlock()

	s.logger.Debug("set policy override", zap.String("key", key))
	s.bus.Publish(events.Event{
		Kind: events.KindPolicyChanged,
		Key:  key,
		Old:  old,
		New:  value,
	})
}

// ClearOverride removes a session override, restoring profile resolution.
func (s *Store) ClearOverride(key string) {
	s.mu.Lock()
	old, ok := s.overrides[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.overrides, key)
	restored := s.resolveLocked(key)
	s.mu.Unlock()

	s.bus.Publish(events.Event{
		Kind: events.KindPolicyChanged,
		Key:  key,
		Old:  old,
		New:  restored,
	})
}

// Overrides returns a copy of the current override map.
func (s *Store) Overrides() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any, len(s.overrides))
	for k, v := range s.overrides {
		out[k] = v
	}
	return out
}

// Settings returns the effective flattened settings map, with overrides
// applied on top of the active profile.
func (s *Store) Settings() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.active.All()
	for k, v := range s.overrides {
		out[k] = v
	}
	return out
}

// save persists the active profile selection to the state file.
func (s *Store) save() error {
	s.mu.RLock()
	path := s.stateFile
	profile := s.profile
	s.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	content := fmt.Sprintf("autonomy-settings:\n  level: %s\n", profile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Watch watches the state file for external edits and re-applies the
// profile it names. Returns immediately; watching stops when ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	if s.stateFile == "" {
		return fmt.Errorf("no state file configured")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory: editors and atomic renames replace the file node.
	if err := watcher.Add(filepath.Dir(s.stateFile)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch state directory: %w", err)
	}

	s.mu.Lock()
	s.watcher = watcher
	s.mu.Unlock()

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if evt.Name != s.stateFile {
					continue
				}
				if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
					continue
				}
				s.reloadStateFile()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("state file watch error", zap.Error(err))
			}
		}
	}()

	return nil
}

// reloadStateFile re-reads the persisted selection and applies it.
func (s *Store) reloadStateFile() {
	info, err := os.Stat(s.stateFile)
	if err != nil {
		s.logger.Warn("failed to stat state file", zap.Error(err))
		return
	}
	if info.Size() > maxStateFileSize {
		s.logger.Warn("state file too large, ignoring", zap.Int64("size", info.Size()))
		return
	}

	raw, err := os.ReadFile(s.stateFile)
	if err != nil {
		s.logger.Warn("failed to read state file", zap.Error(err))
		return
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(raw), yamlparser.Parser()); err != nil {
		s.logger.Warn("failed to parse state file", zap.Error(err))
		return
	}

	level := k.String(KeyLevel)
	if level == "" || Profile(level) == s.Profile() {
		return
	}

	s.logger.Info("state file changed, applying profile", zap.String("profile", level))
	if err := s.SetProfile(level); err != nil {
		s.logger.Warn("state file names invalid profile", zap.String("profile", level), zap.Error(err))
	}
}
