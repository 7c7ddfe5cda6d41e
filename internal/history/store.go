package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/utils/v4"
	"go.uber.org/zap"

	"atomic-image-manager/internal/metrics"
)

// MaxEntries is the most entries the store keeps.
const MaxEntries = 50

const (
	appDirName  = "atomic-image-manager"
	historyFile = "command_history.json"
)

// DefaultPath returns the per-user history file location under
// $XDG_DATA_HOME, falling back to ~/.local/share.
func DefaultPath() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, appDirName, historyFile)
}

// Store reads and writes the history file. Writes are serialised within the
// process; across processes the atomic rename keeps the file intact.
type Store struct {
	path       string
	maxEntries int
	audit      AuditSink
	clock      clock.Clock
	logger     *zap.Logger
	metrics    *metrics.Metrics

	userID    func() *int
	sessionID func() *string

	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithAuditSink sets the system log mirror. nil disables it.
func WithAuditSink(sink AuditSink) Option {
	return func(s *Store) { s.audit = sink }
}

// WithMaxEntries overrides MaxEntries.
func WithMaxEntries(n int) Option {
	return func(s *Store) { s.maxEntries = n }
}

// WithClock sets the clock used for entry timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithMetrics records history write metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithIdentity overrides how the audit user and session are obtained.
func WithIdentity(userID func() *int, sessionID func() *string) Option {
	return func(s *Store) {
		s.userID = userID
		s.sessionID = sessionID
	}
}

// NewStore creates a store backed by path. An empty path selects
// DefaultPath.
func NewStore(path string, opts ...Option) *Store {
	if path == "" {
		path = DefaultPath()
	}
	s := &Store{
		path:       path,
		maxEntries: MaxEntries,
		audit:      SystemAuditSink(),
		clock:      clock.WallClock,
		logger:     zap.NewNop(),
		userID:     currentUserID,
		sessionID:  currentSessionID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the history file path.
func (s *Store) Path() string { return s.path }

func currentUserID() *int {
	uid := os.Getuid()
	if uid < 0 {
		return nil
	}
	return &uid
}

func currentSessionID() *string {
	for _, key := range []string{"XDG_SESSION_ID", "SESSIONID"} {
		if v := os.Getenv(key); v != "" {
			return &v
		}
	}
	return nil
}

// AddEntry records a completed operation. The audit mirror is best effort;
// only a failure to write the history file is returned.
func (s *Store) AddEntry(command string, success bool, imageName string, op OperationType, errorMessage string) (Entry, error) {
	if op == "" {
		op = OpOther
	}
	entry := Entry{
		Command:       command,
		Timestamp:     float64(s.clock.Now().UnixNano()) / float64(time.Second),
		Success:       success,
		ImageName:     imageName,
		OperationType: op,
		UserID:        s.userID(),
		SessionID:     s.sessionID(),
	}
	if errorMessage != "" {
		entry.ErrorMessage = &errorMessage
	}

	if s.audit != nil {
		if err := s.audit.Record(entry); err != nil {
			s.logger.Debug("audit log unavailable", zap.Error(err))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entries := append([]Entry{entry}, s.load()...)
	if len(entries) > s.maxEntries {
		entries = entries[:s.maxEntries]
	}
	err := s.save(entries)
	s.metrics.HistoryWrite(err)
	return entry, err
}

// GetRecentEntries returns up to limit entries, newest first. A
// non-positive limit returns every entry.
func (s *Store) GetRecentEntries(limit int) []Entry {
	entries := s.Entries()
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// Entries returns every stored entry, newest first.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// GetEntriesByType returns the entries of one operation type.
func (s *Store) GetEntriesByType(op OperationType) []Entry {
	return s.filter(func(e Entry) bool { return e.OperationType == op })
}

// GetSuccessfulEntries returns the entries that succeeded.
func (s *Store) GetSuccessfulEntries() []Entry {
	return s.filter(func(e Entry) bool { return e.Success })
}

// GetFailedEntries returns the entries that failed.
func (s *Store) GetFailedEntries() []Entry {
	return s.filter(func(e Entry) bool { return !e.Success })
}

func (s *Store) filter(keep func(Entry) bool) []Entry {
	var out []Entry
	for _, e := range s.Entries() {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// PruneOldEntries trims the file to the entry cap and returns how many
// entries were removed.
func (s *Store) PruneOldEntries() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.load()
	if len(entries) <= s.maxEntries {
		return 0, nil
	}
	removed := len(entries) - s.maxEntries
	if err := s.save(entries[:s.maxEntries]); err != nil {
		return 0, err
	}
	return removed, nil
}

// ClearHistory removes every entry.
func (s *Store) ClearHistory() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save([]Entry{})
}

// ExportHistory writes a copy of the history to path.
func (s *Store) ExportHistory(path string) error {
	data, err := encode(s.Entries())
	if err == nil {
		err = os.WriteFile(path, data, 0o600)
	}
	if err != nil {
		return sentinels.Wrap(ErrExportHistory, err,
			fmt.Sprintf("failed to export history to %s: %v", path, err),
			map[string]any{"path": path})
	}
	return nil
}

// load reads the file. A missing, unreadable or corrupted file is empty;
// malformed entries are skipped.
func (s *Store) load() []Entry {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Debug("history unreadable", zap.String("path", s.path), zap.Error(err))
		}
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Debug("history corrupted, starting empty", zap.String("path", s.path), zap.Error(err))
		return nil
	}
	entries := make([]Entry, 0, len(raw))
	for i, item := range raw {
		var fields map[string]any
		err := json.Unmarshal(item, &fields)
		var e Entry
		if err == nil {
			e, err = EntryFromDict(fields)
		}
		if err != nil {
			s.logger.Debug("skipping malformed history entry", zap.Int("index", i), zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	return entries
}

func (s *Store) save(entries []Entry) error {
	data, err := encode(entries)
	if err == nil {
		err = os.MkdirAll(filepath.Dir(s.path), 0o700)
	}
	if err == nil {
		// Writes a temporary file in the same directory and renames it
		// over the target.
		err = utils.AtomicWriteFile(s.path, data, 0o600)
	}
	if err == nil {
		err = os.Chmod(s.path, 0o600)
	}
	if err != nil {
		s.logger.Debug("history write failed", zap.String("path", s.path), zap.Error(err))
		return sentinels.Wrap(ErrWriteHistory, err,
			fmt.Sprintf("failed to save history: %v", err),
			map[string]any{"path": s.path})
	}
	return nil
}

func encode(entries []Entry) ([]byte, error) {
	if entries == nil {
		entries = []Entry{}
	}
	return json.MarshalIndent(entries, "", "  ")
}
