package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/planloop-dev/planloop/sessionloop"
)

// FileSink writes a JSON trace of each session to <dir>/<session-id>.json,
// rewriting the file on every update so the trace on disk always reflects
// the latest session state. It implements sessionloop.UpdateSink.
//
// Publish never fails; write errors are logged and dropped, matching the
// loop's fire-and-forget sink contract.
type FileSink struct {
	dir    string
	logger *zap.Logger
}

// NewFileSink creates a FileSink writing into dir.
func NewFileSink(dir string, logger *zap.Logger) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating session log directory %s: %w", dir, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSink{dir: dir, logger: logger}, nil
}

// Publish implements sessionloop.UpdateSink.
func (f *FileSink) Publish(u sessionloop.Update) {
	if u.Session == nil {
		return
	}
	record := struct {
		LastUpdate sessionloop.UpdateKind `json:"last_update"`
		Session    *sessionloop.Session   `json:"session"`
	}{
		LastUpdate: u.Kind,
		Session:    u.Session,
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		f.logger.Warn("session log marshal failed",
			zap.String("session_id", u.Session.ID),
			zap.Error(err),
		)
		return
	}

	path := f.Path(u.Session.ID)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		f.logger.Warn("session log write failed",
			zap.String("path", path),
			zap.Error(err),
		)
	}
}

// Path returns the log file path for a session id.
func (f *FileSink) Path(sessionID string) string {
	return filepath.Join(f.dir, sessionID+".json")
}
