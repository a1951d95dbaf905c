package queue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/piewallah/pw-gateway/internal/model"
)

// LogFileSink appends one line per event to <dir>/session.log.
type LogFileSink struct {
	Dir string
	mu  sync.Mutex
}

func NewLogFileSink(dir string) *LogFileSink { return &LogFileSink{Dir: dir} }

func (s *LogFileSink) Record(_ context.Context, ev model.SessionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(s.Dir, "session.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] session %s | id=%s | subject=%s | source=%s",
		ev.OccurredAt.UTC().Format(time.RFC3339), ev.Type, ev.ID, ev.Subject, ev.Source)
	if ev.Reason != "" {
		line += " | reason=" + ev.Reason
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}
