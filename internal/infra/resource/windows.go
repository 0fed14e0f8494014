package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/tutu-network/vpcsim/internal/domain"
)

// MinWindowArea is the smallest window (in px²) counted as visible.
const MinWindowArea = 5000

// NoWindows is a WindowSource for hosts without a display. Every task gets
// zero visibility.
type NoWindows struct{}

// Windows returns no windows and an unknown active window.
func (NoWindows) Windows(context.Context) ([]domain.VisibleWindow, domain.ActiveWindowInfo, error) {
	return []domain.VisibleWindow{}, domain.UnknownActiveWindow(), nil
}

// windowFile is the document an external helper writes for FileWindowSource.
type windowFile struct {
	Windows []domain.VisibleWindow   `json:"windows"`
	Active  *domain.ActiveWindowInfo `json:"active,omitempty"`
}

// FileWindowSource reads window visibility from a JSON file kept up to date
// by a platform helper. The file is re-read on every call.
type FileWindowSource struct {
	path string
}

// NewFileWindowSource creates a source backed by path.
func NewFileWindowSource(path string) *FileWindowSource {
	return &FileWindowSource{path: path}
}

// Windows returns the visible windows in the file. A missing file means no
// visible windows.
func (s *FileWindowSource) Windows(ctx context.Context) ([]domain.VisibleWindow, domain.ActiveWindowInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.UnknownActiveWindow(), err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []domain.VisibleWindow{}, domain.UnknownActiveWindow(), nil
	}
	if err != nil {
		return nil, domain.UnknownActiveWindow(), fmt.Errorf("read windows %s: %w", s.path, err)
	}

	var doc windowFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, domain.UnknownActiveWindow(), fmt.Errorf("parse windows %s: %w", s.path, err)
	}

	active := domain.UnknownActiveWindow()
	if doc.Active != nil {
		active = *doc.Active
		if strings.TrimSpace(active.ProcessName) == "" {
			active.ProcessName = "Unknown"
		}
	}
	return FilterVisible(doc.Windows), active, nil
}

// FilterVisible drops windows that are too small or untitled and fills in
// missing process names.
func FilterVisible(windows []domain.VisibleWindow) []domain.VisibleWindow {
	out := make([]domain.VisibleWindow, 0, len(windows))
	for _, w := range windows {
		if w.Area < MinWindowArea || strings.TrimSpace(w.Title) == "" {
			continue
		}
		if strings.TrimSpace(w.ProcessName) == "" {
			w.ProcessName = "Unknown"
		}
		out = append(out, w)
	}
	return out
}
