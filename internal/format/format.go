// Package format renders a finished result set. It never re-sorts or
// filters; the order the engine produced is the order written out.
package format

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/omarobando/proxystorm/internal/domain"
)

// Line renders one result in the selected layout.
func Line(r domain.ProbeResult, f domain.OutputFormat) string {
	switch f {
	case domain.FormatPortIP:
		return fmt.Sprintf("%d:%s", r.Candidate.Port, r.Candidate.Host)
	case domain.FormatProtoIPPort:
		return fmt.Sprintf("%s://%s:%d", r.Protocol, r.Candidate.Host, r.Candidate.Port)
	default:
		return fmt.Sprintf("%s:%d", r.Candidate.Host, r.Candidate.Port)
	}
}

// Render returns the whole set, one line per entry, order preserved.
func Render(results []domain.ProbeResult, f domain.OutputFormat) string {
	var b strings.Builder
	for _, r := range results {
		b.WriteString(Line(r, f))
		b.WriteByte('\n')
	}
	return b.String()
}

// Write streams the rendered set to w.
func Write(w io.Writer, results []domain.ProbeResult, f domain.OutputFormat) error {
	_, err := io.WriteString(w, Render(results, f))
	return err
}

// SaveTimestamped writes the set to "<base>_<timestamp>.txt" in dir and
// returns the path.
func SaveTimestamped(dir, base string, results []domain.ProbeResult, f domain.OutputFormat) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.txt", base, time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create output file: %w", err)
	}
	defer file.Close()
	if err := Write(file, results, f); err != nil {
		return "", fmt.Errorf("write results: %w", err)
	}
	return path, nil
}
