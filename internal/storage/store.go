// Package storage persists finished capsules as Markdown session logs and
// maintains the prepended index file linking them.
package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/GriffinCanCode/insight-capsule/internal/errs"
)

const (
	indexFilename = "index.md"
	indexHeader   = "# Capsule Log Index\n\n"
)

var (
	unsafeChars = regexp.MustCompile(`[^\w\s-]`)
	whitespace  = regexp.MustCompile(`\s+`)
	tagPattern  = regexp.MustCompile(`#(\w+)`)
)

// Store writes session logs under a single directory. Newest entries are
// prepended to index.md so the index reads top-down in reverse order.
type Store struct {
	logsDir string
	now     func() time.Time
}

// NewStore creates the logs directory if needed.
func NewStore(logsDir string) (*Store, error) {
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, errs.Wrap(err, errs.StorageFailed, "create logs directory").
			WithMetadata("dir", logsDir)
	}
	return &Store{logsDir: logsDir, now: time.Now}, nil
}

// SaveLog writes the session log file and updates the index.
// Returns the path of the written log.
func (s *Store) SaveLog(title, transcript, capsule string, tags []string) (string, error) {
	ts := s.now()
	filename := fmt.Sprintf("%s-%s.md", ts.Format("2006-01-02-150405"), SanitizeFilename(title))
	path := filepath.Join(s.logsDir, filename)

	if err := os.WriteFile(path, []byte(renderLog(title, transcript, capsule, tags, ts)), 0o644); err != nil {
		return "", errs.Wrap(err, errs.StorageFailed, "save session log").
			WithMetadata("path", path)
	}

	if err := s.updateIndex(title, filename, ts, tags); err != nil {
		// The log itself landed; a broken index is recoverable by hand.
		slog.Error("failed to update capsule index", "file", filename, "error", err)
	}

	slog.Info("session log saved", "path", path, "tags", len(tags))
	return path, nil
}

func renderLog(title, transcript, capsule string, tags []string, ts time.Time) string {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		transcript = "Transcript was empty."
	}
	capsule = strings.TrimSpace(capsule)
	if capsule == "" {
		capsule = "Capsule was empty or generation failed."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Insight Capsule Log — %s\n", ts.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "**Title:** %s\n", title)
	fmt.Fprintf(&b, "**Tags:** %s\n\n", tagLine(tags, "None"))
	fmt.Fprintf(&b, "**Transcript:** ```text\n%s\n```\n\n", transcript)
	fmt.Fprintf(&b, "**Insight Capsule:**\n%s\n", capsule)
	return b.String()
}

// updateIndex prepends the new entry right after the index header so the
// newest log is always first.
func (s *Store) updateIndex(title, filename string, ts time.Time, tags []string) error {
	linkText := strings.TrimSpace(title)
	if linkText == "" {
		linkText = "Untitled Entry"
	}
	entry := fmt.Sprintf("- [%s](./%s) — %s %s\n", linkText, filename, ts.Format("2006-01-02 15:04:05"), tagLine(tags, ""))

	indexPath := filepath.Join(s.logsDir, indexFilename)
	current, err := os.ReadFile(indexPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return errs.Wrap(err, errs.StorageFailed, "read capsule index")
		}
		current = nil
	}

	var content string
	switch {
	case len(current) == 0:
		content = indexHeader + entry
	case strings.HasPrefix(string(current), indexHeader):
		content = indexHeader + entry + string(current[len(indexHeader):])
	default:
		content = indexHeader + entry + string(current)
	}

	if err := os.WriteFile(indexPath, []byte(content), 0o644); err != nil {
		return errs.Wrap(err, errs.StorageFailed, "write capsule index")
	}
	return nil
}

func tagLine(tags []string, empty string) string {
	if len(tags) == 0 {
		return empty
	}
	parts := make([]string, len(tags))
	for i, tag := range tags {
		parts[i] = "#" + tag
	}
	return strings.Join(parts, " ")
}

// SanitizeFilename converts a title into a safe lowercase filename slug.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "untitled"
	}
	name = unsafeChars.ReplaceAllString(name, "")
	name = whitespace.ReplaceAllString(name, "-")
	name = strings.ToLower(name)
	name = strings.Trim(name, "-_")
	if name == "" {
		return "untitled"
	}
	return name
}

// ExtractTags lets a Store satisfy tag-extraction interfaces.
func (s *Store) ExtractTags(text string) []string {
	return ExtractTags(text)
}

// ExtractTags pulls hashtag-style tags out of text, without the # prefix.
func ExtractTags(text string) []string {
	matches := tagPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	tags := make([]string, 0, len(matches))
	for _, m := range matches {
		tags = append(tags, m[1])
	}
	return tags
}
