// Package docstore gives read-only access to the directory of per-entity
// markdown documents produced by the offline ingestion.
package docstore

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"medirag/types"

	"github.com/google/uuid"
)

// medicineHeading is the level-1 heading of the rendered drug labels; the
// entity name is on the following line.
const medicineHeading = "Name of the Medicine"

var docNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("medirag/documents"))

type Store struct {
	dir string
}

func New(dir string) (*Store, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open document store: %s is not a directory", dir)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

// List reads every *.md document in the store, ordered by file name.
func (s *Store) List(ctx context.Context) ([]types.Document, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.md"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	docs := make([]types.Document, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := Load(path)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Load reads and parses a single document file.
func Load(path string) (types.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return types.Document{}, fmt.Errorf("read document: %w", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return types.Document{}, fmt.Errorf("read document: %w", err)
	}
	doc := Parse(nameFromFile(path), string(raw))
	doc.SourcePath = path
	doc.UpdatedAt = info.ModTime()
	return doc, nil
}

// ReadFallback returns the raw text of the fallback document.
func ReadFallback(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read fallback document: %w", err)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "", fmt.Errorf("read fallback document: %s is empty", path)
	}
	return text, nil
}

// Parse splits a rendered document into its entity name and sections.
// defaultName is used when the text carries no recognizable title.
func Parse(defaultName, content string) types.Document {
	doc := types.Document{
		Name:       defaultName,
		Content:    content,
		Attributes: make(map[string]string),
	}

	var (
		section   string
		body      []string
		wantName  bool
		titleSeen bool
	)
	flush := func() {
		if section == "" {
			return
		}
		doc.Attributes[attributeKey(section)] = strings.TrimSpace(strings.Join(body, "\n"))
		body = body[:0]
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, "# "):
			flush()
			section = ""
			heading := strings.TrimSpace(strings.TrimPrefix(trimmed, "# "))
			if strings.EqualFold(heading, medicineHeading) {
				wantName = true
			} else if !titleSeen {
				doc.Name = heading
			}
			titleSeen = true
		case strings.HasPrefix(trimmed, "## "):
			flush()
			wantName = false
			section = strings.TrimSpace(strings.TrimPrefix(trimmed, "## "))
		case wantName && trimmed != "":
			doc.Name = trimmed
			wantName = false
		case section != "":
			body = append(body, strings.TrimPrefix(trimmed, "- "))
		}
	}
	flush()

	doc.ID = DocumentID(doc.Name)
	return doc
}

// DocumentID derives a stable id from the entity name so re-ingestion
// supersedes the previous entry instead of duplicating it.
func DocumentID(name string) uuid.UUID {
	return uuid.NewSHA1(docNamespace, []byte(strings.ToLower(strings.TrimSpace(name))))
}

func nameFromFile(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.ReplaceAll(base, "_", " ")
}

func attributeKey(heading string) string {
	key := strings.ToLower(strings.TrimSpace(heading))
	key = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '-', r == '_':
			return '_'
		}
		return -1
	}, key)
	return strings.Trim(key, "_")
}
