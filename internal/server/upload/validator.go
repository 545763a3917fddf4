package upload

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const (
	MaxNameLength  = 255
	DefaultMaxSize = 200 << 20
)

// AllowedTypes is the MIME allow-list: pdf, json, csv, xls, xlsx and txt.
var AllowedTypes = map[string]struct{}{
	"application/pdf":          {},
	"application/json":         {},
	"text/csv":                 {},
	"application/vnd.ms-excel": {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {},
	"text/plain": {},
}

var typeByExt = map[string]string{
	".pdf":  "application/pdf",
	".json": "application/json",
	".csv":  "text/csv",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".txt":  "text/plain",
}

// Names is a set of file names.
type Names map[string]struct{}

func NewNames(names ...string) Names {
	n := make(Names, len(names))
	for _, v := range names {
		n[v] = struct{}{}
	}
	return n
}

func (n Names) Has(name string) bool {
	_, ok := n[name]
	return ok
}

type Policy struct {
	MaxNameLength int
	MaxSize       int64
	AllowedTypes  map[string]struct{}
}

func DefaultPolicy(maxSize int64) Policy {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return Policy{MaxNameLength: MaxNameLength, MaxSize: maxSize, AllowedTypes: AllowedTypes}
}

// Candidate is a file offered for upload.
type Candidate struct {
	Name     string
	Size     int64
	MimeType string
}

// NormalizeType strips parameters from the declared type and falls back to
// the name's extension when nothing usable was declared.
func NormalizeType(name, declared string) string {
	mt, _, err := mime.ParseMediaType(declared)
	if err != nil || mt == "" || mt == "application/octet-stream" {
		ext := strings.ToLower(filepath.Ext(name))
		if t, ok := typeByExt[ext]; ok {
			return t
		}
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			mt, _, _ = mime.ParseMediaType(byExt)
		}
	}
	return strings.ToLower(mt)
}

// Validate accepts c or returns a *ValidationError. Policy checks come
// first, then collisions with stored files, then with queued files.
func (p Policy) Validate(c Candidate, stored, queued Names) error {
	switch {
	case strings.TrimSpace(c.Name) == "":
		return &ValidationError{Reason: ReasonPolicy, Field: "name", Message: "File name is empty"}
	case utf8.RuneCountInString(c.Name) > p.MaxNameLength:
		return &ValidationError{Reason: ReasonPolicy, Field: "name",
			Message: fmt.Sprintf("File name is longer than %d characters", p.MaxNameLength)}
	case strings.ContainsAny(c.Name, `/\`):
		return &ValidationError{Reason: ReasonPolicy, Field: "name", Message: "File name must not contain path separators"}
	case c.Size <= 0:
		return &ValidationError{Reason: ReasonPolicy, Field: "size", Message: "File is empty"}
	case c.Size > p.MaxSize:
		return &ValidationError{Reason: ReasonPolicy, Field: "size",
			Message: fmt.Sprintf("File size exceeds the %d MiB limit", p.MaxSize>>20)}
	}

	if _, ok := p.AllowedTypes[NormalizeType(c.Name, c.MimeType)]; !ok {
		return &ValidationError{Reason: ReasonPolicy, Field: "type",
			Message: fmt.Sprintf("File type %q is not supported; use PDF, JSON, CSV, XLS, XLSX or TXT", c.MimeType)}
	}

	if stored.Has(c.Name) {
		return &ValidationError{Reason: ReasonStoredDuplicate, Field: "name",
			Message: fmt.Sprintf("A file named %q already exists in the knowledge base; rename it or delete the stored one", c.Name)}
	}
	if queued.Has(c.Name) {
		return &ValidationError{Reason: ReasonQueuedDuplicate, Field: "name",
			Message: fmt.Sprintf("A file named %q is already in the upload queue", c.Name)}
	}
	return nil
}
