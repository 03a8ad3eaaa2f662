package mail

import (
	"fmt"
	"time"
)

// Template is one stored revision of a named template. A name has at most
// one stored row; publishing a new revision replaces it.
type Template struct {
	Name            string `json:"name"`
	Revision        int    `json:"revision"`
	Description     string `json:"description"`
	SubjectTemplate string `json:"subject_template"`
	HTMLTemplate    string `json:"html_template,omitempty"`
	// HTMLMarkdown marks HTMLTemplate as Markdown, converted after rendering.
	HTMLMarkdown  bool           `json:"html_markdown"`
	TextTemplate  string         `json:"text_template,omitempty"`
	RequiredVars  []string       `json:"required_vars"`
	Tags          []string       `json:"tags"`
	ContentPolicy map[string]any `json:"content_policy"`
	SourceHash    string         `json:"source_hash"`
	IsActive      bool           `json:"is_active"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Ref returns the revision identity of t.
func (t *Template) Ref() Revision {
	return Revision{Name: t.Name, Number: t.Revision, Hash: t.SourceHash}
}

// Revision identifies published template content: a revision number is
// bound to exactly one source hash for a given name.
type Revision struct {
	Name   string
	Number int
	Hash   string
}

// PublishAction is the outcome of comparing an incoming revision with the
// stored one.
type PublishAction int

const (
	// PublishCreate means no revision is stored yet.
	PublishCreate PublishAction = iota
	// PublishUpdate means the incoming revision is newer.
	PublishUpdate
	// PublishUnchanged means revision and hash both match the stored row.
	PublishUnchanged
)

func (a PublishAction) String() string {
	switch a {
	case PublishCreate:
		return "create"
	case PublishUpdate:
		return "update"
	case PublishUnchanged:
		return "unchanged"
	}
	return fmt.Sprintf("PublishAction(%d)", int(a))
}

// Compare decides how r may be published over stored, which is nil when the
// name has never been published. A lower revision, or the same revision with
// different content, yields a *SyncConflictError.
func (r Revision) Compare(stored *Revision) (PublishAction, error) {
	if stored == nil {
		return PublishCreate, nil
	}
	switch {
	case r.Number < stored.Number:
		return 0, &SyncConflictError{
			Name:           r.Name,
			StoredRevision: stored.Number,
			NewRevision:    r.Number,
			Reason:         "revision is lower than stored revision",
		}
	case r.Number == stored.Number && r.Hash != stored.Hash:
		return 0, &SyncConflictError{
			Name:           r.Name,
			StoredRevision: stored.Number,
			NewRevision:    r.Number,
			Reason:         "content changed without a revision bump",
		}
	case r.Number == stored.Number:
		return PublishUnchanged, nil
	}
	return PublishUpdate, nil
}
