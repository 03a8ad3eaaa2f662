package templates

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	mq "github.com/sungwon/mailqueue/internal/mail"
)

// File names inside a template directory.
const (
	ManifestJSON = "manifest.json"
	ManifestYAML = "manifest.yaml"
	SubjectFile  = "subject.liquid"
	HTMLFile     = "html.liquid"
	MarkdownFile = "html.md"
	TextFile     = "text.liquid"
)

// DefaultMaxBytes caps template sources and rendered output.
const DefaultMaxBytes = 256000

// Source is a template directory loaded from disk.
type Source struct {
	Dir      string
	Manifest *Manifest
	Subject  string
	HTML     string
	Markdown bool
	Text     string
	Hash     string
}

// Ref returns the revision identity of s.
func (s *Source) Ref() mq.Revision {
	return mq.Revision{Name: s.Manifest.Name, Number: s.Manifest.Revision, Hash: s.Hash}
}

// Template converts s into an active stored template.
func (s *Source) Template() *mq.Template {
	return &mq.Template{
		Name:            s.Manifest.Name,
		Revision:        s.Manifest.Revision,
		Description:     s.Manifest.Description,
		SubjectTemplate: s.Subject,
		HTMLTemplate:    s.HTML,
		HTMLMarkdown:    s.Markdown,
		TextTemplate:    s.Text,
		RequiredVars:    s.Manifest.RequiredVars,
		Tags:            s.Manifest.Tags,
		ContentPolicy:   s.Manifest.ContentPolicy,
		SourceHash:      s.Hash,
		IsActive:        true,
	}
}

// LoadError reports a template directory that could not be loaded.
type LoadError struct {
	Dir string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load template %s: %v", e.Dir, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// LoadDir reads one template directory from fsys.
func LoadDir(fsys fs.FS, dir string, maxBytes int) (*Source, error) {
	fail := func(err error) (*Source, error) {
		return nil, &LoadError{Dir: dir, Err: err}
	}

	info, err := fs.Stat(fsys, dir)
	if err != nil {
		return fail(err)
	}
	if !info.IsDir() {
		return fail(errors.New("not a directory"))
	}

	manifestFile, format, err := findManifest(fsys, dir)
	if err != nil {
		return fail(err)
	}
	manifest, err := ParseManifest(manifestFile.Data, format)
	if err != nil {
		return fail(err)
	}

	subject, err := readOptional(fsys, dir, SubjectFile)
	if err != nil {
		return fail(err)
	}
	if subject == nil {
		return fail(fmt.Errorf("missing %s", SubjectFile))
	}

	html, err := readOptional(fsys, dir, HTMLFile)
	if err != nil {
		return fail(err)
	}
	md, err := readOptional(fsys, dir, MarkdownFile)
	if err != nil {
		return fail(err)
	}
	if html != nil && md != nil {
		return fail(fmt.Errorf("%s and %s are mutually exclusive", HTMLFile, MarkdownFile))
	}
	text, err := readOptional(fsys, dir, TextFile)
	if err != nil {
		return fail(err)
	}

	htmlFile := html
	if md != nil {
		htmlFile = md
	}
	if isEmpty(htmlFile) && isEmpty(text) {
		return fail(fmt.Errorf("template must include %s, %s or %s", HTMLFile, MarkdownFile, TextFile))
	}

	size := len(subject.Data) + sizeOf(htmlFile) + sizeOf(text)
	if maxBytes > 0 && size > maxBytes {
		return fail(fmt.Errorf("template size %d exceeds limit of %d bytes", size, maxBytes))
	}

	src := &Source{
		Dir:      dir,
		Manifest: manifest,
		// Editors terminate files with a newline; the subject is one line.
		Subject:  strings.TrimRight(string(subject.Data), "\r\n"),
		Markdown: md != nil,
		Hash:     SourceHash(manifestFile, subject, htmlFile, text),
	}
	if htmlFile != nil {
		src.HTML = string(htmlFile.Data)
	}
	if text != nil {
		src.Text = string(text.Data)
	}
	return src, nil
}

// LoadAll loads every subdirectory of fsys's root, sorted by name.
func LoadAll(fsys fs.FS, maxBytes int) ([]*Source, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read templates root: %w", err)
	}

	var sources []*Source
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		src, err := LoadDir(fsys, entry.Name(), maxBytes)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func findManifest(fsys fs.FS, dir string) (*SourceFile, Format, error) {
	jsonFile, err := readOptional(fsys, dir, ManifestJSON)
	if err != nil {
		return nil, "", err
	}
	yamlFile, err := readOptional(fsys, dir, ManifestYAML)
	if err != nil {
		return nil, "", err
	}
	switch {
	case jsonFile != nil && yamlFile != nil:
		return nil, "", fmt.Errorf("both %s and %s present", ManifestJSON, ManifestYAML)
	case jsonFile != nil:
		return jsonFile, FormatJSON, nil
	case yamlFile != nil:
		return yamlFile, FormatYAML, nil
	}
	return nil, "", fmt.Errorf("missing %s", ManifestJSON)
}

// readOptional returns nil when the file does not exist.
func readOptional(fsys fs.FS, dir, name string) (*SourceFile, error) {
	data, err := fs.ReadFile(fsys, path.Join(dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &SourceFile{Name: name, Data: data}, nil
}

func isEmpty(f *SourceFile) bool { return f == nil || len(f.Data) == 0 }

func sizeOf(f *SourceFile) int {
	if f == nil {
		return 0
	}
	return len(f.Data)
}
