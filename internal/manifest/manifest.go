// Package manifest reads and rewrites the version field of pubspec.yaml
// documents. Only the version scalar is ever changed; every other field,
// comment, and ordering in the document survives a rewrite.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/Abdo-ka/flutter-version-checker/internal/version"
)

// ErrNoVersion indicates a manifest that parsed cleanly but carries no
// usable version field.
var ErrNoVersion = errors.New("manifest has no version field")

// ErrAmbiguous indicates discovery matched more than one manifest.
var ErrAmbiguous = errors.New("multiple manifests match")

// Record is a loaded manifest: its location, the parsed version, and the
// full document tree the next version will be written into.
type Record struct {
	Path    string
	Version *version.Version

	doc *yaml.Node
}

// Load reads and parses the manifest at path.
func Load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	rec, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	rec.Path = path
	return rec, nil
}

// Parse parses manifest bytes into a Record without touching the
// filesystem.
func Parse(data []byte) (*Record, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	node := versionNode(&doc)
	if node == nil {
		return nil, ErrNoVersion
	}

	v := version.Parse(node.Value)
	if v == nil {
		return nil, fmt.Errorf("version field is empty: %w", ErrNoVersion)
	}

	return &Record{Version: v, doc: &doc}, nil
}

// VersionFromBytes extracts just the version from manifest bytes. Used when
// scanning historical blobs, where the document tree is not needed.
func VersionFromBytes(data []byte) (*version.Version, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	node := versionNode(&doc)
	if node == nil {
		return nil, ErrNoVersion
	}

	v := version.Parse(node.Value)
	if v == nil {
		return nil, ErrNoVersion
	}
	return v, nil
}

// SetVersion replaces the version scalar in the document tree.
func (r *Record) SetVersion(v *version.Version) {
	node := versionNode(r.doc)
	if node.Kind != yaml.ScalarNode {
		*node = yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str"}
	}
	node.Value = v.String()
	r.Version = v
}

// Bytes serializes the document tree back to YAML.
func (r *Record) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(r.doc); err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return buf.Bytes(), nil
}

// Save writes the document back to its file. The write goes to a temp file
// first and is renamed into place, so a crash mid-write never leaves a
// truncated manifest. The original file mode is kept.
func (r *Record) Save() error {
	data, err := r.Bytes()
	if err != nil {
		return err
	}

	mode := fs.FileMode(0644)
	if info, err := os.Stat(r.Path); err == nil {
		mode = info.Mode()
	}

	tmpPath := r.Path + ".tmp"
	if err := os.WriteFile(tmpPath, data, mode); err != nil {
		return fmt.Errorf("writing tmp manifest: %w", err)
	}

	if err := os.Rename(tmpPath, r.Path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("atomic rename: %w", err)
	}

	return nil
}

// versionNode finds the scalar holding the top-level version value, or nil.
func versionNode(doc *yaml.Node) *yaml.Node {
	root := doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "version" {
			return root.Content[i+1]
		}
	}
	return nil
}

// Discover locates a single manifest under root by matching the given glob
// patterns against relative paths. Exactly one match is required: zero is an
// error, more than one is ErrAmbiguous.
func Discover(root string, patterns []string) (string, error) {
	seen := make(map[string]bool)
	var matches []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		for _, pattern := range patterns {
			ok, err := doublestar.Match(pattern, rel)
			if err != nil {
				return fmt.Errorf("bad manifest pattern %q: %w", pattern, err)
			}
			if ok && !seen[rel] {
				seen[rel] = true
				matches = append(matches, rel)
				break
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("searching for manifest: %w", err)
	}

	sort.Strings(matches)
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no manifest matching %v under %s: %w", patterns, root, fs.ErrNotExist)
	case 1:
		return filepath.Join(root, filepath.FromSlash(matches[0])), nil
	default:
		return "", fmt.Errorf("%w: %v", ErrAmbiguous, matches)
	}
}
