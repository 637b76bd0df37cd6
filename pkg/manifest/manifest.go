// Package manifest reads and writes run manifests: a YAML frontmatter block
// describing how to run a pipeline, followed by a free-form markdown body
// that becomes the run's task description.
package manifest

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const delimiter = "---"

// Meta is the frontmatter block of a run manifest.
type Meta struct {
	Pipeline      string            `yaml:"pipeline"`
	Agent         string            `yaml:"agent,omitempty"`
	Model         string            `yaml:"model,omitempty"`
	MaxIterations int               `yaml:"max_iterations,omitempty"`
	RunBuild      bool              `yaml:"run_build,omitempty"`
	Context       map[string]string `yaml:"context,omitempty"`
}

// Manifest pairs the frontmatter with the document body.
type Manifest struct {
	Meta Meta
	Body string
}

// Parse splits a frontmatter document and decodes its metadata. The document
// must open with a "---" line; the body is everything after the closing
// delimiter, with one leading newline trimmed.
func Parse(data []byte) (*Manifest, error) {
	text := string(data)
	if !strings.HasPrefix(text, delimiter+"\n") && text != delimiter {
		return nil, fmt.Errorf("manifest must start with %q frontmatter", delimiter)
	}

	rest := strings.TrimPrefix(text, delimiter+"\n")
	head, body, found := strings.Cut(rest, "\n"+delimiter)
	if !found {
		return nil, fmt.Errorf("manifest frontmatter is not closed")
	}
	body = strings.TrimPrefix(body, "\n")

	var meta Meta
	if err := yaml.Unmarshal([]byte(head), &meta); err != nil {
		return nil, fmt.Errorf("parse manifest frontmatter: %w", err)
	}
	if meta.Pipeline == "" {
		return nil, fmt.Errorf("manifest must name a pipeline")
	}

	return &Manifest{Meta: meta, Body: body}, nil
}

// Load reads and parses a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Encode renders the manifest back to frontmatter form.
func (m *Manifest) Encode() ([]byte, error) {
	head, err := yaml.Marshal(&m.Meta)
	if err != nil {
		return nil, fmt.Errorf("encode manifest frontmatter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(delimiter + "\n")
	buf.Write(head)
	buf.WriteString(delimiter + "\n")
	if m.Body != "" {
		buf.WriteString(m.Body)
		if !strings.HasSuffix(m.Body, "\n") {
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes(), nil
}

// Write encodes the manifest to a file.
func (m *Manifest) Write(path string) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
