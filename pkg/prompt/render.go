package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"github.com/zen-systems/stageloop/pkg/pipeline"
)

// Renderer resolves stage prompt references. A reference naming a readable
// file (relative to BaseDir) is loaded from disk; anything else is treated
// as an inline template. Templates see the run context as a string map, so
// {{.task}} expands to the context's "task" value.
type Renderer struct {
	BaseDir string

	mu    sync.Mutex
	cache map[string]*template.Template
}

// New creates a renderer rooted at baseDir. An empty baseDir resolves file
// references against the working directory.
func New(baseDir string) *Renderer {
	return &Renderer{BaseDir: baseDir, cache: make(map[string]*template.Template)}
}

// Render expands a prompt reference against the current context.
func (r *Renderer) Render(ref string, ctx *pipeline.Context) (string, error) {
	tmpl, err := r.lookup(ref)
	if err != nil {
		return "", err
	}

	data := map[string]string{}
	if ctx != nil {
		data = ctx.Map()
	}
	var out strings.Builder
	if err := tmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("render prompt %q: %w", ref, err)
	}
	return out.String(), nil
}

func (r *Renderer) lookup(ref string) (*template.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tmpl, ok := r.cache[ref]; ok {
		return tmpl, nil
	}

	text := ref
	path := ref
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.BaseDir, ref)
	}
	if data, err := os.ReadFile(path); err == nil {
		text = string(data)
	} else if looksLikeFile(ref) {
		return nil, fmt.Errorf("prompt file %q: %w", ref, err)
	}

	tmpl, err := template.New(ref).Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt %q: %w", ref, err)
	}
	if r.cache == nil {
		r.cache = make(map[string]*template.Template)
	}
	r.cache[ref] = tmpl
	return tmpl, nil
}

// looksLikeFile distinguishes a missing prompt file from an intentionally
// inline template: inline prompts contain whitespace or template actions,
// path-like references do not.
func looksLikeFile(ref string) bool {
	if strings.ContainsAny(ref, " \t\n") || strings.Contains(ref, "{{") {
		return false
	}
	ext := filepath.Ext(ref)
	return ext == ".md" || ext == ".txt" || ext == ".tmpl"
}
