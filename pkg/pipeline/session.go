package pipeline

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zen-systems/stageloop/pkg/agent"
)

// Status is a session's lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// StageVisit records one completed stage invocation, in order.
type StageVisit struct {
	Stage  string `json:"stage"`
	Signal string `json:"signal"`
}

// Session is the persisted unit of work for one pipeline run. The executor
// mutates it after every stage transition; the store writes it durably. A
// completed session remains inspectable until explicitly cleaned up.
type Session struct {
	PipelineKind  string       `json:"pipeline_kind"`
	ID            string       `json:"session_id"`
	CurrentStage  string       `json:"current_stage"`
	Status        Status       `json:"status"`
	PauseReason   string       `json:"pause_reason,omitempty"`
	Context       *Context     `json:"context"`
	ArtifactPaths []string     `json:"artifact_paths,omitempty"`
	StageHistory  []StageVisit `json:"stage_history,omitempty"`
	TotalTurns    int          `json:"total_turns"`
	Usage         agent.Usage  `json:"usage"`
	StartedAt     time.Time    `json:"started_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// NewSession creates a fresh session positioned at the pipeline's start
// stage. initial may be nil.
func NewSession(cfg *Config, initial *Context) *Session {
	ctx := initial
	if ctx == nil {
		ctx = NewContext()
	}
	now := time.Now().UTC()
	return &Session{
		PipelineKind: cfg.Name,
		ID:           uuid.NewString(),
		CurrentStage: cfg.StartStage,
		Status:       StatusRunning,
		Context:      ctx,
		StartedAt:    now,
		UpdatedAt:    now,
	}
}

// addArtifactPaths records payload values that name produced files. Keys
// ending in _path or _file carry file locations by convention.
func (s *Session) addArtifactPaths(payload map[string]string) {
	keys := make([]string, 0, len(payload))
	for key := range payload {
		if artifactKey(key) && payload[key] != "" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		if !containsString(s.ArtifactPaths, payload[key]) {
			s.ArtifactPaths = append(s.ArtifactPaths, payload[key])
		}
	}
}

func artifactKey(key string) bool {
	return strings.HasSuffix(key, "_path") || strings.HasSuffix(key, "_file")
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// SessionStore persists sessions. The executor writes after every stage
// transition, bounding crash loss to one in-flight stage invocation.
type SessionStore interface {
	Save(session *Session) error
}
