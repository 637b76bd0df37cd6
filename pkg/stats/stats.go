package stats

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zen-systems/stageloop/pkg/agent"
	"github.com/zen-systems/stageloop/pkg/pipeline"
)

// StageStats aggregates every invocation of one stage within a run.
type StageStats struct {
	Stage   string      `json:"stage"`
	Runs    int         `json:"runs"`
	Turns   int         `json:"turns"`
	Usage   agent.Usage `json:"usage"`
	Signals []string    `json:"signals,omitempty"`
}

// Report is an immutable snapshot of a collector.
type Report struct {
	Agent       string        `json:"agent,omitempty"`
	Model       string        `json:"model,omitempty"`
	Stages      []StageStats  `json:"stages"`
	TotalTurns  int           `json:"total_turns"`
	TotalUsage  agent.Usage   `json:"total_usage"`
	CostUSD     float64       `json:"cost_usd"`
	CostIsKnown bool          `json:"cost_is_known"`
	Outcome     string        `json:"outcome,omitempty"`
	PauseReason string        `json:"pause_reason,omitempty"`
	FailureKind string        `json:"failure_kind,omitempty"`
	Elapsed     time.Duration `json:"elapsed_ns"`
}

// Collector consumes executor events and accumulates per-stage and run-wide
// statistics. It never feeds anything back into execution. Safe for
// concurrent use, though a run emits sequentially.
type Collector struct {
	// Agent and Model label the run for cost lookup.
	Agent   string
	Model   string
	Pricing PricingConfig

	mu         sync.Mutex
	stages     map[string]*StageStats
	order      []string
	startTurn  int
	totalTurns int
	totalUsage agent.Usage
	outcome    string
	pauseWhy   string
	failKind   string
	startedAt  time.Time
}

// NewCollector creates a collector labeled with the run's agent and model.
func NewCollector(agentName, model string, pricing PricingConfig) *Collector {
	if pricing == nil {
		pricing = DefaultPricing()
	}
	return &Collector{
		Agent:     agentName,
		Model:     model,
		Pricing:   pricing,
		stages:    make(map[string]*StageStats),
		startedAt: time.Now(),
	}
}

// Sink returns the collector as an executor event sink.
func (c *Collector) Sink() pipeline.EventSink {
	return c.Observe
}

// Observe records one executor event.
func (c *Collector) Observe(event pipeline.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch event.Kind {
	case pipeline.EventStageStarted:
		c.stageEntry(event.Stage).Runs++
		c.startTurn = event.Turn

	case pipeline.EventStageCompleted:
		entry := c.stageEntry(event.Stage)
		entry.Turns += event.Turn - c.startTurn
		entry.Signals = append(entry.Signals, event.Signal)
		entry.Usage.Add(event.Usage)
		c.totalTurns = event.Turn
		c.totalUsage.Add(event.Usage)

	case pipeline.EventPaused:
		c.outcome = string(pipeline.StatusPaused)
		c.pauseWhy = event.Reason

	case pipeline.EventRunCompleted:
		c.outcome = string(pipeline.StatusCompleted)

	case pipeline.EventRunFailed:
		c.outcome = string(pipeline.StatusFailed)
		c.failKind = string(event.ErrorKind)
	}
}

func (c *Collector) stageEntry(name string) *StageStats {
	entry, ok := c.stages[name]
	if !ok {
		entry = &StageStats{Stage: name}
		c.stages[name] = entry
		c.order = append(c.order, name)
	}
	return entry
}

// Snapshot returns the current totals. Stages appear in first-visit order.
func (c *Collector) Snapshot() Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	report := Report{
		Agent:       c.Agent,
		Model:       c.Model,
		TotalTurns:  c.totalTurns,
		TotalUsage:  c.totalUsage,
		Outcome:     c.outcome,
		PauseReason: c.pauseWhy,
		FailureKind: c.failKind,
		Elapsed:     time.Since(c.startedAt),
	}
	for _, name := range c.order {
		report.Stages = append(report.Stages, *c.stages[name])
	}
	report.CostUSD, report.CostIsKnown = c.cost()
	return report
}

func (c *Collector) cost() (float64, bool) {
	rate, ok := c.Pricing.Rate(c.Agent, c.Model)
	if !ok {
		return 0, false
	}
	prompt := float64(c.totalUsage.PromptTokens) / 1000.0 * rate.PromptPer1K
	completion := float64(c.totalUsage.CompletionTokens) / 1000.0 * rate.CompletionPer1K
	return prompt + completion, true
}

// Summary renders a human-readable run report.
func (c *Collector) Summary() string {
	report := c.Snapshot()

	var b strings.Builder
	fmt.Fprintf(&b, "outcome: %s", orDash(report.Outcome))
	if report.PauseReason != "" {
		fmt.Fprintf(&b, " (%s)", report.PauseReason)
	}
	if report.FailureKind != "" {
		fmt.Fprintf(&b, " (%s)", report.FailureKind)
	}
	b.WriteByte('\n')

	for _, stage := range report.Stages {
		fmt.Fprintf(&b, "  %-16s runs=%d turns=%d tokens=%d\n",
			stage.Stage, stage.Runs, stage.Turns, stage.Usage.TotalTokens)
	}

	fmt.Fprintf(&b, "total: %d turns, %d tokens", report.TotalTurns, report.TotalUsage.TotalTokens)
	if report.CostIsKnown {
		fmt.Fprintf(&b, ", ~$%.4f", report.CostUSD)
	}
	fmt.Fprintf(&b, ", %s\n", report.Elapsed.Round(time.Millisecond))
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
