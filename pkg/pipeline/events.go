package pipeline

import "github.com/zen-systems/stageloop/pkg/agent"

// EventKind identifies the closed set of executor events.
type EventKind string

const (
	EventStageStarted   EventKind = "stage_started"
	EventStageCompleted EventKind = "stage_completed"
	EventPaused         EventKind = "paused"
	EventRunCompleted   EventKind = "run_completed"
	EventRunFailed      EventKind = "run_failed"
)

// Event is emitted by the executor to the stats sink. Turn is the run-wide
// turn counter at emission time, monotonically increasing. The sink is
// purely additive: the executor never reads anything back from it.
type Event struct {
	Kind      EventKind
	Stage     string
	Turn      int
	Signal    string
	Reason    string
	ErrorKind ErrorKind
	Usage     *agent.Usage
}

// EventSink receives executor events. A nil sink discards them.
type EventSink func(Event)
