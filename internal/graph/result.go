package graph

import (
	"time"

	"github.com/szaher/augur/internal/agent"
)

// Status is the terminal state of one node or handoff-group run.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusTimedOut  Status = "TIMED_OUT"
)

// Kind tags which payload a NodeResult carries.
type Kind int

const (
	KindCompletion Kind = iota + 1
	KindSwarm
)

func (k Kind) String() string {
	switch k {
	case KindCompletion:
		return "completion"
	case KindSwarm:
		return "swarm"
	default:
		return "unknown"
	}
}

// NodeResult is the tagged union produced by every node. Exactly one of
// Completion or Swarm is meaningful, selected by Kind. A failed plain-agent
// node has Kind KindCompletion and a nil Completion.
type NodeResult struct {
	Node       string            `json:"node"`
	Status     Status            `json:"status"`
	Kind       Kind              `json:"kind"`
	Completion *agent.Completion `json:"completion,omitempty"`
	Swarm      *SwarmResult      `json:"swarm,omitempty"`
	Err        error             `json:"-"`
	Duration   time.Duration     `json:"duration"`
}

// CompletionResult wraps a successful agent completion.
func CompletionResult(node string, c *agent.Completion) NodeResult {
	return NodeResult{Node: node, Status: StatusCompleted, Kind: KindCompletion, Completion: c}
}

// AgentFailure records a plain agent that did not complete.
func AgentFailure(node string, status Status, err error) NodeResult {
	return NodeResult{Node: node, Status: status, Kind: KindCompletion, Err: err}
}

// SwarmNodeResult wraps a handoff-group result; the node status mirrors the
// group's.
func SwarmNodeResult(node string, s *SwarmResult) NodeResult {
	return NodeResult{Node: node, Status: s.Status, Kind: KindSwarm, Swarm: s, Err: s.Err}
}

// Text returns the completion text of a completed plain-agent result.
func (r NodeResult) Text() (string, bool) {
	if r.Kind != KindCompletion || r.Completion == nil {
		return "", false
	}
	return r.Completion.Text, true
}

// SwarmResult is the outcome of a handoff-group run. History lists every agent
// invocation in order, entry first; Results holds the latest result per agent.
type SwarmResult struct {
	Status     Status                `json:"status"`
	Results    map[string]NodeResult `json:"results"`
	History    []string              `json:"history"`
	Handoffs   int                   `json:"handoffs"`
	Iterations int                   `json:"iterations"`
	Err        error                 `json:"-"`
}

// Final returns the result of the last agent in History.
func (s *SwarmResult) Final() (NodeResult, bool) {
	if s == nil || len(s.History) == 0 {
		return NodeResult{}, false
	}
	r, ok := s.Results[s.History[len(s.History)-1]]
	return r, ok
}

// ExecutionState accumulates node results for one graph execution.
type ExecutionState struct {
	Entry    string                `json:"entry"`
	Branch   string                `json:"branch,omitempty"`
	Order    []string              `json:"order"`
	Results  map[string]NodeResult `json:"results"`
	RouteErr error                 `json:"-"`
	Duration time.Duration         `json:"duration"`
}

func newExecutionState(entry string) *ExecutionState {
	return &ExecutionState{Entry: entry, Results: make(map[string]NodeResult)}
}

func (s *ExecutionState) record(r NodeResult) {
	s.Order = append(s.Order, r.Node)
	s.Results[r.Node] = r
}

// Result returns the stored result for node.
func (s *ExecutionState) Result(node string) (NodeResult, bool) {
	r, ok := s.Results[node]
	return r, ok
}

// EntryText returns the entry node's completion text, or "" if it has none.
func (s *ExecutionState) EntryText() string {
	r, ok := s.Results[s.Entry]
	if !ok {
		return ""
	}
	text, _ := r.Text()
	return text
}
