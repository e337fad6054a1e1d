package service

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CouncilState represents the discrete states of one deliberation run.
type CouncilState string

const (
	StateInit      CouncilState = "init"        // Run created, nothing dispatched
	StateStage1    CouncilState = "s1_running"  // Parallel fan-out in flight
	StateStage2    CouncilState = "s2_running"  // Blind peer ranking in flight
	StateStage3    CouncilState = "s3_running"  // Chairman synthesis in flight
	StateEnd       CouncilState = "end"         // Synthesis produced
	StateFallback  CouncilState = "fallback"    // Chairman failed, degraded synthesis
	StateErrorEnd  CouncilState = "error"       // No Stage 1 successes, error synthesis
)

// validTransitions defines the allowed state transitions.
// Key = from state, Value = set of allowed target states.
// There are no retries: failure of an individual member inside a stage is
// absorbed by the fan-out and never shows up here.
var validTransitions = map[CouncilState]map[CouncilState]bool{
	StateInit: {
		StateStage1:   true,
		StateErrorEnd: true, // empty roster
	},
	StateStage1: {
		StateStage2:   true,
		StateErrorEnd: true, // every member failed
	},
	StateStage2: {
		StateStage3: true,
	},
	StateStage3: {
		StateEnd:      true,
		StateFallback: true,
	},
	// Terminal states — no transitions out
	StateEnd:      {},
	StateFallback: {},
	StateErrorEnd: {},
}

// RunSnapshot captures a deliberation run's progress at a point in time.
type RunSnapshot struct {
	State            CouncilState  `json:"state"`
	RosterSize       int           `json:"roster_size"`
	Stage1Successes  int           `json:"stage1_successes"`
	Stage2Rankings   int           `json:"stage2_rankings"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	Elapsed          time.Duration `json:"elapsed"`
}

// runState tracks one deliberation run. Thread-safe; the engine mutates it
// sequentially but handlers may snapshot it concurrently.
type runState struct {
	mu               sync.RWMutex
	state            CouncilState
	rosterSize       int
	stage1Successes  int
	stage2Rankings   int
	promptTokens     int
	completionTokens int
	startTime        time.Time
	logger           *zap.Logger
}

func newRunState(rosterSize int, logger *zap.Logger) *runState {
	return &runState{
		state:      StateInit,
		rosterSize: rosterSize,
		startTime:  time.Now(),
		logger:     logger,
	}
}

// transition attempts to move to a new state; invalid transitions indicate
// an engine bug and are logged loudly.
func (rs *runState) transition(to CouncilState) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	from := rs.state
	allowed, ok := validTransitions[from]
	if !ok || !allowed[to] {
		err := fmt.Errorf("invalid state transition: %s -> %s", from, to)
		rs.logger.Error("Council state machine violation", zap.Error(err))
		return err
	}

	rs.state = to
	rs.logger.Debug("Council state transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return nil
}

func (rs *runState) addTokens(prompt, completion int) {
	rs.mu.Lock()
	rs.promptTokens += prompt
	rs.completionTokens += completion
	rs.mu.Unlock()
}

func (rs *runState) snapshot() RunSnapshot {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return RunSnapshot{
		State:            rs.state,
		RosterSize:       rs.rosterSize,
		Stage1Successes:  rs.stage1Successes,
		Stage2Rankings:   rs.stage2Rankings,
		PromptTokens:     rs.promptTokens,
		CompletionTokens: rs.completionTokens,
		Elapsed:          time.Since(rs.startTime),
	}
}
