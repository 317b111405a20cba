// Package episode runs a simulation at a fixed tick rate and binds remote
// sessions to its acting agents. All simulation access happens on the
// runner goroutine.
package episode

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mojoee/Abmarl/internal/protocol"
	"github.com/mojoee/Abmarl/internal/sim"
)

var ErrStopped = errors.New("episode runner stopped")

type Config struct {
	TickRateHz int
	Params     protocol.EpisodeParams
}

type JoinRequest struct {
	Name      string
	WantAgent string
	Out       chan []byte
	Resp      chan JoinResponse
}

// JoinResponse carries either a WELCOME or the ERROR explaining why the
// session was refused.
type JoinResponse struct {
	Welcome protocol.WelcomeMsg
	Err     *protocol.ErrorMsg
}

type ActionEnvelope struct {
	AgentID string
	Act     protocol.ActMsg
}

type RecordedJoin struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
}

type RecordedAction struct {
	AgentID string          `json:"agent_id"`
	Action  json.RawMessage `json:"action"`
}

type StepLogEntry struct {
	Tick      uint64             `json:"tick"`
	EpisodeID string             `json:"episode_id"`
	Episode   int                `json:"episode"`
	Step      int                `json:"step"`
	Joins     []RecordedJoin     `json:"joins,omitempty"`
	Leaves    []string           `json:"leaves,omitempty"`
	Actions   []RecordedAction   `json:"actions,omitempty"`
	Rewards   map[string]float64 `json:"rewards,omitempty"`
	Done      bool               `json:"done,omitempty"`
	Digest    string             `json:"digest"`
}

// EpisodeRecord is written once when an episode starts and again when it
// ends.
type EpisodeRecord struct {
	ID          string  `json:"id"`
	Seq         int     `json:"seq"`
	Seed        int64   `json:"seed"`
	StartTick   uint64  `json:"start_tick"`
	EndTick     uint64  `json:"end_tick,omitempty"`
	Steps       int     `json:"steps"`
	TotalReward float64 `json:"total_reward"`
	Coverage    float64 `json:"coverage"`
	Finished    bool    `json:"finished"`
	Digest      string  `json:"digest,omitempty"`
}

type StepLogger interface {
	WriteStep(entry StepLogEntry) error
}

type EpisodeLogger interface {
	WriteEpisode(rec EpisodeRecord) error
}

// Metrics is a snapshot published by the runner goroutine after each tick.
type Metrics struct {
	Tick       uint64  `json:"tick"`
	EpisodeID  string  `json:"episode_id"`
	Episode    int     `json:"episode"`
	Step       int     `json:"step"`
	Clients    int     `json:"clients"`
	InboxDepth int     `json:"inbox_depth"`
	StepMS     float64 `json:"step_ms"`
}

type client struct {
	name string
	out  chan []byte
}

// Runner is a single-threaded owner of a simulation.
type Runner struct {
	cfg Config
	env sim.Simulation
	log *log.Logger

	stepLogger    StepLogger
	episodeLogger EpisodeLogger
	newID         func() string

	acting  []sim.AgentID
	clients map[sim.AgentID]*client

	tick    atomic.Uint64
	metrics atomic.Value // Metrics
	started bool
	current EpisodeRecord

	join  chan JoinRequest
	leave chan string
	inbox chan ActionEnvelope
	stop  chan struct{}

	stopOnce sync.Once
}

func New(cfg Config, env sim.Simulation, logger *log.Logger) *Runner {
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 5
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[episode] ", log.LstdFlags)
	}
	r := &Runner{
		cfg:     cfg,
		env:     env,
		log:     logger,
		newID:   func() string { return uuid.NewString() },
		clients: make(map[sim.AgentID]*client),
		join:    make(chan JoinRequest, 64),
		leave:   make(chan string, 64),
		inbox:   make(chan ActionEnvelope, 1024),
		stop:    make(chan struct{}),
	}
	agents := env.Agents()
	for _, id := range sim.SortedIDs(agents) {
		if agents[id].Has(sim.CapAct) {
			r.acting = append(r.acting, id)
		}
	}
	r.current = EpisodeRecord{ID: r.newID(), Seed: cfg.Params.Seed}
	r.metrics.Store(Metrics{EpisodeID: r.current.ID})
	return r
}

func (r *Runner) SetStepLogger(l StepLogger)       { r.stepLogger = l }
func (r *Runner) SetEpisodeLogger(l EpisodeLogger) { r.episodeLogger = l }

// SetIDFunc replaces the episode id generator. The current episode is
// renamed, so call it before Run.
func (r *Runner) SetIDFunc(f func() string) {
	r.newID = f
	r.current.ID = f()
}

func (r *Runner) Config() Config      { return r.cfg }
func (r *Runner) CurrentTick() uint64 { return r.tick.Load() }

func (r *Runner) Metrics() Metrics {
	m, _ := r.metrics.Load().(Metrics)
	return m
}

// Join queues a join for the next tick boundary.
func (r *Runner) Join(req JoinRequest) error {
	select {
	case <-r.stop:
		return ErrStopped
	default:
	}
	select {
	case r.join <- req:
		return nil
	case <-r.stop:
		return ErrStopped
	}
}

func (r *Runner) Leave(agentID sim.AgentID) {
	select {
	case r.leave <- agentID:
	case <-r.stop:
	}
}

// Submit queues an action. It never blocks; a full inbox drops the action
// and reports false.
func (r *Runner) Submit(env ActionEnvelope) bool {
	select {
	case r.inbox <- env:
		return true
	default:
		return false
	}
}
