package episode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/mojoee/Abmarl/internal/protocol"
	"github.com/mojoee/Abmarl/internal/sim"
	"github.com/mojoee/Abmarl/internal/sim/tuning"
)

type memLogger struct {
	steps    []StepLogEntry
	episodes []EpisodeRecord
}

func (m *memLogger) WriteStep(e StepLogEntry) error     { m.steps = append(m.steps, e); return nil }
func (m *memLogger) WriteEpisode(r EpisodeRecord) error { m.episodes = append(m.episodes, r); return nil }

func testTuning() tuning.Tuning {
	t := tuning.Defaults()
	t.Seed = 7
	t.MaxSteps = 3
	t.Grid = tuning.Grid{Rows: 6, Cols: 6, Walls: 3, Layout: "noise"}
	t.Agents = tuning.Agents{Explorers: 2, Teams: 1, View: 2, MoveRange: 1, BroadcastRange: 3}
	t.Observation = tuning.Observation{Policy: "distance", Filter: "linear", Norm: 2, Broadcast: true}
	return t
}

func newRunner(t *testing.T, tu tuning.Tuning) (*Runner, *memLogger) {
	t.Helper()
	env, err := Build(tu)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	r := New(ConfigFromTuning(tu), env, log.New(io.Discard, "", 0))
	n := 0
	r.SetIDFunc(func() string { n++; return fmt.Sprintf("ep%d", n) })
	m := &memLogger{}
	r.SetStepLogger(m)
	r.SetEpisodeLogger(m)
	return r, m
}

func act(id string, tick uint64, action string) ActionEnvelope {
	return ActionEnvelope{AgentID: id, Act: protocol.ActMsg{
		Type: protocol.TypeAct, ProtocolVersion: protocol.Version,
		Tick: tick, AgentID: id, Action: json.RawMessage(action),
	}}
}

func join(t *testing.T, r *Runner, want string) (JoinResponse, chan []byte) {
	t.Helper()
	out := make(chan []byte, 8)
	resp := make(chan JoinResponse, 1)
	if _, _, err := r.StepOnce([]JoinRequest{{Name: "bot", WantAgent: want, Out: out, Resp: resp}}, nil, nil); err != nil {
		t.Fatalf("StepOnce: %v", err)
	}
	return <-resp, out
}

func drain(out chan []byte) []map[string]any {
	var msgs []map[string]any
	for {
		select {
		case b := <-out:
			var m map[string]any
			_ = json.Unmarshal(b, &m)
			msgs = append(msgs, m)
		default:
			return msgs
		}
	}
}

func TestStepOnceIsDeterministic(t *testing.T) {
	script := [][]ActionEnvelope{
		{act("explorer0", 0, `{"move":[0,1]}`)},
		{act("explorer1", 1, `{"move":[1,0]}`), act("explorer0", 1, `{"move":[-1,-1]}`)},
		{},
		{act("explorer0", 3, `{"move":[1,1]}`)},
		{act("explorer1", 4, `{"move":[0,-1]}`)},
	}
	a, _ := newRunner(t, testTuning())
	b, _ := newRunner(t, testTuning())
	for i, acts := range script {
		_, da, errA := a.StepOnce(nil, nil, acts)
		_, db, errB := b.StepOnce(nil, nil, acts)
		if errA != nil || errB != nil {
			t.Fatalf("step %d: %v / %v", i, errA, errB)
		}
		if da != db {
			t.Fatalf("step %d: digests differ %s vs %s", i, da, db)
		}
	}
}

func TestJoinAssignsFreeAgents(t *testing.T) {
	r, _ := newRunner(t, testTuning())
	first, _ := join(t, r, "")
	if first.Err != nil || first.Welcome.AgentID != "explorer0" {
		t.Fatalf("first join: %+v", first)
	}
	if first.Welcome.ActionSpace.Kind != "dict" || first.Welcome.EpisodeID != "ep1" {
		t.Fatalf("welcome: %+v", first.Welcome)
	}
	taken, _ := join(t, r, "explorer0")
	if taken.Err == nil || taken.Err.Code != protocol.ErrAgentTaken {
		t.Fatalf("taken: %+v", taken)
	}
	unknown, _ := join(t, r, "wall0")
	if unknown.Err == nil || unknown.Err.Code != protocol.ErrAgentUnknown {
		t.Fatalf("wall join: %+v", unknown)
	}
	second, _ := join(t, r, "")
	if second.Err != nil || second.Welcome.AgentID != "explorer1" {
		t.Fatalf("second join: %+v", second)
	}
	full, _ := join(t, r, "")
	if full.Err == nil || full.Err.Code != protocol.ErrEpisodeFull {
		t.Fatalf("full: %+v", full)
	}
}

func TestSessionReceivesObsAndErrors(t *testing.T) {
	tu := testTuning()
	tu.MaxSteps = 0
	r, _ := newRunner(t, tu)
	resp, out := join(t, r, "")
	id := resp.Welcome.AgentID
	msgs := drain(out)
	if len(msgs) != 1 || msgs[0]["type"] != protocol.TypeObs || msgs[0]["agent_id"] != id {
		t.Fatalf("expected one OBS after join, got %v", msgs)
	}

	if _, _, err := r.StepOnce(nil, nil, []ActionEnvelope{act(id, 1, `{"move":[5,0]}`)}); err != nil {
		t.Fatalf("StepOnce: %v", err)
	}
	msgs = drain(out)
	if len(msgs) != 2 || msgs[0]["type"] != protocol.TypeError || msgs[0]["code"] != protocol.ErrInvalidAction {
		t.Fatalf("expected ERROR then OBS, got %v", msgs)
	}

	if _, _, err := r.StepOnce(nil, []string{id}, nil); err != nil {
		t.Fatalf("StepOnce: %v", err)
	}
	if msgs = drain(out); len(msgs) != 0 {
		t.Fatalf("left session still receives %v", msgs)
	}
}

func TestStaleActionRefused(t *testing.T) {
	tu := testTuning()
	tu.MaxSteps = 0
	r, m := newRunner(t, tu)
	resp, out := join(t, r, "")
	for i := 0; i < staleAfterTicks+1; i++ {
		if _, _, err := r.StepOnce(nil, nil, nil); err != nil {
			t.Fatalf("StepOnce: %v", err)
		}
	}
	drain(out)
	if _, _, err := r.StepOnce(nil, nil, []ActionEnvelope{act(resp.Welcome.AgentID, 0, `{"move":[0,1]}`)}); err != nil {
		t.Fatalf("StepOnce: %v", err)
	}
	msgs := drain(out)
	if len(msgs) == 0 || msgs[0]["code"] != protocol.ErrStale {
		t.Fatalf("expected E_STALE, got %v", msgs)
	}
	if last := m.steps[len(m.steps)-1]; len(last.Actions) != 0 {
		t.Fatalf("stale action recorded: %+v", last.Actions)
	}
}

func TestEpisodeRollsOver(t *testing.T) {
	r, m := newRunner(t, testTuning())
	for i := 0; i < 4; i++ {
		if _, _, err := r.StepOnce(nil, nil, []ActionEnvelope{act("explorer0", uint64(i), `{"move":[0,1]}`)}); err != nil {
			t.Fatalf("StepOnce: %v", err)
		}
	}
	if len(m.steps) != 4 {
		t.Fatalf("steps logged=%d", len(m.steps))
	}
	if !m.steps[2].Done || m.steps[2].EpisodeID != "ep1" || m.steps[3].EpisodeID != "ep2" || m.steps[3].Episode != 1 {
		t.Fatalf("rollover not recorded: %+v / %+v", m.steps[2], m.steps[3])
	}
	if m.steps[3].Step != 1 {
		t.Fatalf("step counter not reset: %d", m.steps[3].Step)
	}
	if got := r.Metrics(); got.Tick != 4 || got.Episode != 1 || got.EpisodeID != "ep2" || got.Step != 1 {
		t.Fatalf("metrics=%+v", got)
	}
	// begin ep1, end ep1, begin ep2
	if len(m.episodes) != 3 || !m.episodes[1].Finished || m.episodes[1].Steps != 3 || m.episodes[2].ID != "ep2" {
		t.Fatalf("episodes=%+v", m.episodes)
	}
}

func TestRunRefusesJoinsOnStop(t *testing.T) {
	r, _ := newRunner(t, testTuning())
	r.cfg.TickRateHz = 1

	queued := make(chan JoinResponse, 1)
	if err := r.Join(JoinRequest{Name: "queued", Out: make(chan []byte, 8), Resp: queued}); err != nil {
		t.Fatalf("Join: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	// Wait for Run to move the join off the queue, then stop before the
	// first tick boundary.
	deadline := time.Now().Add(500 * time.Millisecond)
	for len(r.join) > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	r.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after Stop")
	}
	select {
	case resp := <-queued:
		if resp.Err == nil || resp.Err.Code != protocol.ErrInternal {
			t.Fatalf("pending join resp=%+v", resp)
		}
	default:
		t.Fatalf("pending join was never answered")
	}
	if err := r.Join(JoinRequest{Name: "late", Resp: make(chan JoinResponse, 1)}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Join after stop err=%v", err)
	}
}

func TestRunRefusesQueuedJoinsOnCancel(t *testing.T) {
	r, _ := newRunner(t, testTuning())
	r.cfg.TickRateHz = 1
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp := make(chan JoinResponse, 1)
	if err := r.Join(JoinRequest{Name: "bot", Out: make(chan []byte, 8), Resp: resp}); err != nil {
		t.Fatalf("Join: %v", err)
	}
	r.Stop()
	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: %v", err)
	}
	select {
	case got := <-resp:
		if got.Err == nil {
			t.Fatalf("queued join was welcomed after stop")
		}
	default:
		t.Fatalf("queued join was never answered")
	}
}

func TestBuildAppliesWrappers(t *testing.T) {
	tu := testTuning()
	tu.Wrappers = []string{tuning.WrapRavelMove, tuning.WrapFlatten}
	env, err := Build(tu)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := env.(*sim.Wrapper); !ok {
		t.Fatalf("expected a wrapper, got %T", env)
	}
	r := New(ConfigFromTuning(tu), env, log.New(io.Discard, "", 0))
	resp, out := join(t, r, "")
	if resp.Welcome.ActionSpace.Kind != "box" || resp.Welcome.ObservationSpace.Kind != "box" {
		t.Fatalf("flattened spaces expected: %+v", resp.Welcome)
	}
	obs := drain(out)
	if len(obs) != 1 {
		t.Fatalf("obs=%v", obs)
	}
	if _, ok := obs[0]["observation"].([]any); !ok {
		t.Fatalf("flat observation expected, got %T", obs[0]["observation"])
	}
	if _, _, err := r.StepOnce(nil, nil, []ActionEnvelope{act(resp.Welcome.AgentID, 1, `[0,0,0,0,0,0,0,0,1]`)}); err != nil {
		t.Fatalf("StepOnce: %v", err)
	}
}

func TestBuildSuperAgent(t *testing.T) {
	tu := testTuning()
	tu.SuperAgents = map[string][]string{"squad": {"explorer0", "explorer1"}}
	r, m := newRunner(t, tu)
	if len(r.acting) != 1 || r.acting[0] != "squad" {
		t.Fatalf("acting=%v", r.acting)
	}
	resp, out := join(t, r, "squad")
	if resp.Err != nil {
		t.Fatalf("join squad: %+v", resp.Err)
	}
	if resp.Welcome.ActionSpace.Kind != "dict" {
		t.Fatalf("squad action space=%+v", resp.Welcome.ActionSpace)
	}
	drain(out)
	action := `{"explorer0":{"move":[0,1]},"explorer1":{"move":[1,0]}}`
	if _, _, err := r.StepOnce(nil, nil, []ActionEnvelope{act("squad", 1, action)}); err != nil {
		t.Fatalf("StepOnce: %v", err)
	}
	last := m.steps[len(m.steps)-1]
	if len(last.Actions) != 1 || last.Actions[0].AgentID != "squad" {
		t.Fatalf("recorded actions=%+v", last.Actions)
	}
	if _, ok := last.Rewards["squad"]; !ok {
		t.Fatalf("rewards=%v", last.Rewards)
	}

	tu.SuperAgents = map[string][]string{"squad": {"explorer0", "ghost"}}
	if _, err := Build(tu); !errors.Is(err, sim.ErrConfiguration) {
		t.Fatalf("unknown covered agent err=%v", err)
	}
}

func TestBuildRejectsBadConfiguration(t *testing.T) {
	tu := testTuning()
	tu.Wrappers = []string{"sideways"}
	if _, err := Build(tu); !errors.Is(err, sim.ErrConfiguration) {
		t.Fatalf("unknown wrapper err=%v", err)
	}
	tu = testTuning()
	tu.Grid.Layout = "maze"
	if _, err := Build(tu); !errors.Is(err, sim.ErrConfiguration) {
		t.Fatalf("unknown layout err=%v", err)
	}
}
