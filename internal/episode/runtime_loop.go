package episode

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mojoee/Abmarl/internal/protocol"
	"github.com/mojoee/Abmarl/internal/sim"
	"github.com/mojoee/Abmarl/internal/space"
)

// Actions answering an observation older than this many ticks are refused.
const staleAfterTicks = 8

func (r *Runner) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(r.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingActions []ActionEnvelope
	var pendingJoins []JoinRequest
	var pendingLeaves []string

	defer r.finish()
	defer func() { r.refuseJoins(pendingJoins) }()
	for {
		select {
		case <-ctx.Done():
			r.Stop()
			return ctx.Err()
		case <-r.stop:
			return nil
		case req := <-r.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-r.leave:
			pendingLeaves = append(pendingLeaves, id)
		case env := <-r.inbox:
			pendingActions = append(pendingActions, env)
		case <-ticker.C:
			if _, _, err := r.StepOnce(pendingJoins, pendingLeaves, pendingActions); err != nil {
				r.log.Printf("tick %d: %v", r.tick.Load(), err)
			}
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingActions = pendingActions[:0]
		}
	}
}

// refuseJoins answers joins that will never reach a tick boundary,
// including any still buffered in the join queue.
func (r *Runner) refuseJoins(pending []JoinRequest) {
drain:
	for {
		select {
		case req := <-r.join:
			pending = append(pending, req)
		default:
			break drain
		}
	}
	for _, req := range pending {
		if req.Resp == nil {
			continue
		}
		e := protocol.NewError(protocol.ErrInternal, ErrStopped.Error())
		select {
		case req.Resp <- JoinResponse{Err: &e}:
		default:
			r.log.Printf("join %q: response channel full, dropping refusal", req.Name)
		}
	}
}

// Stop ends Run. Pending and later Join calls fail with ErrStopped.
func (r *Runner) Stop() { r.stopOnce.Do(func() { close(r.stop) }) }

// StepOnce advances the episode by a single tick using the same ordering
// semantics as Run: leaves, then joins, then actions in receive order with
// the last action per agent winning. It is what replays and tests drive.
// A simulation error is returned after the tick is recorded.
func (r *Runner) StepOnce(joins []JoinRequest, leaves []string, actions []ActionEnvelope) (tick uint64, digest string, err error) {
	stepStart := time.Now()
	nowTick := r.tick.Load()
	if !r.started {
		r.started = true
		r.current.StartTick = nowTick
		r.writeEpisode()
	}

	recordedLeaves := make([]string, 0, len(leaves))
	for _, id := range leaves {
		if _, ok := r.clients[id]; ok {
			delete(r.clients, id)
			recordedLeaves = append(recordedLeaves, id)
		}
	}
	recordedJoins := make([]RecordedJoin, 0, len(joins))
	for _, req := range joins {
		resp := r.handleJoin(req)
		if req.Resp != nil {
			req.Resp <- resp
		}
		if resp.Err == nil {
			recordedJoins = append(recordedJoins, RecordedJoin{AgentID: resp.Welcome.AgentID, Name: req.Name})
		}
	}

	agents := r.env.Agents()
	decoded := make(map[sim.AgentID]space.Value)
	raw := make(map[sim.AgentID]json.RawMessage)
	for _, env := range actions {
		a := agents[env.AgentID]
		if a == nil || !a.Has(sim.CapAct) {
			r.sendError(env.AgentID, protocol.ErrAgentUnknown, "agent cannot act")
			continue
		}
		if env.Act.Tick+staleAfterTicks < nowTick {
			r.sendError(env.AgentID, protocol.ErrStale, fmt.Sprintf("action for tick %d arrived at tick %d", env.Act.Tick, nowTick))
			continue
		}
		v, derr := space.DecodeValue(a.ActionSpace, env.Act.Action)
		if derr != nil {
			r.sendError(env.AgentID, protocol.ErrInvalidAction, derr.Error())
			continue
		}
		decoded[env.AgentID] = v
		raw[env.AgentID] = env.Act.Action
	}
	recorded := make([]RecordedAction, 0, len(raw))
	for _, id := range sortedKeys(raw) {
		recorded = append(recorded, RecordedAction{AgentID: id, Action: raw[id]})
	}

	if serr := r.env.Step(decoded); serr != nil {
		err = fmt.Errorf("step: %w", serr)
	}
	r.current.Steps++

	obs := r.observeAll(agents)
	rewards := make(map[string]float64, len(r.acting))
	for _, id := range r.acting {
		rw := r.env.Reward(id)
		rewards[id] = rw
		r.current.TotalReward += rw
	}
	r.sendObservations(nowTick, obs, rewards)

	done := r.env.AllDone()
	digest = stateDigest(nowTick, r.current.Seq, r.env.Agents(), obs, rewards, done)
	if r.stepLogger != nil {
		entry := StepLogEntry{
			Tick:      nowTick,
			EpisodeID: r.current.ID,
			Episode:   r.current.Seq,
			Step:      r.current.Steps,
			Joins:     recordedJoins,
			Leaves:    recordedLeaves,
			Actions:   recorded,
			Rewards:   rewards,
			Done:      done,
			Digest:    digest,
		}
		if lerr := r.stepLogger.WriteStep(entry); lerr != nil {
			r.log.Printf("write step %d: %v", nowTick, lerr)
		}
	}
	r.current.Digest = digest
	r.tick.Add(1)

	if done {
		r.current.EndTick = nowTick
		r.current.Finished = true
		r.current.Coverage = r.coverage()
		r.writeEpisode()
		if rerr := r.env.Reset(); rerr != nil && err == nil {
			err = fmt.Errorf("reset: %w", rerr)
		}
		r.current = EpisodeRecord{ID: r.newID(), Seq: r.current.Seq + 1, Seed: r.cfg.Params.Seed, StartTick: nowTick + 1}
		r.writeEpisode()
	}
	r.metrics.Store(Metrics{
		Tick:       nowTick + 1,
		EpisodeID:  r.current.ID,
		Episode:    r.current.Seq,
		Step:       r.current.Steps,
		Clients:    len(r.clients),
		InboxDepth: len(r.inbox),
		StepMS:     float64(time.Since(stepStart).Microseconds()) / 1000.0,
	})
	return nowTick, digest, err
}

// finish records the running episode as interrupted.
func (r *Runner) finish() {
	if !r.started {
		return
	}
	r.current.EndTick = r.tick.Load()
	r.current.Coverage = r.coverage()
	r.writeEpisode()
}

func (r *Runner) writeEpisode() {
	if r.episodeLogger == nil {
		return
	}
	if err := r.episodeLogger.WriteEpisode(r.current); err != nil {
		r.log.Printf("write episode %s: %v", r.current.ID, err)
	}
}

func (r *Runner) coverage() float64 {
	if c, ok := sim.Unwrapped(r.env).(interface{ Coverage() float64 }); ok {
		return c.Coverage()
	}
	return 0
}

func (r *Runner) handleJoin(req JoinRequest) JoinResponse {
	refuse := func(code, msg string) JoinResponse {
		e := protocol.NewError(code, msg)
		return JoinResponse{Err: &e}
	}
	id := req.WantAgent
	if id != "" {
		if !r.isActing(id) {
			return refuse(protocol.ErrAgentUnknown, fmt.Sprintf("no acting agent %q", id))
		}
		if _, taken := r.clients[id]; taken {
			return refuse(protocol.ErrAgentTaken, fmt.Sprintf("agent %q already has a session", id))
		}
	} else {
		for _, cand := range r.acting {
			if _, taken := r.clients[cand]; !taken {
				id = cand
				break
			}
		}
		if id == "" {
			return refuse(protocol.ErrEpisodeFull, "every acting agent has a session")
		}
	}
	a := r.env.Agents()[id]
	actDesc, err := space.Describe(a.ActionSpace)
	if err != nil {
		return refuse(protocol.ErrInternal, err.Error())
	}
	obsDesc, err := space.Describe(a.ObservationSpace)
	if err != nil {
		return refuse(protocol.ErrInternal, err.Error())
	}
	r.clients[id] = &client{name: req.Name, out: req.Out}
	return JoinResponse{Welcome: protocol.WelcomeMsg{
		Type:             protocol.TypeWelcome,
		ProtocolVersion:  protocol.Version,
		AgentID:          id,
		EpisodeID:        r.current.ID,
		Params:           r.cfg.Params,
		ActionSpace:      actDesc,
		ObservationSpace: obsDesc,
	}}
}

func (r *Runner) isActing(id sim.AgentID) bool {
	for _, a := range r.acting {
		if a == id {
			return true
		}
	}
	return false
}

// observeAll queries every observing agent in ascending id order whether or
// not a session is attached, so stochastic observation draws do not depend
// on who is connected.
func (r *Runner) observeAll(agents map[sim.AgentID]*sim.Agent) map[sim.AgentID]space.Value {
	out := make(map[sim.AgentID]space.Value)
	for _, id := range sim.SortedIDs(agents) {
		if !agents[id].Has(sim.CapObserve) {
			continue
		}
		v, err := r.env.Observation(id)
		if err != nil {
			r.log.Printf("observation %s: %v", id, err)
			continue
		}
		out[id] = v
	}
	return out
}

func (r *Runner) sendObservations(tick uint64, obs map[sim.AgentID]space.Value, rewards map[string]float64) {
	for _, id := range sortedKeys(r.clients) {
		cl := r.clients[id]
		v, ok := obs[id]
		if !ok || cl.out == nil {
			continue
		}
		b, err := json.Marshal(protocol.ObsMsg{
			Type:            protocol.TypeObs,
			ProtocolVersion: protocol.Version,
			Tick:            tick,
			EpisodeID:       r.current.ID,
			AgentID:         id,
			Observation:     v,
			Reward:          rewards[id],
			Done:            r.env.Done(id),
			Info:            r.env.Info(id),
		})
		if err != nil {
			r.log.Printf("marshal obs %s: %v", id, err)
			continue
		}
		sendLatest(cl.out, b)
	}
}

func (r *Runner) sendError(id sim.AgentID, code, msg string) {
	cl := r.clients[id]
	if cl == nil || cl.out == nil {
		return
	}
	b, err := json.Marshal(protocol.NewError(code, msg))
	if err != nil {
		return
	}
	sendLatest(cl.out, b)
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
