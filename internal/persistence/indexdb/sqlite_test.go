package indexdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mojoee/Abmarl/internal/episode"
	"github.com/mojoee/Abmarl/internal/sim/tuning"
)

func TestSQLiteIndex_EpisodesAndSteps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := idx.UpsertTuning(tuning.Defaults()); err != nil {
		t.Fatalf("UpsertTuning: %v", err)
	}
	_ = idx.WriteEpisode(episode.EpisodeRecord{ID: "ep1", Seq: 0, Seed: 7})
	for tick := uint64(0); tick < 3; tick++ {
		_ = idx.WriteStep(episode.StepLogEntry{
			Tick:      tick,
			EpisodeID: "ep1",
			Step:      int(tick) + 1,
			Actions:   []episode.RecordedAction{{AgentID: "explorer0", Action: []byte(`{"move":[0,1]}`)}},
			Rewards:   map[string]float64{"explorer0": 1, "explorer1": 0.5},
			Done:      tick == 2,
			Digest:    "d",
		})
	}
	_ = idx.WriteEpisode(episode.EpisodeRecord{ID: "ep1", Seq: 0, Seed: 7, EndTick: 2, Steps: 3, TotalReward: 4.5, Finished: true, Digest: "d"})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	idx, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()
	ctx := context.Background()

	eps, err := idx.Episodes(ctx)
	if err != nil {
		t.Fatalf("Episodes: %v", err)
	}
	if len(eps) != 1 || eps[0].ID != "ep1" || !eps[0].Finished || eps[0].Steps != 3 || eps[0].Seed != 7 {
		t.Fatalf("episodes=%+v", eps)
	}
	steps, err := idx.EpisodeSteps(ctx, "ep1")
	if err != nil {
		t.Fatalf("EpisodeSteps: %v", err)
	}
	if len(steps) != 3 || !steps[2].Done || steps[0].Actions != 1 || steps[1].Step != 2 {
		t.Fatalf("steps=%+v", steps)
	}
	ret, err := idx.AgentReturns(ctx, "ep1")
	if err != nil {
		t.Fatalf("AgentReturns: %v", err)
	}
	if ret["explorer0"] != 3 || ret["explorer1"] != 1.5 {
		t.Fatalf("returns=%v", ret)
	}
	if tu, err := idx.Tuning(ctx); err != nil || tu == "" {
		t.Fatalf("Tuning=%q err=%v", tu, err)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqStep, step: episode.StepLogEntry{Tick: 1}}

	_ = s.WriteStep(episode.StepLogEntry{Tick: 2})
	_ = s.WriteEpisode(episode.EpisodeRecord{ID: "ep1"})

	st := s.Stats()
	if st.DropStepTotal != 1 {
		t.Fatalf("DropStepTotal=%d want=1", st.DropStepTotal)
	}
	if st.DropEpisodeTotal != 1 {
		t.Fatalf("DropEpisodeTotal=%d want=1", st.DropEpisodeTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_ClosedIsNoop(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := idx.WriteStep(episode.StepLogEntry{Tick: 1}); err != nil {
		t.Fatalf("WriteStep after close: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
