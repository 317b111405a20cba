package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/mojoee/Abmarl/internal/episode"
	"github.com/mojoee/Abmarl/internal/persistence/indexdb"
	persistlog "github.com/mojoee/Abmarl/internal/persistence/log"
	"github.com/mojoee/Abmarl/internal/protocol"
	"github.com/mojoee/Abmarl/internal/sim/tuning"
)

func main() {
	var (
		runDir     = flag.String("run", "", "run directory containing steps/ (and index.db)")
		tuningPath = flag.String("tuning", "", "tuning.yaml used by the run (default: read from index.db)")
		fromTick   = flag.Uint64("from_tick", 0, "start verifying from tick (inclusive, optional)")
		toTick     = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
		summary    = flag.Bool("summary", false, "print episode summaries from index.db and exit")
	)
	flag.Parse()

	if *runDir == "" {
		fmt.Fprintln(os.Stderr, "missing -run")
		os.Exit(2)
	}

	if *summary {
		if err := printSummary(os.Stdout, filepath.Join(*runDir, "index.db")); err != nil {
			fmt.Fprintln(os.Stderr, "summary:", err)
			os.Exit(1)
		}
		return
	}

	tune, err := loadTuning(*tuningPath, filepath.Join(*runDir, "index.db"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "tuning:", err)
		os.Exit(1)
	}

	checked, err := replay(*runDir, tune, *fromTick, *toTick)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d ticks (seed=%d)\n", checked, tune.Seed)
}

func loadTuning(path, indexPath string) (tuning.Tuning, error) {
	if path != "" {
		return tuning.Load(path)
	}
	idx, err := indexdb.OpenSQLite(indexPath)
	if err != nil {
		return tuning.Tuning{}, fmt.Errorf("no -tuning and no index: %w", err)
	}
	defer idx.Close()
	raw, err := idx.Tuning(context.Background())
	if err != nil {
		return tuning.Tuning{}, fmt.Errorf("index has no tuning: %w", err)
	}
	return tuning.Parse([]byte(raw))
}

// replay re-steps a fresh simulation with the recorded joins, leaves and
// actions and compares every digest at or after fromTick.
func replay(runDir string, tune tuning.Tuning, fromTick, toTick uint64) (uint64, error) {
	env, err := episode.Build(tune)
	if err != nil {
		return 0, err
	}
	r := episode.New(episode.ConfigFromTuning(tune), env, log.New(io.Discard, "", 0))

	var checked uint64
	err = persistlog.ReadSteps(runDir, func(entry episode.StepLogEntry) error {
		if toTick != 0 && entry.Tick > toTick {
			return persistlog.ErrStopReading
		}
		if entry.Tick != r.CurrentTick() {
			return fmt.Errorf("tick mismatch: want=%d got=%d", r.CurrentTick(), entry.Tick)
		}

		joins := make([]episode.JoinRequest, 0, len(entry.Joins))
		for _, j := range entry.Joins {
			joins = append(joins, episode.JoinRequest{Name: j.Name, WantAgent: j.AgentID})
		}
		acts := make([]episode.ActionEnvelope, 0, len(entry.Actions))
		for _, ra := range entry.Actions {
			acts = append(acts, episode.ActionEnvelope{
				AgentID: ra.AgentID,
				Act: protocol.ActMsg{
					Type:            protocol.TypeAct,
					ProtocolVersion: protocol.Version,
					Tick:            entry.Tick,
					AgentID:         ra.AgentID,
					Action:          ra.Action,
				},
			})
		}

		tick, got, serr := r.StepOnce(joins, entry.Leaves, acts)
		if serr != nil {
			return fmt.Errorf("tick %d: %w", tick, serr)
		}
		if tick >= fromTick {
			checked++
			if got != entry.Digest {
				return fmt.Errorf("digest mismatch at tick %d (episode %d step %d): got=%s want=%s", tick, entry.Episode, entry.Step, got, entry.Digest)
			}
		}
		return nil
	})
	if err != nil {
		return checked, err
	}
	if checked == 0 {
		return 0, errors.New("no steps replayed")
	}
	return checked, nil
}

func printSummary(w io.Writer, indexPath string) error {
	idx, err := indexdb.OpenSQLite(indexPath)
	if err != nil {
		return err
	}
	defer idx.Close()
	ctx := context.Background()
	eps, err := idx.Episodes(ctx)
	if err != nil {
		return err
	}
	for _, ep := range eps {
		fmt.Fprintf(w, "episode %d %s ticks=%d..%d steps=%d finished=%v reward=%.1f coverage=%.3f\n",
			ep.Seq, ep.ID, ep.StartTick, ep.EndTick, ep.Steps, ep.Finished, ep.TotalReward, ep.Coverage)
		returns, err := idx.AgentReturns(ctx, ep.ID)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(returns))
		for id := range returns {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(w, "  %s %.1f\n", id, returns[id])
		}
	}
	return nil
}
