package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mojoee/Abmarl/internal/episode"
	"github.com/mojoee/Abmarl/internal/persistence/indexdb"
	persistlog "github.com/mojoee/Abmarl/internal/persistence/log"
	"github.com/mojoee/Abmarl/internal/sim/tuning"
	"github.com/mojoee/Abmarl/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		runID      = flag.String("run", "run_1", "run id (data subdirectory)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		seed       = flag.Int64("seed", 0, "override tuning seed (0 keeps the configured one)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite episode index")
		authToken  = flag.String("auth_token", "", "require HELLO auth.token (or set ABMARL_AUTH_TOKEN)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	runDir := filepath.Join(*dataDir, "runs", *runID)
	_ = os.MkdirAll(runDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	if *seed != 0 {
		tune.Seed = *seed
	}

	env, err := episode.Build(tune)
	if err != nil {
		logger.Fatalf("build simulation: %v", err)
	}
	runner := episode.New(episode.ConfigFromTuning(tune), env, log.New(os.Stdout, "[episode] ", log.LstdFlags|log.Lmicroseconds))

	mirr, err := buildMirror(*dataDir, log.New(os.Stdout, "[mirror] ", log.LstdFlags|log.Lmicroseconds))
	if err != nil {
		logger.Fatalf("mirror: %v", err)
	}

	stepLog := persistlog.NewStepLogger(runDir)
	episodeLog := persistlog.NewEpisodeLogger(runDir)
	if mirr != nil {
		stepLog.SetOnSegmentClosed(mirr.Enqueue)
		episodeLog.SetOnSegmentClosed(mirr.Enqueue)
	}

	// Optional read-model index (does not affect sim determinism).
	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(runDir, "index.db"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		if err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index: upsert tuning: %v", err)
		}
	}
	runner.SetStepLogger(multiStepLogger{a: stepLog, b: idx})
	runner.SetEpisodeLogger(multiEpisodeLogger{a: episodeLog, b: idx})

	ctx, cancel := signalContext()
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := runner.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("runner stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		m := runner.Metrics()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP abmarl_tick Current tick.\n")
		fmt.Fprintf(rw, "# TYPE abmarl_tick gauge\n")
		fmt.Fprintf(rw, "abmarl_tick{run=%q} %d\n", *runID, m.Tick)

		fmt.Fprintf(rw, "# HELP abmarl_episode Current episode sequence number.\n")
		fmt.Fprintf(rw, "# TYPE abmarl_episode gauge\n")
		fmt.Fprintf(rw, "abmarl_episode{run=%q} %d\n", *runID, m.Episode)

		fmt.Fprintf(rw, "# HELP abmarl_clients Connected sessions.\n")
		fmt.Fprintf(rw, "# TYPE abmarl_clients gauge\n")
		fmt.Fprintf(rw, "abmarl_clients{run=%q} %d\n", *runID, m.Clients)

		fmt.Fprintf(rw, "# HELP abmarl_inbox_depth Action inbox backlog.\n")
		fmt.Fprintf(rw, "# TYPE abmarl_inbox_depth gauge\n")
		fmt.Fprintf(rw, "abmarl_inbox_depth{run=%q} %d\n", *runID, m.InboxDepth)

		fmt.Fprintf(rw, "# HELP abmarl_step_ms Last tick step duration in milliseconds.\n")
		fmt.Fprintf(rw, "# TYPE abmarl_step_ms gauge\n")
		fmt.Fprintf(rw, "abmarl_step_ms{run=%q} %.3f\n", *runID, m.StepMS)

		if mirr != nil {
			st := mirr.Stats()
			fmt.Fprintf(rw, "# HELP abmarl_mirror_uploads_total Mirrored run segments by result.\n")
			fmt.Fprintf(rw, "# TYPE abmarl_mirror_uploads_total counter\n")
			fmt.Fprintf(rw, "abmarl_mirror_uploads_total{run=%q,result=%q} %d\n", *runID, "ok", st.UploadSuccessTotal)
			fmt.Fprintf(rw, "abmarl_mirror_uploads_total{run=%q,result=%q} %d\n", *runID, "fail", st.UploadFailTotal)
			fmt.Fprintf(rw, "abmarl_mirror_uploads_total{run=%q,result=%q} %d\n", *runID, "dropped", st.DroppedTotal)
			fmt.Fprintf(rw, "# HELP abmarl_mirror_queue_depth Segments waiting for upload.\n")
			fmt.Fprintf(rw, "# TYPE abmarl_mirror_queue_depth gauge\n")
			fmt.Fprintf(rw, "abmarl_mirror_queue_depth{run=%q} %d\n", *runID, st.QueueDepth)
		}
		if idx != nil {
			st := idx.Stats()
			fmt.Fprintf(rw, "# HELP abmarl_index_dropped_total Index writes dropped because the queue was full.\n")
			fmt.Fprintf(rw, "# TYPE abmarl_index_dropped_total counter\n")
			fmt.Fprintf(rw, "abmarl_index_dropped_total{run=%q,kind=%q} %d\n", *runID, "step", st.DropStepTotal)
			fmt.Fprintf(rw, "abmarl_index_dropped_total{run=%q,kind=%q} %d\n", *runID, "episode", st.DropEpisodeTotal)
		}
	})
	mux.HandleFunc("/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(struct {
			RunID   string          `json:"run_id"`
			Metrics episode.Metrics `json:"metrics"`
		}{RunID: *runID, Metrics: runner.Metrics()})
	})

	wsServer := ws.NewServer(runner, log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lmicroseconds))
	token := strings.TrimSpace(*authToken)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("ABMARL_AUTH_TOKEN"))
	}
	wsServer.SetAuthToken(token)
	mux.HandleFunc("/v1/ws", wsServer.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (run=%s seed=%d)", *addr, *runID, tune.Seed)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	<-runDone

	// The runner has written its last episode record; flush segments so the
	// mirror sees them, then the index file once its writer is done.
	_ = stepLog.Close()
	_ = episodeLog.Close()
	if idx != nil {
		_ = idx.Close()
		mirr.Enqueue(filepath.Join(runDir, "index.db"))
	}
	mirr.Close()
	logger.Printf("stopped at tick %d", runner.CurrentTick())
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

// The index is held as a concrete pointer so a disabled index stays nil.
type multiStepLogger struct {
	a episode.StepLogger
	b *indexdb.SQLiteIndex
}

func (m multiStepLogger) WriteStep(entry episode.StepLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteStep(entry)
	}
	if m.b != nil {
		_ = m.b.WriteStep(entry)
	}
	return nil
}

type multiEpisodeLogger struct {
	a episode.EpisodeLogger
	b *indexdb.SQLiteIndex
}

func (m multiEpisodeLogger) WriteEpisode(rec episode.EpisodeRecord) error {
	if m.a != nil {
		_ = m.a.WriteEpisode(rec)
	}
	if m.b != nil {
		_ = m.b.WriteEpisode(rec)
	}
	return nil
}
