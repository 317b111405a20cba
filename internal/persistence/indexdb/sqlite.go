package indexdb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/mojoee/Abmarl/internal/episode"
	"github.com/mojoee/Abmarl/internal/sim/tuning"
)

// SQLiteIndex is a read model of episodes and steps. Writes are queued and
// applied by one goroutine in batched transactions; the JSONL step log stays
// the source of truth.
type SQLiteIndex struct {
	db *sqlx.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropStep    atomic.Uint64
	dropEpisode atomic.Uint64
}

type reqKind int

const (
	reqStep reqKind = iota + 1
	reqEpisode
)

type req struct {
	kind reqKind

	step    episode.StepLogEntry
	episode episode.EpisodeRecord
}

type EpisodeRow struct {
	ID          string  `db:"id"`
	Seq         int     `db:"seq"`
	Seed        int64   `db:"seed"`
	StartTick   int64   `db:"start_tick"`
	EndTick     int64   `db:"end_tick"`
	Steps       int     `db:"steps"`
	TotalReward float64 `db:"total_reward"`
	Coverage    float64 `db:"coverage"`
	Finished    bool    `db:"finished"`
	Digest      string  `db:"digest"`
	UpdatedAt   string  `db:"updated_at"`
}

type StepRow struct {
	Tick      int64  `db:"tick"`
	EpisodeID string `db:"episode_id"`
	Step      int    `db:"step"`
	Digest    string `db:"digest"`
	Done      bool   `db:"done"`
	Joins     int    `db:"joins"`
	Leaves    int    `db:"leaves"`
	Actions   int    `db:"actions"`
	RawJSON   string `db:"raw_json"`
}

type rewardRow struct {
	Tick      int64   `db:"tick"`
	EpisodeID string  `db:"episode_id"`
	AgentID   string  `db:"agent_id"`
	Reward    float64 `db:"reward"`
}

type Stats struct {
	QueueDepth       int
	QueueCapacity    int
	DropStepTotal    uint64
	DropEpisodeTotal uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sqlx.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sqlx.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS episodes (
			id TEXT PRIMARY KEY,
			seq INTEGER NOT NULL,
			seed INTEGER NOT NULL,
			start_tick INTEGER NOT NULL,
			end_tick INTEGER NOT NULL,
			steps INTEGER NOT NULL,
			total_reward REAL NOT NULL,
			coverage REAL NOT NULL,
			finished INTEGER NOT NULL,
			digest TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_episodes_seq ON episodes(seq);`,
		`CREATE TABLE IF NOT EXISTS steps (
			tick INTEGER PRIMARY KEY,
			episode_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			digest TEXT NOT NULL,
			done INTEGER NOT NULL,
			joins INTEGER NOT NULL,
			leaves INTEGER NOT NULL,
			actions INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_steps_episode ON steps(episode_id, step);`,
		`CREATE TABLE IF NOT EXISTS rewards (
			tick INTEGER NOT NULL,
			episode_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			reward REAL NOT NULL,
			PRIMARY KEY(tick, agent_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_rewards_episode_agent ON rewards(episode_id, agent_id);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	_, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`)
	return err
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) WriteStep(entry episode.StepLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqStep, step: entry}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		s.dropStep.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) WriteEpisode(rec episode.EpisodeRecord) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqEpisode, episode: rec}:
	default:
		s.dropEpisode.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:       len(s.ch),
		QueueCapacity:    cap(s.ch),
		DropStepTotal:    s.dropStep.Load(),
		DropEpisodeTotal: s.dropEpisode.Load(),
	}
}

// UpsertTuning stores the effective tuning as YAML so index readers know which
// configuration produced the episodes.
func (s *SQLiteIndex) UpsertTuning(t tuning.Tuning) error {
	b, err := t.Encode()
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('tuning',?)`, string(b))
	return err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	var (
		tx            *sqlx.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		var err error
		switch r.kind {
		case reqStep:
			err = insertStep(tx, r.step)
			opCount += 1 + len(r.step.Rewards)
		case reqEpisode:
			err = upsertEpisode(tx, r.episode)
			opCount++
		}
		if err != nil {
			rollback()
			continue
		}
		flushIfNeeded()
	}

	commit()
}

func insertStep(tx *sqlx.Tx, e episode.StepLogEntry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	row := StepRow{
		Tick:      int64(e.Tick),
		EpisodeID: e.EpisodeID,
		Step:      e.Step,
		Digest:    e.Digest,
		Done:      e.Done,
		Joins:     len(e.Joins),
		Leaves:    len(e.Leaves),
		Actions:   len(e.Actions),
		RawJSON:   string(raw),
	}
	if _, err := tx.NamedExec(`INSERT OR REPLACE INTO steps(tick,episode_id,step,digest,done,joins,leaves,actions,raw_json)
		VALUES(:tick,:episode_id,:step,:digest,:done,:joins,:leaves,:actions,:raw_json)`, row); err != nil {
		return err
	}
	for agent, rw := range e.Rewards {
		if _, err := tx.NamedExec(`INSERT OR REPLACE INTO rewards(tick,episode_id,agent_id,reward)
			VALUES(:tick,:episode_id,:agent_id,:reward)`, rewardRow{Tick: int64(e.Tick), EpisodeID: e.EpisodeID, AgentID: agent, Reward: rw}); err != nil {
			return err
		}
	}
	return nil
}

func upsertEpisode(tx *sqlx.Tx, rec episode.EpisodeRecord) error {
	row := EpisodeRow{
		ID:          rec.ID,
		Seq:         rec.Seq,
		Seed:        rec.Seed,
		StartTick:   int64(rec.StartTick),
		EndTick:     int64(rec.EndTick),
		Steps:       rec.Steps,
		TotalReward: rec.TotalReward,
		Coverage:    rec.Coverage,
		Finished:    rec.Finished,
		Digest:      rec.Digest,
		UpdatedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	_, err := tx.NamedExec(`INSERT OR REPLACE INTO episodes(id,seq,seed,start_tick,end_tick,steps,total_reward,coverage,finished,digest,updated_at)
		VALUES(:id,:seq,:seed,:start_tick,:end_tick,:steps,:total_reward,:coverage,:finished,:digest,:updated_at)`, row)
	return err
}

// Episodes lists indexed episodes in the order they ran.
func (s *SQLiteIndex) Episodes(ctx context.Context) ([]EpisodeRow, error) {
	var rows []EpisodeRow
	err := s.db.SelectContext(ctx, &rows, `SELECT id,seq,seed,start_tick,end_tick,steps,total_reward,coverage,finished,digest,updated_at
		FROM episodes ORDER BY seq`)
	return rows, err
}

func (s *SQLiteIndex) EpisodeSteps(ctx context.Context, episodeID string) ([]StepRow, error) {
	var rows []StepRow
	err := s.db.SelectContext(ctx, &rows, `SELECT tick,episode_id,step,digest,done,joins,leaves,actions,raw_json
		FROM steps WHERE episode_id=? ORDER BY tick`, episodeID)
	return rows, err
}

// AgentReturns sums each agent's rewards over one episode.
func (s *SQLiteIndex) AgentReturns(ctx context.Context, episodeID string) (map[string]float64, error) {
	var rows []struct {
		AgentID string  `db:"agent_id"`
		Total   float64 `db:"total"`
	}
	err := s.db.SelectContext(ctx, &rows, `SELECT agent_id, SUM(reward) AS total
		FROM rewards WHERE episode_id=? GROUP BY agent_id ORDER BY agent_id`, episodeID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		out[r.AgentID] = r.Total
	}
	return out, nil
}

func (s *SQLiteIndex) Tuning(ctx context.Context) (string, error) {
	var v string
	err := s.db.GetContext(ctx, &v, `SELECT value FROM meta WHERE key='tuning'`)
	return v, err
}
