package tuning

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTuning(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestDefaultsValidate(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	p := writeTuning(t, `
seed: 42
grid:
  rows: 8
  layout: noise
observation:
  policy: distance
  filter: linear
  norm: 2
wrappers: [ravel_move, flatten]
`)
	tu, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tu.Seed != 42 || tu.Grid.Rows != 8 || tu.Grid.Cols != 12 || tu.Grid.Layout != "noise" {
		t.Fatalf("unexpected grid: seed=%d %+v", tu.Seed, tu.Grid)
	}
	if tu.Observation.Norm != 2 || tu.Observation.Filter != "linear" {
		t.Fatalf("unexpected observation: %+v", tu.Observation)
	}
	if len(tu.Wrappers) != 2 || tu.Wrappers[0] != WrapRavelMove {
		t.Fatalf("wrappers=%v", tu.Wrappers)
	}
	if tu.TickRateHz != 5 {
		t.Fatalf("tick_rate_hz default lost: %d", tu.TickRateHz)
	}
}

func TestLoadInfNorm(t *testing.T) {
	tu, err := Load(writeTuning(t, "observation:\n  norm: inf\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !math.IsInf(float64(tu.Observation.Norm), 1) {
		t.Fatalf("norm=%v", tu.Observation.Norm)
	}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	in := Defaults()
	in.Seed = 99
	in.Observation.Norm = 2
	in.Wrappers = []string{WrapRavelMove, WrapFlatten}
	raw, err := in.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v\n%s", err, raw)
	}
	if out.Seed != 99 || out.Observation.Norm != 2 || len(out.Wrappers) != 2 || out.Grid != in.Grid {
		t.Fatalf("round trip=%+v", out)
	}

	raw, err = Defaults().Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err = Parse(raw)
	if err != nil || !math.IsInf(float64(out.Observation.Norm), 1) {
		t.Fatalf("inf norm lost: %v err=%v", out.Observation.Norm, err)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"wrapper":    "wrappers: [sideways]\n",
		"two moves":  "wrappers: [ravel_move, flatten_move]\n",
		"norm":       "observation:\n  norm: 0.5\n",
		"overfull":   "grid:\n  rows: 2\n  cols: 2\n  walls: 4\n",
		"tick rate":  "tick_rate_hz: 0\n",
		"norm token": "observation:\n  norm: manhattan\n",
		"layout":     "grid:\n  layout: maze\n",
		"policy":     "observation:\n  policy: psychic\n",
		"squad":      "super_agents:\n  s1: [explorer0]\n  s2: [explorer0]\n",
		"no squad":   "super_agents:\n  s1: []\n",
	}
	for name, body := range cases {
		if _, err := Load(writeTuning(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadErrorNamesPath(t *testing.T) {
	p := filepath.Join(t.TempDir(), "arena.yml")
	if err := os.WriteFile(p, []byte("tick_rate_hz: 0\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Load(p)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.HasPrefix(err.Error(), p+": ") || strings.Contains(err.Error(), "tuning.yaml") {
		t.Fatalf("err=%q does not name %s", err, p)
	}
}
