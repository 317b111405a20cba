package protocol_test

import (
	"encoding/json"
	"math"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/mojoee/Abmarl/internal/protocol"
	"github.com/mojoee/Abmarl/internal/space"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	// Round-trips a message through JSON so the schema sees exactly what
	// goes on the wire.
	validate := func(s *jsonschema.Schema, msg any) {
		t.Helper()
		b, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate %s: %v", b, err)
		}
	}

	helloSchema := compile("hello.schema.json")
	welcomeSchema := compile("welcome.schema.json")
	obsSchema := compile("obs.schema.json")
	actSchema := compile("act.schema.json")
	errorSchema := compile("error.schema.json")

	validate(helloSchema, protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		AgentName:       "bot1",
		Capabilities:    protocol.HelloCapabilities{MaxQueue: 8},
	})

	act := space.NewDict(
		space.Entry{Name: "move", Space: space.UniformBox(-1, 1, space.Int, 2)},
		space.Entry{Name: "speak", Space: space.NewDiscrete(3)},
	)
	obs := space.NewTuple(
		space.UniformBox(math.Inf(-1), math.Inf(1), space.Float, 2),
		space.NewMultiDiscrete(2, 3),
		space.NewMultiBinary(4),
	)
	actDesc, err := space.Describe(act)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	obsDesc, err := space.Describe(obs)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	validate(welcomeSchema, protocol.WelcomeMsg{
		Type:             protocol.TypeWelcome,
		ProtocolVersion:  protocol.Version,
		SessionID:        "s1",
		AgentID:          "explorer0",
		EpisodeID:        "5f0c6ad8-3f34-4f55-9a40-7f1d5c2a1e21",
		Params:           protocol.EpisodeParams{TickRateHz: 5, Rows: 8, Cols: 8, View: 2, MaxSteps: 100, Seed: 1337},
		ActionSpace:      actDesc,
		ObservationSpace: obsDesc,
	})

	validate(obsSchema, protocol.ObsMsg{
		Type:            protocol.TypeObs,
		ProtocolVersion: protocol.Version,
		Tick:            3,
		EpisodeID:       "e1",
		AgentID:         "explorer0",
		Observation:     map[string]any{"grid": []int{0, -1, 2}, "mask": map[string]int{"explorer1": 1}},
		Reward:          1,
		Info:            map[string]any{"step": 3},
	})

	validate(actSchema, protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		Tick:            3,
		AgentID:         "explorer0",
		Action:          json.RawMessage(`{"move":[1,0]}`),
	})

	validate(errorSchema, protocol.NewError(protocol.ErrEpisodeFull, "no free agent"))
}

func TestSchemas_RejectWrongType(t *testing.T) {
	s, err := jsonschema.Compile(filepath.Join("..", "..", "schemas", "act.schema.json"))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	var v any
	_ = json.Unmarshal([]byte(`{"type":"OBS","protocol_version":"1.0","tick":0,"agent_id":"a","action":1}`), &v)
	if err := s.Validate(v); err == nil {
		t.Fatalf("expected OBS rejected by ACT schema")
	}
}
