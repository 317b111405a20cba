package protocol

import (
	"encoding/json"

	"github.com/mojoee/Abmarl/internal/space"
)

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	AgentName       string            `json:"agent_name"`
	Capabilities    HelloCapabilities `json:"capabilities"`
	Auth            *HelloAuth        `json:"auth,omitempty"`
	// WantAgent asks for a specific acting agent. Empty takes the first
	// free one.
	WantAgent string `json:"want_agent,omitempty"`
}

type HelloCapabilities struct {
	MaxQueue int `json:"max_queue,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type             string           `json:"type"`
	ProtocolVersion  string           `json:"protocol_version"`
	SessionID        string           `json:"session_id,omitempty"`
	AgentID          string           `json:"agent_id"`
	EpisodeID        string           `json:"episode_id"`
	Params           EpisodeParams    `json:"params"`
	ActionSpace      space.Descriptor `json:"action_space"`
	ObservationSpace space.Descriptor `json:"observation_space"`
}

type EpisodeParams struct {
	TickRateHz int   `json:"tick_rate_hz"`
	Rows       int   `json:"rows"`
	Cols       int   `json:"cols"`
	View       int   `json:"view"`
	MaxSteps   int   `json:"max_steps"`
	Seed       int64 `json:"seed"`
}

// OBS (server -> client). Observation is a point of the agent's
// observation space in its JSON form.
type ObsMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	Tick            uint64         `json:"tick"`
	EpisodeID       string         `json:"episode_id"`
	AgentID         string         `json:"agent_id"`
	Observation     space.Value    `json:"observation"`
	Reward          float64        `json:"reward"`
	Done            bool           `json:"done"`
	Info            map[string]any `json:"info,omitempty"`
}

// ACT (client -> server). Action is decoded against the agent's action
// space once it reaches the episode.
type ActMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Tick            uint64          `json:"tick"`
	AgentID         string          `json:"agent_id"`
	Action          json.RawMessage `json:"action"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

func NewError(code, message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: message}
}
