package main

import (
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mojoee/Abmarl/internal/protocol"
	"github.com/mojoee/Abmarl/internal/space"
)

// bot plays an acting agent with uniformly random actions.
func main() {
	var (
		url   = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name  = flag.String("name", "bot", "agent name")
		agent = flag.String("agent", "", "request a specific agent id")
		token = flag.String("token", "", "auth token")
		seed  = flag.Int64("seed", 1, "action sampling seed")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		AgentName:       *name,
		Capabilities:    protocol.HelloCapabilities{MaxQueue: 8},
		WantAgent:       *agent,
	}
	if *token != "" {
		hello.Auth = &protocol.HelloAuth{Token: *token}
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	rng := rand.New(rand.NewSource(*seed))
	var actionSpace space.Space
	var episodeReturn float64
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			actionSpace, err = w.ActionSpace.Build()
			if err != nil {
				logger.Fatalf("action space: %v", err)
			}
			logger.Printf("WELCOME agent_id=%s episode=%s grid=%dx%d action_space=%s", w.AgentID, w.EpisodeID, w.Params.Rows, w.Params.Cols, actionSpace)

		case protocol.TypeObs:
			var obs protocol.ObsMsg
			if err := json.Unmarshal(msg, &obs); err != nil || actionSpace == nil {
				continue
			}
			episodeReturn += obs.Reward
			if obs.Done {
				logger.Printf("episode %s done at tick %d return=%.1f", obs.EpisodeID, obs.Tick, episodeReturn)
				episodeReturn = 0
			}
			if err := act(conn, rng, actionSpace, &obs); err != nil {
				logger.Printf("act: %v", err)
			}

		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err == nil {
				logger.Printf("ERROR %s: %s", e.Code, e.Message)
			}
		}
	}
}

func act(conn *websocket.Conn, rng *rand.Rand, s space.Space, obs *protocol.ObsMsg) error {
	v, err := space.Sample(s, rng)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteJSON(protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		Tick:            obs.Tick,
		AgentID:         obs.AgentID,
		Action:          raw,
	})
}
