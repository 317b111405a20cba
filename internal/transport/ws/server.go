package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mojoee/Abmarl/internal/episode"
	"github.com/mojoee/Abmarl/internal/protocol"
)

const joinTimeout = 5 * time.Second

type Server struct {
	runner *episode.Runner
	log    *log.Logger
	// token, when set, must match HELLO auth.token.
	token string

	upgrader websocket.Upgrader
}

func NewServer(r *episode.Runner, logger *log.Logger) *Server {
	s := &Server{
		runner: r,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) SetAuthToken(token string) { s.token = strings.TrimSpace(token) }

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		agentID, out := s.handshake(conn)
		if agentID == "" {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeAct {
				queueError(out, protocol.ErrProtoBadRequest, "expected ACT")
				continue
			}
			var act protocol.ActMsg
			if err := json.Unmarshal(msg, &act); err != nil {
				queueError(out, protocol.ErrProtoBadRequest, err.Error())
				continue
			}
			if act.ProtocolVersion != protocol.Version {
				queueError(out, protocol.ErrProtoVersion, "protocol_version must be "+protocol.Version)
				continue
			}
			if !s.runner.Submit(episode.ActionEnvelope{AgentID: agentID, Act: act}) {
				s.log.Printf("inbox full, dropped action from %s", agentID)
			}
		}

		// Cleanup.
		s.runner.Leave(agentID)
	}
}

func (s *Server) handshake(conn *websocket.Conn) (agentID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		s.refuse(conn, protocol.ErrProtoBadRequest, "expected HELLO")
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		s.refuse(conn, protocol.ErrProtoBadRequest, err.Error())
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		s.refuse(conn, protocol.ErrProtoVersion, "bad protocol_version")
		return "", nil
	}
	if s.token != "" && (hello.Auth == nil || strings.TrimSpace(hello.Auth.Token) != s.token) {
		s.refuse(conn, protocol.ErrDenied, "bad auth token")
		return "", nil
	}
	if hello.AgentName == "" {
		hello.AgentName = "agent"
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = 8
	}
	if maxQ > 64 {
		maxQ = 64
	}
	out = make(chan []byte, maxQ)

	respCh := make(chan episode.JoinResponse, 1)
	if err := s.runner.Join(episode.JoinRequest{
		Name:      hello.AgentName,
		WantAgent: strings.TrimSpace(hello.WantAgent),
		Out:       out,
		Resp:      respCh,
	}); err != nil {
		s.refuse(conn, protocol.ErrInternal, err.Error())
		return "", nil
	}
	var resp episode.JoinResponse
	select {
	case resp = <-respCh:
	case <-time.After(joinTimeout):
		// The runner still owns the request; a late WELCOME binds an agent
		// nobody reads from until the leave below frees it.
		go func() {
			if late := <-respCh; late.Err == nil {
				s.runner.Leave(late.Welcome.AgentID)
			}
		}()
		s.refuse(conn, protocol.ErrInternal, "join timed out")
		return "", nil
	}
	if resp.Err != nil {
		s.refuse(conn, resp.Err.Code, resp.Err.Message)
		return "", nil
	}

	resp.Welcome.SessionID = uuid.NewString()
	if err := writeJSON(conn, resp.Welcome); err != nil {
		s.runner.Leave(resp.Welcome.AgentID)
		return "", nil
	}
	s.log.Printf("session %s: %s joined as %s", resp.Welcome.SessionID, hello.AgentName, resp.Welcome.AgentID)
	return resp.Welcome.AgentID, out
}

// refuse sends an ERROR and closes the handshake.
func (s *Server) refuse(conn *websocket.Conn, code, msg string) {
	s.log.Printf("handshake refused: %s %s", code, msg)
	_ = writeJSON(conn, protocol.NewError(code, msg))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code), time.Now().Add(time.Second))
}

func queueError(out chan []byte, code, msg string) {
	b, err := json.Marshal(protocol.NewError(code, msg))
	if err != nil {
		return
	}
	select {
	case out <- b:
	default:
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
