package http

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"school-session-agent/internal/domain"
	"school-session-agent/internal/logging"
)

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

type errorPayload struct {
	Message string              `json:"message"`
	Fields  []domain.FieldError `json:"fields,omitempty"`
}

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return len(allowed) == 0 || origin == "" || allowed[origin]
		},
	}
}

// peer serialises writes to one websocket connection. Pushes from any goroutine are
// dropped once the peer is closed, so callbacks firing during teardown never block.
type peer struct {
	conn   *websocket.Conn
	send   chan outboundMessage
	done   chan struct{}
	once   sync.Once
	logger logging.Logger

	writerDone chan struct{}
}

func newPeer(conn *websocket.Conn, logger logging.Logger) *peer {
	p := &peer{
		conn:       conn,
		send:       make(chan outboundMessage, 16),
		done:       make(chan struct{}),
		logger:     logger,
		writerDone: make(chan struct{}),
	}
	go p.writeLoop()
	return p
}

func (p *peer) writeLoop() {
	defer close(p.writerDone)
	for {
		select {
		case msg := <-p.send:
			if err := p.conn.WriteJSON(msg); err != nil {
				p.logger.Warnf("ws write error: %v", err)
				p.close()
				return
			}
		case <-p.done:
			return
		}
	}
}

func (p *peer) push(typ string, payload interface{}) {
	select {
	case p.send <- outboundMessage{Type: typ, Payload: payload}:
	case <-p.done:
	}
}

func (p *peer) pushError(err error) {
	payload := errorPayload{Message: err.Error()}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		payload.Fields = verr.Fields
	}
	p.push("error", payload)
}

func (p *peer) close() {
	p.once.Do(func() { close(p.done) })
}

// shutdown stops the writer and waits for it.
func (p *peer) shutdown() {
	p.close()
	<-p.writerDone
}

func decodePayload(in inboundMessage, v interface{}) error {
	if len(in.Payload) == 0 {
		return errors.Errorf("missing %s payload", in.Type)
	}
	if err := json.Unmarshal(in.Payload, v); err != nil {
		return errors.Errorf("invalid %s payload", in.Type)
	}
	return nil
}

func errUnsupported(typ string) error {
	return errors.Errorf("unsupported message type %q", typ)
}
