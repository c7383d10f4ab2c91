package http

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"school-session-agent/internal/app"
	"school-session-agent/internal/connectivity"
	"school-session-agent/internal/domain"
	"school-session-agent/internal/logging"
)

// AttendanceOptions configures the queue created for every attendance connection.
type AttendanceOptions struct {
	TrackHomework    bool
	RejectDuplicates bool
	FlushTimeout     time.Duration
	StartOffline     bool
	Logger           logging.Logger
}

// AttendanceHandler binds one page to one RecordQueue over a websocket. The page reports
// connectivity and unload events; the agent answers with pending records and queue events.
type AttendanceHandler struct {
	store    app.LocalStore
	client   app.RecordClient
	opts     AttendanceOptions
	upgrader websocket.Upgrader
}

func NewAttendanceHandler(store app.LocalStore, client app.RecordClient, opts AttendanceOptions, allowedOrigins []string) *AttendanceHandler {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &AttendanceHandler{
		store:    store,
		client:   client,
		opts:     opts,
		upgrader: newUpgrader(allowedOrigins),
	}
}

type loadPayload struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
}

type scanPayload struct {
	Text         string `json:"text"`
	HomeworkDone *bool  `json:"homeworkDone,omitempty"`
}

type clearPayload struct {
	SessionID string `json:"sessionId"`
}

type connectivityPayload struct {
	Online bool `json:"online"`
}

type pendingPayload struct {
	SessionID string                    `json:"sessionId"`
	Records   []domain.AttendanceRecord `json:"records"`
}

type flushPayload struct {
	Status    app.FlushStatus `json:"status"`
	Delivered int             `json:"delivered"`
	Pending   int             `json:"pending"`
	Message   string          `json:"message,omitempty"`
}

type eventPayload struct {
	Kind      app.QueueEventKind `json:"kind"`
	SessionID string             `json:"sessionId"`
	Count     int                `json:"count"`
	Message   string             `json:"message,omitempty"`
}

type guardPayload struct {
	SessionID string `json:"sessionId"`
	Armed     bool   `json:"armed"`
	Pending   int    `json:"pending,omitempty"`
}

// pageGuard asks the page to install or remove its beforeunload prompt.
type pageGuard struct{ p *peer }

func (g pageGuard) Arm(sessionID string, pending int) {
	g.p.push("unload_guard", guardPayload{SessionID: sessionID, Armed: true, Pending: pending})
}

func (g pageGuard) Disarm(sessionID string) {
	g.p.push("unload_guard", guardPayload{SessionID: sessionID})
}

type credentials struct {
	mu    sync.Mutex
	token string
}

func (c *credentials) set(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *credentials) get() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// ServeWS upgrades the request and runs one attendance session. The online query
// parameter carries the page's connectivity at load time.
func (h *AttendanceHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	online := !h.opts.StartOffline
	if raw := r.URL.Query().Get("online"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			online = v
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.opts.Logger.Warnf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	p := newPeer(conn, h.opts.Logger)
	monitor := connectivity.NewMonitor(online)
	creds := &credentials{}
	var queue *app.RecordQueue
	queue = app.NewRecordQueue(h.store, h.client, monitor, app.QueueOptions{
		Credentials:      creds.get,
		TrackHomework:    h.opts.TrackHomework,
		RejectDuplicates: h.opts.RejectDuplicates,
		FlushTimeout:     h.opts.FlushTimeout,
		UnloadGuard:      pageGuard{p: p},
		Logger:           h.opts.Logger,
		OnEvent: func(ev app.QueueEvent) {
			payload := eventPayload{Kind: ev.Kind, SessionID: ev.SessionID, Count: ev.Count}
			if ev.Err != nil {
				payload.Message = ev.Err.Error()
			}
			p.push("event", payload)
			if ev.Kind == app.EventFlushed {
				p.push("pending", pendingPayload{SessionID: ev.SessionID, Records: queue.Pending()})
			}
		},
	})

	var wg sync.WaitGroup
	flush := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.push("flush", toFlushPayload(queue.Flush(ctx)))
		}()
	}
	appendRecord := func(rec domain.AttendanceRecord) {
		if _, err := queue.Append(ctx, rec); err != nil {
			p.pushError(err)
			return
		}
		p.push("pending", pendingPayload{SessionID: queue.SessionID(), Records: queue.Pending()})
	}

	for {
		var in inboundMessage
		if err := conn.ReadJSON(&in); err != nil {
			break
		}
		switch in.Type {
		case "load":
			var payload loadPayload
			if err := decodePayload(in, &payload); err != nil {
				p.pushError(err)
				continue
			}
			creds.set(payload.Token)
			n, err := queue.LoadPersisted(ctx, payload.SessionID)
			if err != nil {
				p.pushError(err)
				continue
			}
			p.push("pending", pendingPayload{SessionID: payload.SessionID, Records: queue.Pending()})
			// The queue only flushes on transitions, so a restored batch needs a push when already online.
			if n > 0 && monitor.Online() {
				flush()
			}
		case "append":
			var rec domain.AttendanceRecord
			if err := decodePayload(in, &rec); err != nil {
				p.pushError(err)
				continue
			}
			if rec.Method == "" {
				rec.Method = domain.CaptureManual
			}
			appendRecord(rec)
		case "scan":
			var payload scanPayload
			if err := decodePayload(in, &payload); err != nil {
				p.pushError(err)
				continue
			}
			badge, err := domain.ParseBadge(payload.Text)
			if err != nil {
				p.pushError(err)
				continue
			}
			rec := badge.Record()
			rec.HomeworkDone = payload.HomeworkDone
			appendRecord(rec)
		case "flush":
			flush()
		case "clear":
			var payload clearPayload
			if err := decodePayload(in, &payload); err != nil {
				p.pushError(err)
				continue
			}
			if err := queue.Clear(ctx, payload.SessionID); err != nil {
				p.pushError(err)
				continue
			}
			p.push("pending", pendingPayload{SessionID: queue.SessionID(), Records: queue.Pending()})
		case "connectivity":
			var payload connectivityPayload
			if err := decodePayload(in, &payload); err != nil {
				p.pushError(err)
				continue
			}
			monitor.Set(payload.Online)
		default:
			p.pushError(errUnsupported(in.Type))
		}
	}

	queue.Close()
	cancel()
	p.close()
	wg.Wait()
	p.shutdown()
}

func toFlushPayload(res app.FlushResult) flushPayload {
	out := flushPayload{Status: res.Status, Delivered: res.Delivered, Pending: res.Pending}
	if res.Err != nil {
		out.Message = res.Err.Error()
	}
	return out
}
