package http

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"school-session-agent/internal/app"
	"school-session-agent/internal/domain"
	"school-session-agent/internal/logging"
)

// ActivityHandler binds one page to one Collector over a websocket.
type ActivityHandler struct {
	client   app.ActivityClient
	opts     app.CollectorOptions
	logger   logging.Logger
	upgrader websocket.Upgrader
}

func NewActivityHandler(client app.ActivityClient, opts app.CollectorOptions, allowedOrigins []string) *ActivityHandler {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &ActivityHandler{
		client:   client,
		opts:     opts,
		logger:   logger,
		upgrader: newUpgrader(allowedOrigins),
	}
}

type startPayload struct {
	ActivityID string `json:"activityId"`
	Token      string `json:"token"`
}

type selectPayload struct {
	QuestionID string `json:"questionId"`
	ChoiceID   string `json:"choiceId"`
}

type gotoPayload struct {
	Index int `json:"index"`
}

type textPayload struct {
	Text string `json:"text"`
}

type positionPayload struct {
	Index int `json:"index"`
}

// ServeWS upgrades the request and relays collector snapshots to the page.
// Query parameters activityId and token start the attempt right away.
func (h *ActivityHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	collector := app.NewCollector(h.client, h.opts)
	p := newPeer(conn, h.logger)

	var wg sync.WaitGroup
	updates, unsubscribe := collector.Subscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for snap := range updates {
			p.push("snapshot", snap)
		}
	}()

	start := func(activityID, token string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := collector.Start(ctx, activityID, token); err != nil {
				p.pushError(err)
				return
			}
			if act, ok := collector.Activity(); ok {
				p.push("activity", act)
			}
		}()
	}

	if id := r.URL.Query().Get("activityId"); id != "" {
		start(id, r.URL.Query().Get("token"))
	}

	for {
		var in inboundMessage
		if err := conn.ReadJSON(&in); err != nil {
			break
		}
		switch in.Type {
		case "start":
			var payload startPayload
			if err := decodePayload(in, &payload); err != nil {
				p.pushError(err)
				continue
			}
			start(payload.ActivityID, payload.Token)
		case "select":
			var payload selectPayload
			if err := decodePayload(in, &payload); err != nil {
				p.pushError(err)
				continue
			}
			if err := collector.SelectAnswer(payload.QuestionID, payload.ChoiceID); err != nil {
				p.pushError(err)
			}
		case "goto":
			var payload gotoPayload
			if err := decodePayload(in, &payload); err != nil {
				p.pushError(err)
				continue
			}
			p.push("position", positionPayload{Index: collector.GoToQuestion(payload.Index)})
		case "next":
			p.push("position", positionPayload{Index: collector.GoToNext()})
		case "prev":
			p.push("position", positionPayload{Index: collector.GoToPrevious()})
		case "text":
			var payload textPayload
			if err := decodePayload(in, &payload); err != nil {
				p.pushError(err)
				continue
			}
			if err := collector.SetText(payload.Text); err != nil {
				p.pushError(err)
			}
		case "attach":
			var payload domain.Attachment
			if err := decodePayload(in, &payload); err != nil {
				p.pushError(err)
				continue
			}
			if err := collector.AttachFile(payload); err != nil {
				p.pushError(err)
			}
		case "remove":
			if err := collector.RemoveFile(); err != nil {
				p.pushError(err)
			}
		case "submit":
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := collector.Submit(ctx)
				if err != nil {
					p.pushError(err)
					return
				}
				p.push("submitted", res)
			}()
		default:
			p.pushError(errUnsupported(in.Type))
		}
	}

	collector.Close()
	cancel()
	unsubscribe()
	p.close()
	wg.Wait()
	p.shutdown()
}
