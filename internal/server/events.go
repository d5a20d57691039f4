/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/friendsincode/nocturne/internal/events"
)

const (
	eventsPingInterval = 15 * time.Second
	eventsWriteTimeout = 5 * time.Second
	eventsBuffer       = 64
)

type eventMessage struct {
	Type    events.EventType `json:"type"`
	Payload events.Payload   `json:"payload"`
}

// handleEvents streams bus events as JSON over a websocket. The optional
// types query parameter is a comma separated filter.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.opts.Bus == nil {
		writeError(w, http.StatusNotFound, "events_disabled")
		return
	}

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	// CloseRead discards client frames and cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	filter := parseEventTypes(r.URL.Query().Get("types"))
	sub := s.opts.Bus.SubscribeBuffered(events.EventAny, eventsBuffer)
	defer s.opts.Bus.Unsubscribe(events.EventAny, sub)

	s.logger.Debug().Int("filters", len(filter)).Msg("event stream connected")

	ticker := time.NewTicker(eventsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "")
			return
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				s.logger.Debug().Err(err).Msg("event stream ping failed")
				return
			}
		case payload, ok := <-sub:
			if !ok {
				conn.Close(ws.StatusGoingAway, "bus closed")
				return
			}
			eventType := payload.Type()
			if len(filter) > 0 && !filter[eventType] {
				continue
			}

			writeCtx, cancel := context.WithTimeout(ctx, eventsWriteTimeout)
			err := wsjson.Write(writeCtx, conn, eventMessage{Type: eventType, Payload: payload})
			cancel()
			if err != nil {
				s.logger.Debug().Err(err).Msg("event stream write failed")
				return
			}
		}
	}
}

func parseEventTypes(raw string) map[events.EventType]bool {
	if raw == "" {
		return nil
	}
	out := make(map[events.EventType]bool)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out[events.EventType(part)] = true
		}
	}
	return out
}
