package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/mindscope/internal/bus"
	"github.com/MrWong99/mindscope/internal/observe"
	"github.com/MrWong99/mindscope/internal/relay"
	"github.com/MrWong99/mindscope/pkg/types"
)

// writeTimeout bounds a single WebSocket write.
const writeTimeout = 5 * time.Second

// handleStream upgrades to a WebSocket and forwards every notification as a
// JSON text message until the client disconnects. Bus handlers never block
// on the socket: each client has its own bounded queue and envelopes that
// do not fit are dropped for that client only.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The API carries no credentials; any origin may subscribe.
		InsecureSkipVerify: true,
	})
	if err != nil {
		// Accept has already written the error response.
		observe.Logger(r.Context()).Warn("api: websocket upgrade failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead answers pings and reports disconnects.
	ctx := conn.CloseRead(r.Context())
	log := observe.Logger(ctx)

	queue := make(chan relay.Envelope, s.streamBuffer)
	push := func(ev bus.Event, payload any) {
		env := relay.NewEnvelope(ev, s.sessionID(), s.now(), payload)
		select {
		case queue <- env:
		default:
			log.Debug("api: stream client lagging, dropping event", "event", env.Event)
		}
	}

	b := s.engine.Bus()
	subs := []*bus.Subscription{
		b.OnAnalysisStarted(func() { push(bus.EventAnalysisStarted, nil) }),
		b.OnAnalysisStopped(func() { push(bus.EventAnalysisStopped, nil) }),
		b.OnSampleClassified(func(smp types.Sample) { push(bus.EventSampleClassified, smp) }),
		b.OnAnalysisError(func(err error) { push(bus.EventAnalysisError, err) }),
	}
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()

	s.metrics.StreamClients.Add(ctx, 1)
	defer s.metrics.StreamClients.Add(context.WithoutCancel(ctx), -1)
	log.Info("api: stream client connected", "remote", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			log.Info("api: stream client disconnected", "remote", r.RemoteAddr)
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case env := <-queue:
			if err := s.writeEnvelope(ctx, conn, env); err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.Warn("api: stream write failed", "remote", r.RemoteAddr, "err", err)
				}
				return
			}
		}
	}
}

func (s *Server) writeEnvelope(ctx context.Context, conn *websocket.Conn, env relay.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
