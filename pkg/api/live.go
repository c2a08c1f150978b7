package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cuemby/ledgertap/pkg/types"
)

const (
	liveWriteTimeout = 10 * time.Second
	livePingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The control plane is operator-facing; origin policy belongs to
	// whatever fronts it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// liveRecord is the wire shape of one record on the live tap. Payload is
// base64 via encoding/json.
type liveRecord struct {
	Type           string `json:"type"`
	Topic          string `json:"topic"`
	ID             string `json:"id"`
	TS             int64  `json:"ts"`
	InterestID     string `json:"interest_id"`
	Classification string `json:"classification"`
	Payload        []byte `json:"payload,omitempty"`
}

// liveLag tells a subscriber how many records it lost to lag.
type liveLag struct {
	Type    string `json:"type"`
	Dropped uint64 `json:"dropped"`
}

// handleLive upgrades to WebSocket and streams records from the live bus.
// An optional interest_id query narrows the stream. Subscribers see only
// records published after they connect; lagging costs records, never
// pipeline throughput.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Live upgrade failed")
		return
	}
	defer conn.Close()

	interestID := r.URL.Query().Get("interest_id")

	sub, err := s.bus.Subscribe()
	if err != nil {
		return
	}
	defer sub.Close()

	s.logger.Debug().
		Str("subscriber", sub.ID()).
		Str("interest_id", interestID).
		Msg("Live subscriber attached")

	// Reader goroutine: consume control frames, detect disconnect.
	ctx := r.Context()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(livePingInterval)
	defer ping.Stop()

	// r.Context() is cancelled when this handler returns, which unwinds
	// the forwarding goroutine whether it is waiting on the bus or on a
	// full send channel.
	sendCh := make(chan interface{}, 1)
	go func() {
		defer close(sendCh)
		push := func(msg interface{}) bool {
			select {
			case sendCh <- msg:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for {
			rec, dropped, err := sub.Next(ctx)
			if err != nil {
				return
			}
			if dropped > 0 {
				if !push(liveLag{Type: "lag", Dropped: dropped}) {
					return
				}
			}
			if interestID != "" && rec.InterestID != interestID {
				continue
			}
			if !push(toLiveRecord(rec)) {
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-sendCh:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func toLiveRecord(r *types.Record) liveRecord {
	return liveRecord{
		Type:           "record",
		Topic:          r.Topic,
		ID:             r.ID,
		TS:             r.TS,
		InterestID:     r.InterestID,
		Classification: string(r.Classification),
		Payload:        r.Payload,
	}
}
