package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/leoyang128/mirrorbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// Stream consumes the CLOB market WebSocket and delivers normalized book
// updates. It implements domain.BookStream: full snapshots are normalized
// directly, incremental price changes are applied onto the last snapshot so
// every emitted update carries a complete book.
type Stream struct {
	wsURL  string
	logger *slog.Logger
}

// NewStream creates a Stream for the CLOB market WebSocket endpoint, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewStream(wsURL string, logger *slog.Logger) *Stream {
	return &Stream{
		wsURL:  wsURL,
		logger: logger.With(slog.String("component", "polymarket_ws")),
	}
}

// Subscribe opens the connection and subscribes to book events for the given
// token IDs. The returned channel delivers updates in arrival order and is
// closed when ctx is cancelled. The initial dial failure is returned
// synchronously; later disconnects reconnect with exponential backoff and
// resubscribe transparently.
func (s *Stream) Subscribe(ctx context.Context, tokenIDs []string) (<-chan domain.BookUpdate, error) {
	conn, err := s.dial(ctx, tokenIDs)
	if err != nil {
		return nil, err
	}

	out := make(chan domain.BookUpdate, 64)
	go s.run(ctx, conn, tokenIDs, out)
	return out, nil
}

func (s *Stream) dial(ctx context.Context, tokenIDs []string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/ws: connect: %w", err)
	}

	cmd := WSCommand{Type: "subscribe", Channel: "book", Assets: tokenIDs}
	data, err := json.Marshal(cmd)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("polymarket/ws: marshal subscribe: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		conn.Close()
		return nil, fmt.Errorf("polymarket/ws: subscribe: %w", err)
	}
	return conn, nil
}

// run owns the connection lifecycle: consume until failure, then reconnect
// with backoff until ctx is done. The output channel closes exactly once.
func (s *Stream) run(ctx context.Context, conn *websocket.Conn, tokenIDs []string, out chan<- domain.BookUpdate) {
	defer close(out)

	books := make(map[string]domain.OrderBook, len(tokenIDs))
	delay := reconnectDelay

	for {
		s.consume(ctx, conn, books, out)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("stream disconnected, reconnecting", slog.Duration("delay", delay))

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			next, err := s.dial(ctx, tokenIDs)
			if err == nil {
				conn = next
				delay = reconnectDelay
				break
			}
			delay *= 2
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
			s.logger.Warn("reconnect failed",
				slog.String("error", err.Error()),
				slog.Duration("next_delay", delay),
			)
		}
	}
}

// consume reads one connection until error or cancellation. Cancellation
// closes the conn to unblock the pending read.
func (s *Stream) consume(ctx context.Context, conn *websocket.Conn, books map[string]domain.OrderBook, out chan<- domain.BookUpdate) {
	done := make(chan struct{})
	defer close(done)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Keep-alive pings plus ctx teardown.
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		for _, upd := range s.decode(raw, books) {
			select {
			case out <- upd:
			case <-ctx.Done():
				return
			}
		}
	}
}

// decode parses one frame into zero or more book updates. Frames may carry a
// single event or an array of events; unparseable frames are dropped.
func (s *Stream) decode(raw []byte, books map[string]domain.OrderBook) []domain.BookUpdate {
	events := [][]byte{raw}
	if len(raw) > 0 && raw[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil {
			return nil
		}
		events = events[:0]
		for _, e := range arr {
			events = append(events, e)
		}
	}

	var updates []domain.BookUpdate
	for _, ev := range events {
		var envelope struct {
			EventType string `json:"event_type"`
		}
		if err := json.Unmarshal(ev, &envelope); err != nil {
			continue
		}

		switch envelope.EventType {
		case "book":
			var msg BookMessage
			if err := json.Unmarshal(ev, &msg); err != nil {
				continue
			}
			book := BookMessageToDomain(&msg)
			books[book.TokenID] = book
			updates = append(updates, domain.BookUpdate{TokenID: book.TokenID, Book: book})

		case "price_change":
			var msg PriceChangeMessage
			if err := json.Unmarshal(ev, &msg); err != nil {
				continue
			}
			book, ok := applyPriceChange(books, &msg)
			if !ok {
				// No base snapshot yet for this token; wait for the next
				// full book frame.
				continue
			}
			books[book.TokenID] = book
			updates = append(updates, domain.BookUpdate{TokenID: book.TokenID, Book: book})
		}
	}
	return updates
}

// applyPriceChange updates one level of the stored snapshot and renormalizes.
// A size of zero removes the level.
func applyPriceChange(books map[string]domain.OrderBook, msg *PriceChangeMessage) (domain.OrderBook, bool) {
	base, ok := books[msg.AssetID]
	if !ok {
		return domain.OrderBook{}, false
	}

	price, err := strconv.ParseFloat(msg.Price, 64)
	if err != nil {
		return domain.OrderBook{}, false
	}
	size, err := strconv.ParseFloat(msg.Size, 64)
	if err != nil {
		return domain.OrderBook{}, false
	}

	side := base.Bids
	if msg.Side == "SELL" {
		side = base.Asks
	}

	updated := make([]domain.PriceLevel, 0, len(side)+1)
	replaced := false
	for _, lvl := range side {
		if lvl.Price == price {
			replaced = true
			if size > 0 {
				updated = append(updated, domain.PriceLevel{Price: price, Size: size})
			}
			continue
		}
		updated = append(updated, lvl)
	}
	if !replaced && size > 0 {
		updated = append(updated, domain.PriceLevel{Price: price, Size: size})
	}

	book := domain.OrderBook{TokenID: base.TokenID, Timestamp: parseWSTimestamp(msg.Timestamp)}
	// The untouched side is copied, not shared: earlier snapshots of this book
	// are already in consumer hands and Normalize sorts in place.
	if msg.Side == "SELL" {
		book.Bids, book.Asks = copyLevels(base.Bids), updated
	} else {
		book.Bids, book.Asks = updated, copyLevels(base.Asks)
	}
	book.Normalize()
	return book, true
}

func copyLevels(levels []domain.PriceLevel) []domain.PriceLevel {
	if levels == nil {
		return nil
	}
	out := make([]domain.PriceLevel, len(levels))
	copy(out, levels)
	return out
}
