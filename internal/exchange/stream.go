package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/your-org/bybit-perp-bot/internal/market"
	"github.com/your-org/bybit-perp-bot/pkg/logger"
)

// KlineEvent is one candle record delivered by the public stream.
type KlineEvent struct {
	Symbol    string
	Timeframe string
	Candle    market.Candle
	Confirmed bool
}

// KlineTopics builds the kline.<timeframe>.<symbol> topic strings for
// every (symbol, timeframe) pair.
func KlineTopics(symbols, timeframes []string) []string {
	topics := make([]string, 0, len(symbols)*len(timeframes))
	for _, symbol := range symbols {
		for _, tf := range timeframes {
			topics = append(topics, fmt.Sprintf("kline.%s.%s", tf, symbol))
		}
	}
	return topics
}

// Stream is a Bybit v5 public WebSocket client for kline topics. One Run
// call covers one connection's lifetime; the caller owns reconnects.
type Stream struct {
	url         string
	topicChunk  int
	heartbeat   time.Duration
	dialer      *websocket.Dialer
	lastMessage atomic.Int64 // unix milliseconds
}

// NewStream creates a stream client. topicChunk caps the number of
// topics per subscribe message.
func NewStream(url string, topicChunk int, heartbeat time.Duration) *Stream {
	return &Stream{
		url:        url,
		topicChunk: topicChunk,
		heartbeat:  heartbeat,
		dialer:     websocket.DefaultDialer,
	}
}

// LastMessageAt returns the arrival time of the most recent inbound
// message, or the zero time if none has arrived.
func (s *Stream) LastMessageAt() time.Time {
	ms := s.lastMessage.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

type opMessage struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

type streamMessage struct {
	Topic string          `json:"topic"`
	Op    string          `json:"op"`
	Data  json.RawMessage `json:"data"`
}

type klineRecord struct {
	Start   int64  `json:"start"`
	Open    string `json:"open"`
	High    string `json:"high"`
	Low     string `json:"low"`
	Close   string `json:"close"`
	Volume  string `json:"volume"`
	Confirm bool   `json:"confirm"`
}

// Run dials the stream, subscribes the topics in chunks, keeps the
// heartbeat going on its own cadence and delivers kline records to
// onKline until the connection drops or ctx is cancelled. onOpen fires
// once the subscription messages have been written. The returned error
// is nil only on context cancellation.
func (s *Stream) Run(ctx context.Context, topics []string, onOpen func(), onKline func(KlineEvent)) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	defer conn.Close()

	for i := 0; i < len(topics); i += s.topicChunk {
		chunk := topics[i:min(i+s.topicChunk, len(topics))]
		if err := conn.WriteJSON(opMessage{Op: "subscribe", Args: chunk}); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}
	s.lastMessage.Store(time.Now().UnixMilli())
	if onOpen != nil {
		onOpen()
	}

	// The ping loop is the only writer once subscription is done, so no
	// further write serialization is needed.
	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go func() {
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteJSON(opMessage{Op: "ping"}); err != nil {
					logger.Errorf("Stream ping error: %v", err)
					conn.Close()
					return
				}
			}
		}
	}()

	// Close the connection promptly on cancellation so ReadMessage
	// unblocks.
	go func() {
		<-pingCtx.Done()
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("stream read: %w", err)
		}
		s.lastMessage.Store(time.Now().UnixMilli())
		s.dispatch(message, onKline)
	}
}

func (s *Stream) dispatch(message []byte, onKline func(KlineEvent)) {
	var msg streamMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		logger.Errorf("Stream message decode error: %v", err)
		return
	}
	switch {
	case strings.HasPrefix(msg.Topic, "kline."):
		s.dispatchKline(msg, onKline)
	case msg.Op == "pong":
		logger.Debug("Pong received")
	}
}

func (s *Stream) dispatchKline(msg streamMessage, onKline func(KlineEvent)) {
	parts := strings.Split(msg.Topic, ".")
	if len(parts) != 3 {
		logger.Warnf("Unexpected kline topic: %s", msg.Topic)
		return
	}
	timeframe, symbol := parts[1], parts[2]

	var records []klineRecord
	if err := json.Unmarshal(msg.Data, &records); err != nil {
		logger.Errorf("Kline data decode error for %s: %v", msg.Topic, err)
		return
	}
	for _, record := range records {
		candle, err := record.toCandle()
		if err != nil {
			logger.Warnf("Invalid live candle for %s/%s: %v", symbol, timeframe, err)
			continue
		}
		onKline(KlineEvent{
			Symbol:    symbol,
			Timeframe: timeframe,
			Candle:    candle,
			Confirmed: record.Confirm,
		})
	}
}

func (r klineRecord) toCandle() (market.Candle, error) {
	parse := func(name, value string) (float64, error) {
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, fmt.Errorf("parse %s %q: %w", name, value, err)
		}
		return v, nil
	}
	var c market.Candle
	var err error
	c.Timestamp = r.Start
	if c.Open, err = parse("open", r.Open); err != nil {
		return c, err
	}
	if c.High, err = parse("high", r.High); err != nil {
		return c, err
	}
	if c.Low, err = parse("low", r.Low); err != nil {
		return c, err
	}
	if c.Close, err = parse("close", r.Close); err != nil {
		return c, err
	}
	if r.Volume == "" {
		c.Volume = 0
		return c, nil
	}
	if c.Volume, err = parse("volume", r.Volume); err != nil {
		return c, err
	}
	return c, nil
}
