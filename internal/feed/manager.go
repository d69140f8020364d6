// Package feed keeps the candle store synchronized with the exchange:
// live stream ingestion, historical backfill, gap repair and recovery
// from prolonged outages.
package feed

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/your-org/bybit-perp-bot/internal/config"
	"github.com/your-org/bybit-perp-bot/internal/exchange"
	"github.com/your-org/bybit-perp-bot/internal/market"
	"github.com/your-org/bybit-perp-bot/pkg/logger"
)

// State tracks the stream connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateStreaming
	StateStale
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	case StateStale:
		return "stale"
	default:
		return "unknown"
	}
}

// staleIntervals is how many intervals behind the stored latest candle a
// live update may be before it is discarded as stale.
const staleIntervals = 3

// Manager keeps the store current. It owns the reconnect loop around the
// stream, the backfill worker pool and the liveness monitor.
type Manager struct {
	store   *market.Store
	gateway exchange.Gateway
	stream  *exchange.Stream
	cfg     config.FeedConf

	timeframes []string
	limit      int

	state            atomic.Int32
	backfillFailures atomic.Int64
}

func NewManager(cfg *config.Config, store *market.Store, gateway exchange.Gateway, stream *exchange.Stream) *Manager {
	return &Manager{
		store:      store,
		gateway:    gateway,
		stream:     stream,
		cfg:        cfg.Feed,
		timeframes: cfg.Trading.Timeframes,
		limit:      cfg.Trading.CandleLimit,
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) setState(s State) {
	if m.state.Swap(int32(s)) != int32(s) {
		logger.Infof("Feed state: %s", s)
	}
}

// BackfillFailures returns the running count of failed backfill jobs,
// exposed as a health signal.
func (m *Manager) BackfillFailures() int64 {
	return m.backfillFailures.Load()
}

// Run streams klines into the store until ctx is cancelled, reconnecting
// with exponential backoff and performing hard recovery after prolonged
// silence. The store must already be backfilled.
func (m *Manager) Run(ctx context.Context) error {
	topics := exchange.KlineTopics(m.store.Symbols(), m.timeframes)
	backoff := NewBackoff(
		time.Duration(m.cfg.ReconnectDelaySec)*time.Second,
		time.Duration(m.cfg.ReconnectCapSec)*time.Second,
	)

	for {
		if ctx.Err() != nil {
			m.setState(StateDisconnected)
			return ctx.Err()
		}

		m.setState(StateConnecting)
		recovering := m.runConnection(ctx, topics, backoff)
		m.setState(StateDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if recovering {
			logger.Warnf("Stream silent for over %ds, starting hard recovery", m.cfg.OutageSec)
			m.store.Reset()
			if err := m.BackfillAll(ctx); err != nil {
				logger.Errorf("Hard recovery backfill failed: %v", err)
			}
		}

		delay := backoff.Next()
		logger.Infof("Reconnecting stream in %s", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runConnection runs one stream connection to completion and reports
// whether the liveness monitor tripped.
func (m *Manager) runConnection(ctx context.Context, topics []string, backoff *Backoff) bool {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var tripped atomic.Bool
	outage := time.Duration(m.cfg.OutageSec) * time.Second
	go func() {
		ticker := time.NewTicker(outage / 4)
		defer ticker.Stop()
		for {
			select {
			case <-connCtx.Done():
				return
			case <-ticker.C:
				last := m.stream.LastMessageAt()
				if last.IsZero() {
					continue
				}
				silence := time.Since(last)
				switch {
				case silence > outage:
					tripped.Store(true)
					cancel()
					return
				case silence > outage/2:
					m.setState(StateStale)
				}
			}
		}
	}()

	err := m.stream.Run(connCtx, topics, func() {
		backoff.Reset()
		m.setState(StateSubscribed)
	}, m.IngestLive)
	if err != nil {
		logger.Errorf("Stream terminated: %v", err)
	}
	return tripped.Load()
}

// IngestLive applies one live kline event to the store. Only confirmed
// candles are stored. Updates more than a few intervals behind the
// stored series are discarded as stale replays.
func (m *Manager) IngestLive(ev exchange.KlineEvent) {
	if !ev.Confirmed {
		return
	}
	if !ev.Candle.Valid() {
		logger.Warnf("Dropping malformed candle for %s/%s at %d", ev.Symbol, ev.Timeframe, ev.Candle.Timestamp)
		return
	}
	interval, err := market.IntervalMs(ev.Timeframe)
	if err != nil {
		logger.Warnf("Dropping candle with unknown timeframe %q for %s", ev.Timeframe, ev.Symbol)
		return
	}
	if latest, ok := m.store.Latest(ev.Symbol, ev.Timeframe); ok {
		cutoff := latest.Timestamp - staleIntervals*interval
		if ev.Candle.Timestamp < cutoff {
			logger.Warnf("Dropping stale candle for %s/%s: %d behind latest %d",
				ev.Symbol, ev.Timeframe, ev.Candle.Timestamp, latest.Timestamp)
			return
		}
	}
	if !m.store.Insert(ev.Symbol, ev.Timeframe, ev.Candle) {
		logger.Debugf("Ignoring candle for unregistered pair %s/%s", ev.Symbol, ev.Timeframe)
		return
	}
	// Only a confirmed candle proves the stream is really delivering.
	switch m.State() {
	case StateSubscribed, StateStale:
		m.setState(StateStreaming)
	}
}

type backfillJob struct {
	symbol    string
	timeframe string
}

// BackfillAll loads history for every registered (symbol, timeframe) pair
// through a bounded worker pool. Individual failures are counted and
// logged without aborting the rest.
func (m *Manager) BackfillAll(ctx context.Context) error {
	symbols := m.store.Symbols()
	jobs := make(chan backfillJob)
	var wg sync.WaitGroup

	workers := m.cfg.BackfillWorkers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if err := m.backfillPair(ctx, job.symbol, job.timeframe); err != nil {
					m.backfillFailures.Add(1)
					logger.Errorf("Backfill %s/%s failed: %v", job.symbol, job.timeframe, err)
				}
			}
		}()
	}

	for _, symbol := range symbols {
		for _, tf := range m.timeframes {
			select {
			case <-ctx.Done():
				close(jobs)
				wg.Wait()
				return ctx.Err()
			case jobs <- backfillJob{symbol: symbol, timeframe: tf}:
			}
		}
	}
	close(jobs)
	wg.Wait()

	logger.Infof("Backfill complete for %d symbols x %d timeframes", len(symbols), len(m.timeframes))
	return nil
}

func (m *Manager) backfillPair(ctx context.Context, symbol, timeframe string) error {
	interval, err := market.IntervalMs(timeframe)
	if err != nil {
		return err
	}
	start := time.Now().UnixMilli() - int64(m.limit+1)*interval
	candles, err := m.gateway.FetchKlines(ctx, symbol, timeframe, start, 0)
	if err != nil {
		return err
	}
	if len(candles) == 0 {
		return fmt.Errorf("no history returned")
	}
	m.store.Replace(symbol, timeframe, Normalize(candles, m.limit))
	return nil
}

// RepairGaps refetches any pair whose stored series has missing
// intervals. One refetch per pair per call; a persistent gap surfaces
// again on the next sweep.
func (m *Manager) RepairGaps(ctx context.Context) {
	for _, symbol := range m.store.Symbols() {
		for _, tf := range m.timeframes {
			interval, err := market.IntervalMs(tf)
			if err != nil {
				continue
			}
			if !m.store.HasGap(symbol, tf, interval) {
				continue
			}
			logger.Warnf("Gap detected in %s/%s, refetching", symbol, tf)
			if err := m.backfillPair(ctx, symbol, tf); err != nil {
				logger.Errorf("Gap repair for %s/%s failed: %v", symbol, tf, err)
			}
		}
	}
}

// Normalize sorts candles by timestamp, keeps the last record per
// timestamp and truncates to the most recent limit entries.
func Normalize(candles []market.Candle, limit int) []market.Candle {
	out := append([]market.Candle(nil), candles...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })

	deduped := out[:0]
	for _, c := range out {
		if n := len(deduped); n > 0 && deduped[n-1].Timestamp == c.Timestamp {
			deduped[n-1] = c
			continue
		}
		deduped = append(deduped, c)
	}
	if limit > 0 && len(deduped) > limit {
		deduped = deduped[len(deduped)-limit:]
	}
	return deduped
}
