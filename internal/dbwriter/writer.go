// Package dbwriter persists closed trades and equity marks to
// TimescaleDB in batches.
package dbwriter

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/your-org/bybit-perp-bot/internal/config"
)

// TradeRecord is one closed trade.
type TradeRecord struct {
	Time   time.Time `db:"time"`
	Symbol string    `db:"symbol"`
	Side   string    `db:"side"` // "long" or "short"
	Entry  float64   `db:"entry_price"`
	Exit   float64   `db:"exit_price"`
	Size   float64   `db:"size"`
	PnL    float64   `db:"pnl"`
	Fee    float64   `db:"fee"`
}

// EquityMark is a periodic account snapshot.
type EquityMark struct {
	Time    time.Time `db:"time"`
	Balance float64   `db:"balance"`
	Equity  float64   `db:"equity"`
}

// DBWriter is the persistence contract. A disabled configuration yields
// a writer whose methods are no-ops.
type DBWriter interface {
	SaveTrade(trade TradeRecord)
	SaveEquity(mark EquityMark)
	Close()
}

// Pool is an interface that abstracts the pgxpool.Pool for testability.
type Pool interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Close()
}

// TimescaleWriter buffers records and flushes them on a timer or when a
// buffer reaches the batch size.
type TimescaleWriter struct {
	pool         Pool
	logger       *zap.Logger
	config       config.DBWriterConf
	tradeBuffer  []TradeRecord
	equityBuffer []EquityMark
	bufferMutex  sync.Mutex
	flushTicker  *time.Ticker
	shutdownChan chan struct{}
}

// NewTimescaleWriter creates a batch writer on the given pool. A nil
// pool yields a dummy writer for modes that run without a database.
func NewTimescaleWriter(pool Pool, writerConfig config.DBWriterConf, logger *zap.Logger) (DBWriter, error) {
	if pool == nil {
		logger.Info("No database pool, creating dummy DB writer")
		return &TimescaleWriter{
			logger:       logger,
			shutdownChan: make(chan struct{}),
		}, nil
	}

	if writerConfig.WriteIntervalSeconds <= 0 {
		logger.Warn("write_interval_seconds is zero or negative, defaulting to 1s",
			zap.Int("originalValue", writerConfig.WriteIntervalSeconds))
		writerConfig.WriteIntervalSeconds = 1
	}
	if writerConfig.BatchSize <= 0 {
		logger.Warn("batch_size is zero or negative, defaulting to 100",
			zap.Int("originalValue", writerConfig.BatchSize))
		writerConfig.BatchSize = 100
	}

	writer := &TimescaleWriter{
		pool:         pool,
		logger:       logger,
		config:       writerConfig,
		tradeBuffer:  make([]TradeRecord, 0, writerConfig.BatchSize),
		equityBuffer: make([]EquityMark, 0, writerConfig.BatchSize),
		shutdownChan: make(chan struct{}),
	}
	writer.flushTicker = time.NewTicker(time.Duration(writerConfig.WriteIntervalSeconds) * time.Second)
	go writer.run()
	logger.Info("Connected to TimescaleDB and started batch writer")
	return writer, nil
}

// Close flushes outstanding records and closes the pool.
func (w *TimescaleWriter) Close() {
	if w.pool == nil {
		return
	}
	w.logger.Info("Closing TimescaleDB writer...")
	close(w.shutdownChan)
	w.flushTicker.Stop()
	w.flushBuffers()
	w.pool.Close()
	w.logger.Info("TimescaleDB connection pool closed")
}

func (w *TimescaleWriter) run() {
	for {
		select {
		case <-w.flushTicker.C:
			w.flushBuffers()
		case <-w.shutdownChan:
			return
		}
	}
}

// SaveTrade buffers one closed trade.
func (w *TimescaleWriter) SaveTrade(trade TradeRecord) {
	if w.pool == nil {
		return
	}
	w.bufferMutex.Lock()
	w.tradeBuffer = append(w.tradeBuffer, trade)
	shouldFlush := len(w.tradeBuffer) >= w.config.BatchSize
	w.bufferMutex.Unlock()

	if shouldFlush {
		w.flushBuffers()
	}
}

// SaveEquity buffers one equity mark.
func (w *TimescaleWriter) SaveEquity(mark EquityMark) {
	if w.pool == nil {
		return
	}
	w.bufferMutex.Lock()
	w.equityBuffer = append(w.equityBuffer, mark)
	shouldFlush := len(w.equityBuffer) >= w.config.BatchSize
	w.bufferMutex.Unlock()

	if shouldFlush {
		w.flushBuffers()
	}
}

func (w *TimescaleWriter) flushBuffers() {
	w.bufferMutex.Lock()
	defer w.bufferMutex.Unlock()

	if len(w.tradeBuffer) > 0 {
		w.batchInsertTrades(context.Background(), w.tradeBuffer)
		w.tradeBuffer = w.tradeBuffer[:0]
	}
	if len(w.equityBuffer) > 0 {
		w.batchInsertEquity(context.Background(), w.equityBuffer)
		w.equityBuffer = w.equityBuffer[:0]
	}
}

func (w *TimescaleWriter) batchInsertTrades(ctx context.Context, trades []TradeRecord) {
	w.logger.Debug("Flushing trades", zap.Int("count", len(trades)))
	_, err := w.pool.CopyFrom(
		ctx,
		pgx.Identifier{"trades"},
		[]string{"time", "symbol", "side", "entry_price", "exit_price", "size", "pnl", "fee"},
		pgx.CopyFromRows(toTradeInterfaces(trades)),
	)
	if err != nil {
		w.logger.Error("Failed to batch insert trades", zap.Error(err))
	}
}

func (w *TimescaleWriter) batchInsertEquity(ctx context.Context, marks []EquityMark) {
	w.logger.Debug("Flushing equity marks", zap.Int("count", len(marks)))
	_, err := w.pool.CopyFrom(
		ctx,
		pgx.Identifier{"equity_marks"},
		[]string{"time", "balance", "equity"},
		pgx.CopyFromRows(toEquityInterfaces(marks)),
	)
	if err != nil {
		w.logger.Error("Failed to batch insert equity marks", zap.Error(err))
	}
}

func toTradeInterfaces(trades []TradeRecord) [][]interface{} {
	rows := make([][]interface{}, len(trades))
	for i, t := range trades {
		rows[i] = []interface{}{t.Time, t.Symbol, t.Side, t.Entry, t.Exit, t.Size, t.PnL, t.Fee}
	}
	return rows
}

func toEquityInterfaces(marks []EquityMark) [][]interface{} {
	rows := make([][]interface{}, len(marks))
	for i, m := range marks {
		rows[i] = []interface{}{m.Time, m.Balance, m.Equity}
	}
	return rows
}
