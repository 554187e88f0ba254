package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"regexp"
	"sync"
	"time"

	"harvester/config"
	"harvester/metrics"
	"harvester/util/goroutine"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

var (
	// validIdentifierRegex keeps database and table names safe to interpolate
	validIdentifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

// OpenClickHouse connects to ClickHouse and makes sure the database exists
func OpenClickHouse(cfg *config.Config, tlsConfig *tls.Config, logger *zap.SugaredLogger) (driver.Conn, error) {
	chCfg := cfg.Indexer.ClickHouse
	if err := validateIdentifier(chCfg.Database); err != nil {
		return nil, fmt.Errorf("invalid database name: %w", err)
	}

	options := &clickhouse.Options{
		Addr: []string{chCfg.Addr},
		Auth: clickhouse.Auth{
			Username: cfg.Indexer.Username,
			Password: cfg.Indexer.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 10 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns:     chCfg.MaxPoolSize,
		MaxIdleConns:     chCfg.MaxPoolSize / 2,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
		TLS:              tlsConfig,
		DialContext: func(ctx context.Context, addr string) (net.Conn, error) {
			d := net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
			return d.DialContext(ctx, "tcp", addr)
		},
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	logger.Infow("Connected to ClickHouse", "addr", chCfg.Addr)

	query := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", chCfg.Database)
	if err := conn.Exec(ctx, query); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create database: %w", err)
	}
	logger.Infow("ClickHouse database ready", "database", chCfg.Database)

	return conn, nil
}

func validateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 128 {
		return fmt.Errorf("identifier too long (max 128 characters)")
	}
	if !validIdentifierRegex.MatchString(name) {
		return fmt.Errorf("identifier %q contains invalid characters", name)
	}
	return nil
}

// chRow is one row of an index table. Deleted rows are tombstones collapsed by
// ReplacingMergeTree on merge.
type chRow struct {
	ID       string
	AgentID  string
	Document string
	Deleted  uint8
	Version  uint64
}

// clickHouseWriter is the set of statements the connector issues
type clickHouseWriter interface {
	EnsureTable(ctx context.Context, table string) error
	Insert(ctx context.Context, table string, rows []chRow) error
	DeleteAgent(ctx context.Context, table, agentID string) error
	Ping(ctx context.Context) error
}

// chDriverWriter runs clickHouseWriter statements on a driver connection
type chDriverWriter struct {
	conn     driver.Conn
	database string
}

func (w *chDriverWriter) qualified(table string) (string, error) {
	if err := validateIdentifier(table); err != nil {
		return "", err
	}
	return fmt.Sprintf("`%s`.`%s`", w.database, table), nil
}

func (w *chDriverWriter) EnsureTable(ctx context.Context, table string) error {
	name, err := w.qualified(table)
	if err != nil {
		return err
	}
	query := `CREATE TABLE IF NOT EXISTS ` + name + ` (
		id String,
		agent_id LowCardinality(String),
		document String,
		deleted UInt8,
		version UInt64,
		INDEX idx_agent_id agent_id TYPE bloom_filter(0.01) GRANULARITY 1
	) ENGINE = ReplacingMergeTree(version, deleted)
	ORDER BY id`
	return w.conn.Exec(ctx, query)
}

func (w *chDriverWriter) Insert(ctx context.Context, table string, rows []chRow) error {
	name, err := w.qualified(table)
	if err != nil {
		return err
	}
	batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO "+name+" (id, agent_id, document, deleted, version)")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, r := range rows {
		if err := batch.Append(r.ID, r.AgentID, r.Document, r.Deleted, r.Version); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append row %s: %w", r.ID, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

func (w *chDriverWriter) DeleteAgent(ctx context.Context, table, agentID string) error {
	name, err := w.qualified(table)
	if err != nil {
		return err
	}
	ctx = clickhouse.Context(ctx, clickhouse.WithSettings(clickhouse.Settings{
		"mutations_sync": 1,
	}))
	return w.conn.Exec(ctx, "ALTER TABLE "+name+" DELETE WHERE agent_id = ?", agentID)
}

func (w *chDriverWriter) Ping(ctx context.Context) error {
	return w.conn.Ping(ctx)
}

// chOp is a unit of work for the connector loop. A nil msg requests a flush and
// reports its result on done.
type chOp struct {
	msg  *Message
	done chan error
}

// ClickHouseConnector buffers index messages and writes them to a
// ReplacingMergeTree table in batches. Identical re-inserts of a document are
// suppressed with an LRU of content hashes.
type ClickHouseConnector struct {
	writer  clickHouseWriter
	table   string
	opts    ConnectorOptions
	logger  *zap.SugaredLogger
	dedup   *lru.Cache[string, uint64]
	queue   chan chOp
	stop    chan struct{}
	pending []chRow
	version uint64
	// agents whose delete mutation has not succeeded yet, in publish order
	purges  []string
	dropped int
	failing bool

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewClickHouseConnector creates the table for index in database and starts the
// batch writer. conn is shared and is not closed by the connector.
func NewClickHouseConnector(ctx context.Context, conn driver.Conn, database, index string, opts ConnectorOptions, logger *zap.SugaredLogger) (*ClickHouseConnector, error) {
	if err := validateIdentifier(database); err != nil {
		return nil, fmt.Errorf("invalid database name: %w", err)
	}
	return newClickHouseConnector(ctx, &chDriverWriter{conn: conn, database: database}, index, opts, logger)
}

func newClickHouseConnector(ctx context.Context, writer clickHouseWriter, index string, opts ConnectorOptions, logger *zap.SugaredLogger) (*ClickHouseConnector, error) {
	if err := validateIdentifier(index); err != nil {
		return nil, fmt.Errorf("invalid index name: %w", err)
	}
	opts = opts.withDefaults()

	dedup, err := lru.New[string, uint64](opts.DedupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}

	if err := writer.EnsureTable(ctx, index); err != nil {
		return nil, fmt.Errorf("failed to create table %s: %w", index, err)
	}

	c := &ClickHouseConnector{
		writer:  writer,
		table:   index,
		opts:    opts,
		logger:  logger,
		dedup:   dedup,
		queue:   make(chan chOp, opts.QueueSize),
		stop:    make(chan struct{}),
		pending: make([]chRow, 0, opts.BatchSize),
	}

	c.wg.Add(1)
	go c.run()

	logger.Infow("ClickHouse connector started",
		"table", index,
		"batch_size", opts.BatchSize,
		"flush_interval", opts.FlushInterval)
	return c, nil
}

// Publish validates message and queues it for the next batch. It blocks while
// the queue is full until ctx is done.
func (c *ClickHouseConnector) Publish(ctx context.Context, message string) error {
	msg, err := ParseMessage(message)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, chOp{msg: msg})
}

func (c *ClickHouseConnector) enqueue(ctx context.Context, op chOp) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnectorClosed
	}

	select {
	case c.queue <- op:
		return nil
	case <-c.stop:
		return ErrConnectorClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrQueueFull, ctx.Err())
	}
}

// Sync flushes everything queued before the call, including the documents of agentID
func (c *ClickHouseConnector) Sync(ctx context.Context, agentID string) error {
	done := make(chan error, 1)
	if err := c.enqueue(ctx, chOp{done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("sync agent %s: %w", agentID, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *ClickHouseConnector) Ping(ctx context.Context) error {
	return c.writer.Ping(ctx)
}

// Close stops accepting messages, flushes the queue and waits for the writer
func (c *ClickHouseConnector) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
		c.mu.Lock()
		c.closed = true
		close(c.queue)
		c.mu.Unlock()
		c.wg.Wait()
	})
	return nil
}

func (c *ClickHouseConnector) run() {
	defer c.wg.Done()
	defer goroutine.Recover("clickhouse-connector-"+c.table, c.logger)

	ticker := time.NewTicker(c.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case op, ok := <-c.queue:
			if !ok {
				ctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
				if err := c.flush(ctx); err != nil {
					c.logger.Errorw("Discarding unflushed work on close",
						"table", c.table,
						"rows", len(c.pending),
						"purges", len(c.purges),
						"error", err)
				}
				cancel()
				c.logger.Infow("ClickHouse connector stopped", "table", c.table)
				return
			}
			c.handle(op)
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
			_ = c.flush(ctx)
			cancel()
		}
	}
}

func (c *ClickHouseConnector) handle(op chOp) {
	ctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
	defer cancel()

	if op.msg == nil {
		err := c.flush(ctx)
		if err == nil {
			err = c.takeDropped()
		}
		op.done <- err
		return
	}

	msg := op.msg
	switch msg.Operation {
	case OperationInserted:
		sum := xxhash.Sum64(msg.Data)
		if prev, ok := c.dedup.Get(msg.ID); ok && prev == sum {
			metrics.DuplicatesSuppressed.WithLabelValues(config.ConnectorClickHouse).Inc()
			return
		}
		c.dedup.Add(msg.ID, sum)
		c.pending = append(c.pending, chRow{
			ID:       msg.ID,
			AgentID:  msg.AgentID(),
			Document: string(msg.Data),
			Version:  c.nextVersion(),
		})
	case OperationDeleted:
		c.dedup.Remove(msg.ID)
		c.pending = append(c.pending, chRow{
			ID:      msg.ID,
			AgentID: msg.AgentID(),
			Deleted: 1,
			Version: c.nextVersion(),
		})
	case OperationDeletedByQuery:
		// rows queued before the purge are written first. Those that cannot be
		// are superseded by it.
		if err := c.flush(ctx); err != nil {
			c.dropAgentRows(msg.ID)
		}
		c.forgetAgent(msg.ID)
		c.purges = append(c.purges, msg.ID)
		if err := c.runPurges(ctx); err != nil {
			c.logger.Warnw("Agent purge failed, retrying on next flush", "table", c.table, "agent_id", msg.ID, "error", err)
		}
		return
	}

	if len(c.pending) >= c.opts.BatchSize && !c.failing {
		_ = c.flush(ctx)
	}
}

// forgetAgent drops the content hashes of agentID's documents
func (c *ClickHouseConnector) forgetAgent(agentID string) {
	for _, id := range c.dedup.Keys() {
		if agentOfID(id) == agentID {
			c.dedup.Remove(id)
		}
	}
}

func (c *ClickHouseConnector) dropAgentRows(agentID string) {
	kept := c.pending[:0]
	for _, r := range c.pending {
		if r.AgentID != agentID {
			kept = append(kept, r)
		}
	}
	c.pending = kept
}

// runPurges issues the outstanding delete mutations in order and stops at the first failure
func (c *ClickHouseConnector) runPurges(ctx context.Context) error {
	for len(c.purges) > 0 {
		agentID := c.purges[0]
		if err := c.writer.DeleteAgent(ctx, c.table, agentID); err != nil {
			metrics.PublishErrors.WithLabelValues(config.ConnectorClickHouse).Inc()
			return fmt.Errorf("delete agent %s: %w", agentID, err)
		}
		c.purges = c.purges[1:]
		metrics.DocumentsPublished.WithLabelValues(config.ConnectorClickHouse, OperationDeletedByQuery).Inc()
	}
	return nil
}

// requeue puts a failed batch back in front of newer rows. Beyond QueueSize the
// oldest rows are dropped and reported by the next Sync.
func (c *ClickHouseConnector) requeue(rows []chRow) {
	c.pending = append(rows, c.pending...)
	if over := len(c.pending) - c.opts.QueueSize; over > 0 {
		for _, r := range c.pending[:over] {
			c.dedup.Remove(r.ID)
		}
		c.pending = append([]chRow(nil), c.pending[over:]...)
		c.dropped += over
		c.logger.Errorw("Dropped rows after failed flushes", "table", c.table, "rows", over)
	}
}

func (c *ClickHouseConnector) takeDropped() error {
	if c.dropped == 0 {
		return nil
	}
	n := c.dropped
	c.dropped = 0
	return fmt.Errorf("%w: %d rows of %s", ErrRowsDropped, n, c.table)
}

// nextVersion is strictly increasing and survives restarts by tracking the clock
func (c *ClickHouseConnector) nextVersion() uint64 {
	v := uint64(time.Now().UnixNano())
	if v <= c.version {
		v = c.version + 1
	}
	c.version = v
	return v
}

// flush runs outstanding purges, then writes the pending rows. A failed batch
// stays pending for the next flush.
func (c *ClickHouseConnector) flush(ctx context.Context) error {
	if err := c.runPurges(ctx); err != nil {
		c.failing = true
		return err
	}
	if len(c.pending) == 0 {
		c.failing = false
		return nil
	}
	rows := c.pending
	c.pending = make([]chRow, 0, c.opts.BatchSize)

	start := time.Now()
	if err := c.writer.Insert(ctx, c.table, rows); err != nil {
		metrics.ConnectorFlushes.WithLabelValues(config.ConnectorClickHouse, "error").Inc()
		metrics.PublishErrors.WithLabelValues(config.ConnectorClickHouse).Inc()
		c.failing = true
		c.requeue(rows)
		c.logger.Errorw("Failed to flush batch", "table", c.table, "rows", len(rows), "error", err)
		return err
	}
	c.failing = false

	metrics.ConnectorFlushes.WithLabelValues(config.ConnectorClickHouse, "success").Inc()
	for _, r := range rows {
		op := OperationInserted
		if r.Deleted == 1 {
			op = OperationDeleted
		}
		metrics.DocumentsPublished.WithLabelValues(config.ConnectorClickHouse, op).Inc()
	}
	c.logger.Debugw("Flushed batch", "table", c.table, "rows", len(rows), "duration", time.Since(start))
	return nil
}
