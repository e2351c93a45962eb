// Package sqldb upserts routine messages into a MySQL or PostgreSQL table.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/ohowland/cgc_dispatch/internal/pkg/msg"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

// ErrDialect is returned for a driver other than mysql or postgres.
var ErrDialect = errors.New("unsupported sql driver")

// Config selects the driver, data source and table.
type Config struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
	Table  string `mapstructure:"table" yaml:"table"`
}

type dialect struct {
	create string
	upsert string
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func dialectFor(driver, table string) (dialect, error) {
	if !tableName.MatchString(table) {
		return dialect{}, fmt.Errorf("invalid table name %q", table)
	}
	switch driver {
	case "mysql":
		return dialect{
			create: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	pid VARCHAR(36) NOT NULL,
	topic VARCHAR(16) NOT NULL,
	payload JSON,
	updated DATETIME(6),
	PRIMARY KEY (pid, topic))`, table),
			upsert: fmt.Sprintf(`INSERT INTO %s (pid, topic, payload, updated) VALUES (?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE payload = VALUES(payload), updated = VALUES(updated)`, table),
		}, nil
	case "postgres":
		return dialect{
			create: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	pid VARCHAR(36) NOT NULL,
	topic VARCHAR(16) NOT NULL,
	payload JSONB,
	updated TIMESTAMPTZ,
	PRIMARY KEY (pid, topic))`, table),
			upsert: fmt.Sprintf(`INSERT INTO %s (pid, topic, payload, updated) VALUES ($1, $2, $3, $4)
	ON CONFLICT (pid, topic) DO UPDATE SET payload = EXCLUDED.payload, updated = EXCLUDED.updated`, table),
		}, nil
	}
	return dialect{}, fmt.Errorf("%w: %q", ErrDialect, driver)
}

// Handler keeps one row per sender and topic.
type Handler struct {
	mux     *sync.Mutex
	inbox   chan msg.Msg
	pid     uuid.UUID
	config  Config
	dialect dialect
	db      *sql.DB
	wg      *sync.WaitGroup
}

// New opens the database, creates the table and subscribes to every source.
func New(ctx context.Context, cfg Config, sources ...msg.Publisher) (*Handler, error) {
	if cfg.Table == "" {
		cfg.Table = "dispatch_messages"
	}
	d, err := dialectFor(cfg.Driver, cfg.Table)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s ping: %w", cfg.Driver, err)
	}
	if _, err := db.ExecContext(ctx, d.create); err != nil {
		db.Close()
		return nil, fmt.Errorf("create %s: %w", cfg.Table, err)
	}

	pid, err := uuid.NewUUID()
	if err != nil {
		db.Close()
		return nil, err
	}
	h := &Handler{
		mux:     &sync.Mutex{},
		inbox:   make(chan msg.Msg, 50),
		pid:     pid,
		config:  cfg,
		dialect: d,
		db:      db,
		wg:      &sync.WaitGroup{},
	}
	for _, src := range sources {
		for _, topic := range []msg.Topic{msg.Status, msg.Config, msg.Result} {
			ch, err := src.Subscribe(pid, topic)
			if err != nil {
				h.unsubscribe(sources)
				db.Close()
				return nil, fmt.Errorf("subscribe %s: %w", topic, err)
			}
			h.wg.Add(1)
			go h.redirectMsg(ch)
		}
	}
	go func() {
		h.wg.Wait()
		close(h.inbox)
	}()
	return h, nil
}

func (h *Handler) redirectMsg(ch <-chan msg.Msg) {
	defer h.wg.Done()
	for m := range ch {
		h.inbox <- m
	}
}

// unsubscribe releases the subscriptions taken so far and waits for the
// redirect goroutines to drain.
func (h *Handler) unsubscribe(sources []msg.Publisher) {
	for _, src := range sources {
		src.Unsubscribe(h.pid)
	}
	go func() {
		for range h.inbox {
		}
	}()
	h.wg.Wait()
	close(h.inbox)
}

// PID returns the handler's subscriber id.
func (h *Handler) PID() uuid.UUID {
	return h.pid
}

func rowArgs(m msg.Msg, now time.Time) ([]interface{}, error) {
	payload, err := json.Marshal(m.Payload())
	if err != nil {
		return nil, err
	}
	return []interface{}{m.PID().String(), m.Topic().String(), string(payload), now}, nil
}

func (h *Handler) write(ctx context.Context, m msg.Msg) error {
	args, err := rowArgs(m, time.Now().UTC())
	if err != nil {
		return err
	}
	h.mux.Lock()
	defer h.mux.Unlock()
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	_, err = h.db.ExecContext(ctx, h.dialect.upsert, args...)
	return err
}

// Process writes inbound messages until ctx is done or every source has
// dropped the subscription, then closes the database.
func (h *Handler) Process(ctx context.Context) {
	log := logr.FromContextOrDiscard(ctx).WithName("sqldb")
	log.V(1).Info("process started", "driver", h.config.Driver, "table", h.config.Table)
	defer func() {
		if err := h.db.Close(); err != nil {
			log.Error(err, "close")
		}
		log.V(1).Info("process shutdown")
	}()
	for {
		select {
		case m, ok := <-h.inbox:
			if !ok {
				return
			}
			if err := h.write(ctx, m); err != nil {
				log.Error(err, "update db", "topic", m.Topic().String())
			}
		case <-ctx.Done():
			return
		}
	}
}
