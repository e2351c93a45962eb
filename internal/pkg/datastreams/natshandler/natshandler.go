// Package natshandler forwards routine messages to a NATS server as JSON.
package natshandler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	nats "github.com/nats-io/nats.go"
	"github.com/ohowland/cgc_dispatch/internal/pkg/msg"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "cgc.dispatch"

// Config selects the NATS server and subject prefix.
type Config struct {
	Server string `mapstructure:"server" yaml:"server"`
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

type conn interface {
	Publish(subj string, data []byte) error
	Close()
}

// Handler relays Status, Config and Result messages from its sources.
type Handler struct {
	mux    *sync.Mutex
	inbox  chan msg.Msg
	pid    uuid.UUID
	config Config
	conn   conn
	wg     *sync.WaitGroup
}

// New connects to cfg.Server and subscribes to every source.
func New(cfg Config, sources ...msg.Publisher) (*Handler, error) {
	if cfg.Server == "" {
		cfg.Server = nats.DefaultURL
	}
	nc, err := nats.Connect(cfg.Server, nats.Name("cgc_dispatch"))
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.Server, err)
	}
	h, err := newHandler(cfg, nc, sources...)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return h, nil
}

func newHandler(cfg Config, c conn, sources ...msg.Publisher) (*Handler, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	pid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}
	h := &Handler{
		mux:    &sync.Mutex{},
		inbox:  make(chan msg.Msg, 50),
		pid:    pid,
		config: cfg,
		conn:   c,
		wg:     &sync.WaitGroup{},
	}
	for _, src := range sources {
		for _, topic := range []msg.Topic{msg.Status, msg.Config, msg.Result} {
			ch, err := src.Subscribe(pid, topic)
			if err != nil {
				h.unsubscribe(sources)
				return nil, fmt.Errorf("subscribe %s: %w", topic, err)
			}
			h.wg.Add(1)
			go h.redirect(ch)
		}
	}
	go func() {
		h.wg.Wait()
		close(h.inbox)
	}()
	return h, nil
}

// unsubscribe releases every subscription taken so far and waits for the
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

func (h *Handler) redirect(ch <-chan msg.Msg) {
	defer h.wg.Done()
	for m := range ch {
		h.inbox <- m
	}
}

// Subject returns the subject m is published on.
func (h *Handler) Subject(m msg.Msg) string {
	return fmt.Sprintf("%s.%s.%s", h.config.Prefix, m.PID(), m.Topic())
}

func encode(m msg.Msg) ([]byte, error) {
	return json.Marshal(m.Payload())
}

func (h *Handler) publish(ctx context.Context, m msg.Msg) {
	log := logr.FromContextOrDiscard(ctx)
	data, err := encode(m)
	if err != nil {
		log.Error(err, "encode", "topic", m.Topic().String())
		return
	}
	h.mux.Lock()
	defer h.mux.Unlock()
	if err := h.conn.Publish(h.Subject(m), data); err != nil {
		log.Error(err, "unable to publish to nats server", "subject", h.Subject(m))
	}
}

// Process publishes inbound messages until ctx is done or every source has
// dropped the subscription, then closes the connection.
func (h *Handler) Process(ctx context.Context) {
	log := logr.FromContextOrDiscard(ctx).WithName("nats")
	log.V(1).Info("process started", "server", h.config.Server)
	defer func() {
		h.conn.Close()
		log.V(1).Info("process shutdown")
	}()
	for {
		select {
		case m, ok := <-h.inbox:
			if !ok {
				return
			}
			h.publish(ctx, m)
		case <-ctx.Done():
			return
		}
	}
}
