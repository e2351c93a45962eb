// Package mongodb upserts routine status, config and results into MongoDB.
package mongodb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/ohowland/cgc_dispatch/internal/pkg/msg"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Config locates the database.
type Config struct {
	URI      string `mapstructure:"uri" yaml:"uri"`
	Database string `mapstructure:"database" yaml:"database"`
}

// Handler writes one document per sender and topic.
type Handler struct {
	mux    *sync.Mutex
	inbox  chan msg.Msg
	pid    uuid.UUID
	config Config
	client *mongo.Client
	wg     *sync.WaitGroup
}

// New connects to cfg.URI and subscribes to every source.
func New(ctx context.Context, cfg Config, sources ...msg.Publisher) (*Handler, error) {
	if cfg.Database == "" {
		cfg.Database = "cgc_dispatch"
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
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
		client: client,
		wg:     &sync.WaitGroup{},
	}
	for _, src := range sources {
		for _, topic := range []msg.Topic{msg.Status, msg.Config, msg.Result} {
			ch, err := src.Subscribe(pid, topic)
			if err != nil {
				h.unsubscribe(sources)
				_ = client.Disconnect(ctx)
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

// Collection names the collection a topic is written to.
func Collection(t msg.Topic) string {
	switch t {
	case msg.Status:
		return "routineStatus"
	case msg.Config:
		return "routineConfig"
	case msg.Result:
		return "routineResult"
	}
	return "routineUnknown"
}

func filter(m msg.Msg) bson.M {
	return bson.M{"pid": m.PID().String()}
}

func msgToBSON(m msg.Msg, now time.Time) bson.D {
	//TODO: PID should be written as a binary of subtype 0x04 (UUID standard).
	return bson.D{
		{Key: "$set", Value: bson.M{
			"pid":     m.PID().String(),
			"topic":   m.Topic().String(),
			"data":    m.Payload(),
			"updated": now,
		}},
	}
}

func (h *Handler) write(ctx context.Context, m msg.Msg) error {
	h.mux.Lock()
	defer h.mux.Unlock()
	coll := h.client.Database(h.config.Database).Collection(Collection(m.Topic()))
	opts := options.Update().SetUpsert(true)
	_, err := coll.UpdateOne(ctx, filter(m), msgToBSON(m, time.Now().UTC()), opts)
	return err
}

// Process writes inbound messages until ctx is done or every source has
// dropped the subscription, then disconnects.
func (h *Handler) Process(ctx context.Context) {
	log := logr.FromContextOrDiscard(ctx).WithName("mongo")
	log.V(1).Info("process started", "database", h.config.Database)
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.client.Disconnect(dctx); err != nil {
			log.Error(err, "disconnect")
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
				log.Error(err, "upsert", "collection", Collection(m.Topic()))
			}
		case <-ctx.Done():
			return
		}
	}
}
