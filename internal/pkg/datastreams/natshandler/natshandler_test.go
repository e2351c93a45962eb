package natshandler

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_dispatch/internal/pkg/msg"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/poll"
)

type fakeConn struct {
	mux    sync.Mutex
	sent   map[string][]byte
	closed bool
}

func (c *fakeConn) Publish(subj string, data []byte) error {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.sent[subj] = data
	return nil
}

func (c *fakeConn) Close() {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.closed = true
}

func (c *fakeConn) get(subj string) ([]byte, bool) {
	c.mux.Lock()
	defer c.mux.Unlock()
	b, ok := c.sent[subj]
	return b, ok
}

func TestSubject(t *testing.T) {
	h, err := newHandler(Config{}, &fakeConn{})
	assert.NilError(t, err)

	sender := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	m := msg.New(sender, msg.Result, nil)
	assert.Equal(t, h.Subject(m), "cgc.dispatch.6ba7b810-9dad-11d1-80b4-00c04fd430c8.result")
}

func TestProcessForwardsMessages(t *testing.T) {
	pid, err := uuid.NewUUID()
	assert.NilError(t, err)
	src := msg.NewPublisher(pid)
	fc := &fakeConn{sent: make(map[string][]byte)}

	h, err := newHandler(Config{Prefix: "test"}, fc, src)
	assert.NilError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Process(ctx)
		close(done)
	}()

	assert.Equal(t, src.Publish(msg.Status, map[string]string{"state": "solved"}), 1)
	subj := "test." + pid.String() + ".status"
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if _, ok := fc.get(subj); ok {
			return poll.Success()
		}
		return poll.Continue("waiting for %s", subj)
	}, poll.WithTimeout(2*time.Second))

	data, _ := fc.get(subj)
	var got map[string]string
	assert.NilError(t, json.Unmarshal(data, &got))
	assert.Equal(t, got["state"], "solved")

	cancel()
	<-done
	assert.Assert(t, fc.closed)
}

func TestProcessEndsWhenSourcesClose(t *testing.T) {
	pid, err := uuid.NewUUID()
	assert.NilError(t, err)
	src := msg.NewPublisher(pid)
	fc := &fakeConn{sent: make(map[string][]byte)}

	h, err := newHandler(Config{}, fc, src)
	assert.NilError(t, err)
	assert.Equal(t, src.Publish(msg.Result, 1.0), 1)
	src.Unsubscribe(h.PID())

	h.Process(context.Background())
	assert.Assert(t, fc.closed)
	_, ok := fc.get(DefaultPrefix + "." + pid.String() + ".result")
	assert.Assert(t, ok)
}

func TestFailedSubscribeReleasesEarlierSources(t *testing.T) {
	pid, err := uuid.NewUUID()
	assert.NilError(t, err)
	live := msg.NewPublisher(pid)
	closed := msg.NewPublisher(pid)
	closed.Close()

	_, err = newHandler(Config{}, &fakeConn{}, live, closed)
	assert.ErrorIs(t, err, msg.ErrClosed)
	for _, topic := range []msg.Topic{msg.Status, msg.Config, msg.Result} {
		assert.Equal(t, live.Publish(topic, 1.0), 0)
	}
}
