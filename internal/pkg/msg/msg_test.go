package msg

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gotest.tools/v3/assert"
)

func TestSubscribe(t *testing.T) {
	pidPub, err := uuid.NewUUID()
	assert.NilError(t, err)

	pidSub1, err := uuid.NewUUID()
	assert.NilError(t, err)

	pidSub2, err := uuid.NewUUID()
	assert.NilError(t, err)

	pubsub := NewPublisher(pidPub)
	ch1, err := pubsub.Subscribe(pidSub1, Result)
	assert.NilError(t, err)
	ch2, err := pubsub.Subscribe(pidSub2, Result)
	assert.NilError(t, err)

	randValue := rand.Float64()

	var wg sync.WaitGroup
	for i, ch := range []<-chan Msg{ch1, ch2} {
		wg.Add(1)
		go func(i int, ch <-chan Msg) {
			defer wg.Done()
			incoming := <-ch
			assert.Equal(t, incoming.Payload(), randValue, "subscriber %d did not receive the published value", i)
			assert.Equal(t, incoming.PID(), pidPub)
			assert.Equal(t, incoming.Topic(), Result)
		}(i, ch)
	}

	assert.Equal(t, pubsub.Publish(Result, randValue), 2)
	wg.Wait()
}

func TestSubscribeTwice(t *testing.T) {
	pubsub := NewPublisher(uuid.New())
	pid := uuid.New()
	_, err := pubsub.Subscribe(pid, Status)
	assert.NilError(t, err)
	_, err = pubsub.Subscribe(pid, Status)
	assert.ErrorIs(t, err, ErrSubscribed)
	_, err = pubsub.Subscribe(pid, Config)
	assert.NilError(t, err)
}

func TestUnsubscribe(t *testing.T) {
	pubsub := NewPublisher(uuid.New())
	pid := uuid.New()
	ch, err := pubsub.Subscribe(pid, Status)
	assert.NilError(t, err)

	pubsub.Unsubscribe(pid)
	_, ok := <-ch
	assert.Assert(t, !ok)
	assert.Equal(t, pubsub.Publish(Status, 1), 0)
}

func TestPublishDoesNotBlock(t *testing.T) {
	pubsub := NewPublisher(uuid.New())
	ch, err := pubsub.Subscribe(uuid.New(), Status)
	assert.NilError(t, err)

	for i := 0; i < bufferSize+5; i++ {
		pubsub.Publish(Status, i)
	}
	assert.Equal(t, len(ch), bufferSize)
	first := <-ch
	assert.Equal(t, first.Payload(), 0)
}

func TestOtherTopicsIgnored(t *testing.T) {
	pubsub := NewPublisher(uuid.New())
	ch, err := pubsub.Subscribe(uuid.New(), Config)
	assert.NilError(t, err)
	assert.Equal(t, pubsub.Publish(Status, "x"), 0)
	assert.Equal(t, len(ch), 0)
}

func TestClose(t *testing.T) {
	pubsub := NewPublisher(uuid.New())
	ch, err := pubsub.Subscribe(uuid.New(), Result)
	assert.NilError(t, err)
	pubsub.Close()
	_, ok := <-ch
	assert.Assert(t, !ok)
	_, err = pubsub.Subscribe(uuid.New(), Result)
	assert.ErrorIs(t, err, ErrClosed)
}
