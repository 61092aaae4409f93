package event_test

import (
	"sync"
	"testing"
	"time"

	"grabbit/internal/event"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func Test_Dispatch_CallsRegisteredHandlerFunction(t *testing.T) {
	t.Parallel()

	bus := event.New()
	jobID := uuid.New()

	var handled []event.Payload
	bus.RegisterHandlerFunction(event.JobUpdateEvent, func(_ event.Event, payload event.Payload) {
		handled = append(handled, payload)
	})

	bus.Dispatch(event.JobUpdateEvent, jobID)
	bus.Dispatch(event.JobUpdateEvent, jobID)

	assert.Len(t, handled, 2)
	assert.Equal(t, jobID, handled[0])
}

func Test_Dispatch_AsyncHandlerRuns(t *testing.T) {
	t.Parallel()

	bus := event.New()
	wg := sync.WaitGroup{}
	wg.Add(1)

	bus.RegisterAsyncHandlerFunction(event.JobCompleteEvent, func(_ event.Event, _ event.Payload) {
		wg.Done()
	})

	bus.Dispatch(event.JobCompleteEvent, uuid.New())

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("async handler was not invoked")
	}
}

func Test_Dispatch_DeliversToHandlerChannels(t *testing.T) {
	t.Parallel()

	bus := event.New()
	channel := make(event.HandlerChannel, 2)
	bus.RegisterHandlerChannel(channel, event.JobUpdateEvent, event.JobCompleteEvent)

	jobID := uuid.New()
	bus.Dispatch(event.JobUpdateEvent, jobID)
	bus.Dispatch(event.JobCompleteEvent, jobID)

	first := <-channel
	second := <-channel
	assert.Equal(t, event.JobUpdateEvent, first.Event)
	assert.Equal(t, jobID, first.Payload)
	assert.Equal(t, event.JobCompleteEvent, second.Event)
}

func Test_Dispatch_RejectsIllegalPayloads(t *testing.T) {
	t.Parallel()

	bus := event.New()
	called := false
	bus.RegisterHandlerFunction(event.JobUpdateEvent, func(_ event.Event, _ event.Payload) { called = true })
	bus.RegisterHandlerFunction(event.SettingsUpdateEvent, func(_ event.Event, _ event.Payload) { called = true })

	// Job events demand a UUID payload; settings events demand a string key.
	bus.Dispatch(event.JobUpdateEvent, "not-a-uuid")
	bus.Dispatch(event.SettingsUpdateEvent, uuid.New())

	assert.False(t, called)
}
