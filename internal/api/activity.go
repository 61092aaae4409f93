package api

import (
	"context"
	"errors"
	"fmt"

	"grabbit/internal/api/jobs"
	"grabbit/internal/event"
	"grabbit/internal/http/websocket"

	"github.com/google/uuid"
)

const (
	TitleJobUpdate   = "JOB_UPDATE"
	TitleJobProgress = "JOB_PROGRESS_UPDATE"
	TitleJobComplete = "JOB_COMPLETE"

	CommandJobList    = "JOB_LIST"
	CommandJobDetails = "JOB_DETAILS"
)

type (
	JobUpdate struct {
		JobID uuid.UUID `json:"job_id"`
		Job   *jobs.Dto `json:"job"`
	}

	// broadcaster bridges the internal event bus on to the activity
	// websocket, pushing job state to every connected client as the job
	// service emits updates.
	broadcaster struct {
		socketHub  *websocket.SocketHub
		jobService jobs.Service
		eventCh    event.HandlerChannel
	}
)

func newBroadcaster(socketHub *websocket.SocketHub, jobService jobs.Service, eventBus event.EventHandler) *broadcaster {
	eventCh := make(event.HandlerChannel, 100)
	eventBus.RegisterHandlerChannel(eventCh, event.JobUpdateEvent, event.JobProgressEvent, event.JobCompleteEvent)

	hub := &broadcaster{
		socketHub:  socketHub,
		jobService: jobService,
		eventCh:    eventCh,
	}

	socketHub.WithConnectionCallback(hub.welcomePayload)
	socketHub.
		BindCommand(CommandJobList, hub.jobListCommand).
		BindCommand(CommandJobDetails, hub.jobDetailsCommand)

	return hub
}

// welcomePayload feeds the hub's welcome message so a freshly connected
// client starts with the full in-flight job list.
func (hub *broadcaster) welcomePayload() map[string]interface{} {
	return map[string]interface{}{"jobs": hub.jobDtos()}
}

func (hub *broadcaster) jobListCommand(socketHub *websocket.SocketHub, command *websocket.SocketMessage) error {
	socketHub.Send(command.FormReply(
		"COMMAND_SUCCESS",
		map[string]interface{}{"jobs": hub.jobDtos()},
		websocket.Response,
	))

	return nil
}

func (hub *broadcaster) jobDetailsCommand(socketHub *websocket.SocketHub, command *websocket.SocketMessage) error {
	rawID, ok := command.Body["id"].(string)
	if !ok {
		return errors.New("JOB_DETAILS command requires a string 'id' argument")
	}

	jobID, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("argument 'id' is not a valid UUID: %w", err)
	}

	item := hub.jobService.Job(jobID)
	if item == nil {
		return fmt.Errorf("no job found with ID %s", jobID)
	}

	socketHub.Send(command.FormReply(
		"COMMAND_SUCCESS",
		map[string]interface{}{"job": jobs.NewDto(item)},
		websocket.Response,
	))

	return nil
}

func (hub *broadcaster) jobDtos() []*jobs.Dto {
	items := hub.jobService.AllJobs()
	dtos := make([]*jobs.Dto, len(items))
	for k, v := range items {
		dtos[k] = jobs.NewDto(v)
	}

	return dtos
}

// run drains the event channel until the context is cancelled, translating
// each bus event to a broadcast on the socket hub.
func (hub *broadcaster) run(ctx context.Context) {
	for {
		select {
		case handlerEvent := <-hub.eventCh:
			jobID, ok := handlerEvent.Payload.(uuid.UUID)
			if !ok {
				continue
			}

			switch handlerEvent.Event {
			case event.JobUpdateEvent:
				hub.broadcastJob(TitleJobUpdate, jobID)
			case event.JobProgressEvent:
				hub.broadcastJob(TitleJobProgress, jobID)
			case event.JobCompleteEvent:
				hub.broadcastJob(TitleJobComplete, jobID)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (hub *broadcaster) broadcastJob(title string, jobID uuid.UUID) {
	update := JobUpdate{JobID: jobID}
	if item := hub.jobService.Job(jobID); item != nil {
		update.Job = jobs.NewDto(item)
	}

	hub.broadcast(title, update)
}

func (hub *broadcaster) broadcast(title string, update any) {
	hub.socketHub.Send(&websocket.SocketMessage{
		Title: title,
		Body:  map[string]interface{}{"arguments": update},
		Type:  websocket.Update,
	})
}
