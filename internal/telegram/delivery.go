package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"grabbit/internal/event"
	"grabbit/internal/fetch"
	"grabbit/internal/http/cobalt"
	"grabbit/internal/job"
	"grabbit/pkg/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
)

// deliverLoop drains job events from the bus, editing progress messages as
// jobs advance and delivering results once they finish.
func (gateway *Gateway) deliverLoop(ctx context.Context) {
	for {
		select {
		case handlerEvent := <-gateway.eventCh:
			jobID, ok := handlerEvent.Payload.(uuid.UUID)
			if !ok {
				continue
			}

			switch handlerEvent.Event {
			case event.JobUpdateEvent:
				gateway.reflectProgress(jobID)
			case event.JobCompleteEvent:
				gateway.deliver(ctx, jobID)
			}
		case <-ctx.Done():
			return
		}
	}
}

// reflectProgress edits the job's progress message when its status text
// has changed, rate limited to avoid hammering the edit endpoint.
func (gateway *Gateway) reflectProgress(jobID uuid.UUID) {
	item := gateway.jobs.Job(jobID)
	if item == nil {
		return
	}

	text := statusText(item.Status())
	if text == "" {
		return
	}

	tracked, ok := gateway.tracked.Load(jobID)
	if !ok || tracked.lastText == text || time.Since(tracked.lastEdit) < editInterval {
		return
	}

	// Only the deliver loop mutates tracked entries, so this is race-free.
	tracked.lastText = text
	tracked.lastEdit = time.Now()
	gateway.editMessage(tracked.chatID, tracked.messageID, text)
}

// deliver finalises a finished job: the progress message is replaced with
// the outcome, output files (or fallback links) are sent, and the job is
// released from the service.
func (gateway *Gateway) deliver(ctx context.Context, jobID uuid.UUID) {
	item := gateway.jobs.Job(jobID)
	if item == nil {
		return
	}

	tracked, ok := gateway.tracked.LoadAndDelete(jobID)
	if !ok {
		return
	}

	if item.Status() == job.Failed {
		gateway.editMessage(tracked.chatID, tracked.messageID, userFacingError(item.Failure()))
		if err := gateway.jobs.ReleaseJob(jobID); err != nil {
			log.Emit(logger.WARNING, "Failed to release job %s: %v\n", jobID, err)
		}
		return
	}

	gateway.editMessage(tracked.chatID, tracked.messageID, "Done!")
	for index, delivery := range item.Deliveries() {
		gateway.sendDelivery(ctx, item, index, delivery)
	}

	if err := gateway.jobs.ReleaseJob(jobID); err != nil {
		log.Emit(logger.WARNING, "Failed to release job %s: %v\n", jobID, err)
	}
}

func (gateway *Gateway) sendDelivery(ctx context.Context, item *job.Job, index int, delivery job.Delivery) {
	chatID := item.ChatID()

	if delivery.SharedURL != "" {
		gateway.sendText(chatID, sharedLinkText(delivery))
		return
	}

	document := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(delivery.Path))
	if _, err := gateway.bot.Send(document); err == nil {
		return
	} else if !isTooLargeError(err) {
		log.Emit(logger.ERROR, "Failed to send %s to chat %d: %v\n", delivery.Path, chatID, err)
		gateway.sendText(chatID, fmt.Sprintf("Failed to send %s: %v", delivery.Path, err))
		return
	}

	// Telegram rejected the attachment despite it being under our own
	// threshold; push it to the fallback host and send the link instead.
	if _, err := gateway.jobs.UploadFallback(ctx, item.ID(), index); err != nil {
		log.Emit(logger.ERROR, "Fallback upload for job %s failed: %v\n", item.ID(), err)
		gateway.sendText(chatID, fmt.Sprintf("The file was too large to attach and the fallback upload failed: %v", err))
		return
	}

	updated := item.Deliveries()[index]
	gateway.sendText(chatID, sharedLinkText(updated))
}

func (gateway *Gateway) editMessage(chatID int64, messageID int, text string) {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if _, err := gateway.bot.Send(edit); err != nil {
		log.Emit(logger.DEBUG, "Failed to edit message %d in chat %d: %v\n", messageID, chatID, err)
	}
}

func statusText(status job.Status) string {
	switch status {
	case job.Queued:
		return "Queued..."
	case job.Downloading:
		return "Downloading media..."
	case job.Converting:
		return "Converting..."
	case job.Optimizing:
		return "Optimizing GIF..."
	case job.Uploading:
		return "File exceeds the size threshold, uploading to litterbox..."
	default:
		return ""
	}
}

func sharedLinkText(delivery job.Delivery) string {
	return fmt.Sprintf("The file was too large to attach, so it was uploaded instead (expires in %s):\n%s",
		delivery.Expiry, delivery.SharedURL)
}

func isTooLargeError(err error) bool {
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "too large") || strings.Contains(message, "413")
}

// userFacingError phrases a pipeline failure for the chat, recognising the
// well-known cobalt and download error types.
func userFacingError(err error) string {
	if err == nil {
		return "Something went wrong, but no error was recorded."
	}

	var (
		invalidLink  *cobalt.InvalidLinkError
		unsupported  *cobalt.UnsupportedSiteError
		private      *cobalt.PrivateContentError
		noResult     *cobalt.NoResultError
		accessDenied *fetch.AccessDeniedError
		rateLimited  *fetch.RateLimitedError
		emptyFile    *fetch.EmptyFileError
	)

	switch {
	case errors.As(err, &invalidLink):
		return "That link is invalid or malformed - double-check the URL."
	case errors.As(err, &unsupported):
		return "That website isn't supported by the cobalt instance."
	case errors.As(err, &private):
		return "That content is private or requires authentication, so it can't be downloaded."
	case errors.As(err, &noResult):
		return "Cobalt didn't return any downloadable media for that link."
	case errors.As(err, &accessDenied):
		return "The remote host refused to serve the file (access denied)."
	case errors.As(err, &rateLimited):
		return "The remote host is rate limiting downloads - try again in a minute."
	case errors.As(err, &emptyFile):
		return "The download produced an empty file - the source may have expired."
	default:
		return fmt.Sprintf("Request failed: %v", err)
	}
}
