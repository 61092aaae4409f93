package telegram

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"grabbit/internal/fetch"
	"grabbit/internal/http/cobalt"
	"grabbit/internal/job"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
)

func Test_SplitCommand_StripsSlashAndBotName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		summary      string
		text         string
		expectedCmd  string
		expectedArgs string
	}{
		{"bare command", "/c", "c", ""},
		{"command with args", "/c https://example.com/v -720p", "c", "https://example.com/v -720p"},
		{"bot name suffix", "/cg@GrabbitBot https://example.com/v", "cg", "https://example.com/v"},
		{"mixed case", "/V2G@grabbitbot", "v2g", ""},
		{"trailing whitespace args", "/v2mp3   -time=1-3  ", "v2mp3", "-time=1-3"},
	}

	for _, test := range tests {
		test := test
		t.Run(test.summary, func(t *testing.T) {
			t.Parallel()

			command, args := splitCommand(test.text, "GrabbitBot")
			assert.Equal(t, test.expectedCmd, command)
			assert.Equal(t, test.expectedArgs, args)
		})
	}
}

func Test_IsTwitterURL_MatchesKnownHosts(t *testing.T) {
	t.Parallel()

	assert.True(t, isTwitterURL("https://twitter.com/user/status/123"))
	assert.True(t, isTwitterURL("https://www.twitter.com/user/status/123"))
	assert.True(t, isTwitterURL("https://x.com/user/status/123"))
	assert.True(t, isTwitterURL("https://WWW.X.com/user/status/123"))

	assert.False(t, isTwitterURL("https://example.com/x.com"))
	assert.False(t, isTwitterURL("https://notx.com/video"))
	assert.False(t, isTwitterURL("not a url at all"))
}

func Test_IsDirectVideoURL_RequiresVideoExtension(t *testing.T) {
	t.Parallel()

	assert.True(t, isDirectVideoURL("https://cdn.example.com/media/clip.mp4"))
	assert.True(t, isDirectVideoURL("https://cdn.example.com/CLIP.WEBM"))
	assert.True(t, isDirectVideoURL("https://cdn.example.com/clip.mov?token=abc"))

	assert.False(t, isDirectVideoURL("https://youtube.com/watch?v=abc"))
	assert.False(t, isDirectVideoURL("https://cdn.example.com/song.mp3"))
	assert.False(t, isDirectVideoURL("clip.mp4"))
}

func Test_URLBasename_StripsPathAndQuery(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "clip.mp4", urlBasename("https://cdn.example.com/media/clip.mp4"))
	assert.Equal(t, "clip.mp4", urlBasename("https://cdn.example.com/clip.mp4?token=abc"))
	assert.Equal(t, "", urlBasename("https://cdn.example.com/"))
}

func Test_VideoFromMessage_RecognisesVideoAttachments(t *testing.T) {
	t.Parallel()

	video := videoFromMessage(&tgbotapi.Message{Video: &tgbotapi.Video{FileID: "vid-1", FileName: "holiday.mp4"}})
	assert.Equal(t, &videoRef{fileID: "vid-1", filename: "holiday.mp4"}, video)

	animation := videoFromMessage(&tgbotapi.Message{Animation: &tgbotapi.Animation{FileID: "anim-1"}})
	assert.Equal(t, &videoRef{fileID: "anim-1", filename: "input_video.mp4"}, animation)

	document := videoFromMessage(&tgbotapi.Message{Document: &tgbotapi.Document{
		FileID: "doc-1", FileName: "clip.mkv", MimeType: "video/x-matroska",
	}})
	assert.Equal(t, &videoRef{fileID: "doc-1", filename: "clip.mkv"}, document)

	assert.Nil(t, videoFromMessage(&tgbotapi.Message{Document: &tgbotapi.Document{
		FileID: "doc-2", FileName: "notes.pdf", MimeType: "application/pdf",
	}}))
	assert.Nil(t, videoFromMessage(&tgbotapi.Message{Text: "just text"}))
}

func Test_StatusText_CoversInProgressStages(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Queued...", statusText(job.Queued))
	assert.Equal(t, "Downloading media...", statusText(job.Downloading))
	assert.Equal(t, "Converting...", statusText(job.Converting))
	assert.Equal(t, "Optimizing GIF...", statusText(job.Optimizing))
	assert.Contains(t, statusText(job.Uploading), "litterbox")

	// Terminal states are handled by the delivery path, not the ticker
	assert.Empty(t, statusText(job.Complete))
	assert.Empty(t, statusText(job.Failed))
}

func Test_UserFacingError_TranslatesKnownFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		summary  string
		err      error
		expected string
	}{
		{"invalid link", &cobalt.InvalidLinkError{}, "invalid or malformed"},
		{"unsupported site", &cobalt.UnsupportedSiteError{}, "isn't supported"},
		{"private content", &cobalt.PrivateContentError{}, "private or requires authentication"},
		{"no result", &cobalt.NoResultError{}, "any downloadable media"},
		{"access denied", &fetch.AccessDeniedError{}, "access denied"},
		{"rate limited", &fetch.RateLimitedError{}, "rate limiting"},
		{"empty file", &fetch.EmptyFileError{}, "empty file"},
		{"wrapped", fmt.Errorf("resolving: %w", &cobalt.UnsupportedSiteError{}), "isn't supported"},
		{"unknown", errors.New("disk on fire"), "Request failed: disk on fire"},
	}

	for _, test := range tests {
		test := test
		t.Run(test.summary, func(t *testing.T) {
			t.Parallel()

			assert.Contains(t, userFacingError(test.err), test.expected)
		})
	}

	assert.NotEmpty(t, userFacingError(nil))
}

func Test_IsTooLargeError_MatchesTelegramRejections(t *testing.T) {
	t.Parallel()

	assert.True(t, isTooLargeError(errors.New("Request Entity Too Large")))
	assert.True(t, isTooLargeError(errors.New("telegram: 413 request entity too large")))
	assert.False(t, isTooLargeError(errors.New("bad gateway")))
}

func Test_SharedLinkText_IncludesURLAndExpiry(t *testing.T) {
	t.Parallel()

	text := sharedLinkText(job.Delivery{SharedURL: "https://litter.catbox.moe/abc.gif", Expiry: "24h"})
	assert.Contains(t, text, "https://litter.catbox.moe/abc.gif")
	assert.Contains(t, text, "24h")
}

func Test_ShutdownError_NilOnCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Nil(t, shutdownError(ctx))

	assert.Error(t, shutdownError(context.Background()))
}
