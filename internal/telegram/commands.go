package telegram

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"grabbit/internal/fetch"
	"grabbit/internal/media"
	"grabbit/internal/settings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const usageText = `Commands:
  c <url> [flags]      download media via cobalt
  cg <url> [flags]     download and convert to GIF
  v2g [url] [flags]    convert a direct video link or replied-to video to GIF
  v2mp3 [url | reply]  extract MP3 audio

Download flags: -<height>p -max -audio -mute -wav -ogg -opus -best
GIF flags: -fps=N -scale=W:-1 -time=A-B -speed=X -loop=N -dither=MODE -colors=N -optimize

Configuration (usable with any command):
  c url <instance-url>   set the cobalt instance
  c path <directory>     set the download directory
  c debug                toggle debug logging
  c persistent           toggle keeping files after delivery
  c lb <1h|12h|24h|72h>  set the litterbox expiry
  c limit <mb>           set the attachment size threshold
  c status               check cobalt/ffmpeg/gifsicle health`

// handleCobalt serves both the plain download command and the settings
// subcommands which share its prefix.
func (gateway *Gateway) handleCobalt(ctx context.Context, message *tgbotapi.Message, args string) {
	if strings.TrimSpace(args) == "" {
		gateway.sendText(message.Chat.ID, usageText)
		return
	}

	if gateway.handleConfigSubcommand(ctx, message, args) {
		return
	}

	gateway.queueDownload(message, args)
}

// handleConfigSubcommand dispatches the configuration surface shared by
// all commands. Returns false when the arguments are not a configuration
// subcommand and should be treated as a media request instead.
func (gateway *Gateway) handleConfigSubcommand(ctx context.Context, message *tgbotapi.Message, args string) bool {
	chatID := message.Chat.ID
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return false
	}

	switch strings.ToLower(fields[0]) {
	case "url":
		gateway.setSetting(chatID, settings.KeyCobaltURL, fields[1:], "Cobalt instance set to %s")
	case "path":
		gateway.setSetting(chatID, settings.KeyDownloadPath, fields[1:], "Download path set to %s")
	case "lb":
		gateway.setSetting(chatID, settings.KeyLitterboxExpiry, fields[1:], "Litterbox expiry set to %s")
	case "limit":
		gateway.setSetting(chatID, settings.KeyLimitMB, fields[1:], "Size threshold set to %s MB")
	case "debug":
		gateway.toggleSetting(chatID, settings.KeyDebug, "Debug logging")
	case "persistent":
		gateway.toggleSetting(chatID, settings.KeyPersistent, "Persistent file storage")
	case "status":
		gateway.handleStatus(ctx, chatID)
	case "help":
		gateway.sendText(chatID, usageText)
	default:
		return false
	}

	return true
}

func (gateway *Gateway) setSetting(chatID int64, key string, valueFields []string, confirmation string) {
	if len(valueFields) == 0 {
		gateway.sendText(chatID, fmt.Sprintf("A value is required for '%s'.", key))
		return
	}

	value := strings.Join(valueFields, " ")
	if err := gateway.settings.SetSetting(key, value); err != nil {
		gateway.sendText(chatID, fmt.Sprintf("Could not update %s: %v", key, err))
		return
	}

	gateway.sendText(chatID, fmt.Sprintf(confirmation, value))
}

func (gateway *Gateway) toggleSetting(chatID int64, key string, label string) {
	enabled, err := gateway.settings.ToggleSetting(key)
	if err != nil {
		gateway.sendText(chatID, fmt.Sprintf("Could not toggle %s: %v", key, err))
		return
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}

	gateway.sendText(chatID, fmt.Sprintf("%s %s.", label, state))
}

func (gateway *Gateway) handleStatus(ctx context.Context, chatID int64) {
	report, err := gateway.status.Report(ctx)
	if err != nil {
		gateway.sendText(chatID, fmt.Sprintf("Status check failed: %v", err))
		return
	}

	var builder strings.Builder
	if report.Cobalt.Reachable {
		fmt.Fprintf(&builder, "Cobalt: OK (v%s at %s)\n", report.Cobalt.Version, report.Cobalt.URL)
	} else {
		fmt.Fprintf(&builder, "Cobalt: UNREACHABLE at %s (%s)\n", report.Cobalt.URL, report.Cobalt.Error)
	}

	if report.Ffmpeg.Available {
		fmt.Fprintf(&builder, "ffmpeg: OK (%s)\n", report.Ffmpeg.Version)
	} else {
		fmt.Fprintf(&builder, "ffmpeg: MISSING (%s)\n", report.Ffmpeg.Error)
	}

	if report.Gifsicle.Available {
		fmt.Fprintf(&builder, "gifsicle: OK (%s)\n", report.Gifsicle.Version)
	} else {
		fmt.Fprintf(&builder, "gifsicle: MISSING (%s)\n", report.Gifsicle.Error)
	}

	pathState := "missing"
	switch {
	case report.DownloadPath.Writable:
		pathState = "OK"
	case report.DownloadPath.Exists:
		pathState = "not writable"
	}

	fmt.Fprintf(&builder, "\nDownload path: %s (%s)\n", report.DownloadPath.Path, pathState)
	fmt.Fprintf(&builder, "Size threshold: %gMB\n", report.Settings.LimitMB)
	fmt.Fprintf(&builder, "Litterbox expiry: %s\n", report.Settings.LitterboxExpiry)
	fmt.Fprintf(&builder, "Debug: %t | Persistent: %t\n", report.Settings.Debug, report.Settings.Persistent)
	fmt.Fprintf(&builder, "GIF defaults: %dfps, scale %s, %d colors, dither %s",
		media.DefaultFPS, media.DefaultScale, media.DefaultColors, media.DefaultDither)

	gateway.sendText(chatID, builder.String())
}

func (gateway *Gateway) queueDownload(message *tgbotapi.Message, args string) {
	chatID := message.Chat.ID
	params := media.ParseDownloadArgs(args)
	if !fetch.IsValidURL(params.URL) {
		gateway.sendText(chatID, "That doesn't look like a valid URL.")
		return
	}

	queued, err := gateway.jobs.QueueDownload(params.URL, params, chatID)
	if err != nil {
		gateway.sendText(chatID, fmt.Sprintf("Could not queue download: %v", err))
		return
	}

	gateway.trackJob(queued, "Queued download...")
}

func (gateway *Gateway) handleGif(message *tgbotapi.Message, args string) {
	chatID := message.Chat.ID
	params := media.ParseGifArgs(args)
	if !fetch.IsValidURL(params.URL) {
		gateway.sendText(chatID, "That doesn't look like a valid URL.")
		return
	}

	queued, err := gateway.jobs.QueueGif(params.URL, "", params, chatID, false)
	if err != nil {
		gateway.sendText(chatID, fmt.Sprintf("Could not queue GIF conversion: %v", err))
		return
	}

	gateway.trackJob(queued, "Queued GIF conversion...")
}

// handleVideoToGif converts a video into a GIF without going through
// cobalt: from a direct video URL, the replied-to message, or failing
// that the most recent video seen in this chat. Platform links should go
// through cg instead.
func (gateway *Gateway) handleVideoToGif(message *tgbotapi.Message, args string) {
	chatID := message.Chat.ID
	params := media.ParseGifArgs(args)

	if params.URL != "" {
		switch {
		case isTwitterURL(params.URL):
			gateway.sendText(chatID, "Twitter/X links can't be fetched directly - use cg instead.")
		case isDirectVideoURL(params.URL):
			gateway.queueDirectGif(chatID, params.URL, videoFilename(urlBasename(params.URL)), params)
		default:
			gateway.sendText(chatID, "v2g needs a direct video link or attachment; use cg for platform links.")
		}
		return
	}

	ref := gateway.resolveVideo(message)
	if ref == nil {
		gateway.sendText(chatID, "Reply to a video message (or post one first) to convert it.")
		return
	}

	fileURL, err := gateway.bot.GetFileDirectURL(ref.fileID)
	if err != nil {
		gateway.sendText(chatID, fmt.Sprintf("Could not fetch the video attachment: %v", err))
		return
	}

	gateway.queueDirectGif(chatID, fileURL, ref.filename, params)
}

func (gateway *Gateway) queueDirectGif(chatID int64, source string, filename string, params *media.GifParams) {
	queued, err := gateway.jobs.QueueGif(source, filename, params, chatID, true)
	if err != nil {
		gateway.sendText(chatID, fmt.Sprintf("Could not queue GIF conversion: %v", err))
		return
	}

	gateway.trackJob(queued, "Queued GIF conversion...")
}

// handleVideoToAudio extracts an MP3: from a URL via cobalt's audio mode,
// or from a video attachment via local ffmpeg extraction.
func (gateway *Gateway) handleVideoToAudio(message *tgbotapi.Message, args string) {
	chatID := message.Chat.ID
	params := media.ParseGifArgs(args)

	if params.URL != "" {
		if !fetch.IsValidURL(params.URL) {
			gateway.sendText(chatID, "That doesn't look like a valid URL.")
			return
		}

		queued, err := gateway.jobs.QueueAudio(params.URL, "", params.Clip, chatID, false)
		if err != nil {
			gateway.sendText(chatID, fmt.Sprintf("Could not queue audio extraction: %v", err))
			return
		}

		gateway.trackJob(queued, "Queued audio download...")
		return
	}

	ref := gateway.resolveVideo(message)
	if ref == nil {
		gateway.sendText(chatID, "Reply to a video message (or post one first) to extract its audio.")
		return
	}

	fileURL, err := gateway.bot.GetFileDirectURL(ref.fileID)
	if err != nil {
		gateway.sendText(chatID, fmt.Sprintf("Could not fetch the video attachment: %v", err))
		return
	}

	queued, err := gateway.jobs.QueueAudio(fileURL, ref.filename, params.Clip, chatID, true)
	if err != nil {
		gateway.sendText(chatID, fmt.Sprintf("Could not queue audio extraction: %v", err))
		return
	}

	gateway.trackJob(queued, "Queued audio extraction...")
}

// resolveVideo finds the video a command should act on: the replied-to
// message takes priority, then the most recent video seen in the chat.
func (gateway *Gateway) resolveVideo(message *tgbotapi.Message) *videoRef {
	if message.ReplyToMessage != nil {
		if ref := videoFromMessage(message.ReplyToMessage); ref != nil {
			return ref
		}
	}

	ref, _ := gateway.recentVideos.Load(message.Chat.ID)
	return ref
}

func isTwitterURL(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	return host == "twitter.com" || host == "x.com"
}

var directVideoExtensions = []string{".mp4", ".mov", ".avi", ".mkv", ".webm"}

// isDirectVideoURL reports whether the URL points straight at a video
// file, making it fetchable without cobalt's help.
func isDirectVideoURL(rawURL string) bool {
	if !fetch.IsValidURL(rawURL) {
		return false
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	path := strings.ToLower(parsed.Path)
	for _, extension := range directVideoExtensions {
		if strings.HasSuffix(path, extension) {
			return true
		}
	}

	return false
}

// urlBasename extracts the final path segment of a URL for use as the
// local filename, ignoring any query string.
func urlBasename(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	return segments[len(segments)-1]
}
