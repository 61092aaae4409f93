package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"grabbit/pkg/logger"
)

var log = logger.Get("Fetch")

const downloadTimeout = time.Minute * 5

// Browser-like User-Agent; several media CDNs refuse requests that
// identify themselves as a bot or a bare Go http client.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

var (
	invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	filenameWhitespace   = regexp.MustCompile(`\s+`)
	urlPattern           = regexp.MustCompile(`(?i)^https?://(?:(?:[A-Z0-9](?:[A-Z0-9-]{0,61}[A-Z0-9])?\.)+[A-Z]{2,6}\.?|localhost|\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})(?::\d+)?(?:/?|[/?]\S+)$`)
)

type (
	AccessDeniedError struct{ url string }
	RateLimitedError  struct{}
	EmptyFileError    struct{ path string }

	FailedRequestError struct {
		httpCode int
		url      string
	}

	Downloader struct {
		httpClient *http.Client
		userAgent  string
	}
)

func (err *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied (403) when downloading %s", err.url)
}

func (err *RateLimitedError) Error() string {
	return "too many requests (429); the remote host is rate limiting us"
}

func (err *EmptyFileError) Error() string {
	return fmt.Sprintf("downloaded file %s is 0 bytes", err.path)
}

func (err *FailedRequestError) Error() string {
	return fmt.Sprintf("failed to download file (HTTP %d) from %s", err.httpCode, err.url)
}

func NewDownloader(userAgent string) *Downloader {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &Downloader{
		httpClient: &http.Client{Timeout: downloadTimeout},
		userAgent:  userAgent,
	}
}

// IsValidURL performs a cheap syntactic check on the URL before it is
// handed to cobalt or fetched directly. Only http/https schemes with a
// plausible host component pass.
func IsValidURL(rawURL string) bool {
	return rawURL != "" && urlPattern.MatchString(rawURL)
}

// SanitizeFilename returns a filesystem-safe version of the provided
// filename: directory components, query strings and fragments are dropped,
// and characters which are invalid on common platforms are replaced.
func SanitizeFilename(filename string) string {
	base := filepath.Base(filename)
	for i, r := range base {
		if r == '?' || r == '#' {
			base = base[:i]
			break
		}
	}

	base = invalidFilenameChars.ReplaceAllString(base, "_")
	base = filenameWhitespace.ReplaceAllString(base, "_")
	return base
}

// Download fetches the file at rawURL into destDir, returning the path of
// the saved file. A Range header is sent on the first attempt as some CDNs
// only serve media to ranged requests; on a 403 the request is retried once
// without it. The referer, when non-empty, is forwarded since picker hosts
// often validate it.
func (downloader *Downloader) Download(ctx context.Context, rawURL string, filename string, referer string, destDir string) (string, error) {
	filePath := filepath.Join(destDir, SanitizeFilename(filename))
	log.Emit(logger.DEBUG, "Downloading %s -> %s\n", rawURL, filePath)

	withRange := true
	for attempt := 0; attempt < 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return "", fmt.Errorf("failed to construct download request: %w", err)
		}

		req.Header.Set("User-Agent", downloader.userAgent)
		req.Header.Set("Accept", "*/*")
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
		if withRange {
			req.Header.Set("Range", "bytes=0-")
		}
		if referer != "" {
			req.Header.Set("Referer", referer)
		}

		resp, err := downloader.httpClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("network error during download: %w", err)
		}

		switch resp.StatusCode {
		case http.StatusOK, http.StatusPartialContent:
			written, err := writeBodyToFile(filePath, resp.Body)
			resp.Body.Close()
			if err != nil {
				return "", err
			}

			log.Emit(logger.SUCCESS, "Download complete (%.2fMB) -> %s\n", float64(written)/1024/1024, filePath)
			return filePath, nil
		case http.StatusForbidden:
			resp.Body.Close()
			if withRange {
				log.Emit(logger.WARNING, "HTTP 403 received, retrying without Range header\n")
				withRange = false
				continue
			}

			return "", &AccessDeniedError{url: rawURL}
		case http.StatusTooManyRequests:
			resp.Body.Close()
			return "", &RateLimitedError{}
		default:
			resp.Body.Close()
			return "", &FailedRequestError{httpCode: resp.StatusCode, url: rawURL}
		}
	}

	return "", &AccessDeniedError{url: rawURL}
}

func writeBodyToFile(filePath string, body io.Reader) (int64, error) {
	file, err := os.Create(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to create download file: %w", err)
	}
	defer file.Close()

	written, err := io.Copy(file, body)
	if err != nil {
		return 0, fmt.Errorf("failed to write download to disk: %w", err)
	}

	if written == 0 {
		os.Remove(filePath)
		return 0, &EmptyFileError{path: filePath}
	}

	return written, nil
}
