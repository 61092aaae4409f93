// Client for the litterbox.catbox.moe temporary file host. Grabbit falls
// back to litterbox whenever an output file exceeds the configured chat
// attachment limit; the host keeps the file for a caller-chosen expiry
// window and returns a shareable URL.
package litterbox

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	uploadEndpoint = "https://litterbox.catbox.moe/resources/internals/api.php"
	uploadTimeout  = time.Minute * 5
)

// ValidExpiries enumerates the expiry windows litterbox accepts.
var ValidExpiries = []string{"1h", "12h", "24h", "72h"}

type (
	UploadFailedError struct {
		httpCode int
		response string
	}

	client struct {
		httpClient *http.Client
		endpoint   string
	}
)

func (err *UploadFailedError) Error() string {
	if err.httpCode != 0 {
		return fmt.Sprintf("litterbox upload failed: HTTP %d", err.httpCode)
	}

	return fmt.Sprintf("invalid response from litterbox: %s", err.response)
}

func NewClient() *client {
	return &client{
		httpClient: &http.Client{Timeout: uploadTimeout},
		endpoint:   uploadEndpoint,
	}
}

// NewClientWithEndpoint exists for tests which point the client at a stub server.
func NewClientWithEndpoint(endpoint string) *client {
	client := NewClient()
	client.endpoint = endpoint
	return client
}

// NormalizeExpiry maps shorthand expiry values on to the form litterbox
// expects: a bare hour count such as "24" becomes "24h". Values that are
// not purely numeric are returned untouched.
func NormalizeExpiry(expiry string) string {
	if expiry == "" {
		return expiry
	}

	for _, r := range expiry {
		if r < '0' || r > '9' {
			return expiry
		}
	}

	return expiry + "h"
}

// IsValidExpiry reports whether the provided expiry window is one
// litterbox will accept.
func IsValidExpiry(expiry string) bool {
	for _, valid := range ValidExpiries {
		if expiry == valid {
			return true
		}
	}

	return false
}

// Upload streams the file at path to litterbox with the provided expiry
// (one of ValidExpiries) and returns the shareable URL.
func (client *client) Upload(ctx context.Context, path string, expiry string) (string, error) {
	if !IsValidExpiry(expiry) {
		return "", fmt.Errorf("illegal expiry '%s': must be one of %s", expiry, strings.Join(ValidExpiries, ", "))
	}

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for upload: %w", err)
	}
	defer file.Close()

	// The multipart body is piped rather than buffered; output files can be
	// well past the limit that triggered this fallback in the first place.
	bodyReader, bodyWriter := io.Pipe()
	form := multipart.NewWriter(bodyWriter)

	go func() {
		defer bodyWriter.Close()

		if err := form.WriteField("reqtype", "fileupload"); err != nil {
			bodyWriter.CloseWithError(err)
			return
		}
		if err := form.WriteField("time", expiry); err != nil {
			bodyWriter.CloseWithError(err)
			return
		}

		part, err := form.CreateFormFile("fileToUpload", filepath.Base(path))
		if err != nil {
			bodyWriter.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			bodyWriter.CloseWithError(err)
			return
		}

		bodyWriter.CloseWithError(form.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, client.endpoint, bodyReader)
	if err != nil {
		return "", fmt.Errorf("failed to construct upload request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := client.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload to litterbox: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &UploadFailedError{httpCode: resp.StatusCode}
	}

	rawURL, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read litterbox response: %w", err)
	}

	sharedURL := strings.TrimSpace(string(rawURL))
	if !strings.HasPrefix(sharedURL, "https://") {
		return "", &UploadFailedError{response: sharedURL}
	}

	return sharedURL, nil
}
