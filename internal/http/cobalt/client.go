package cobalt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	requestTimeout = time.Second * 30

	// cobalt identifies the filename style it should produce; 'pretty'
	// gives us names that survive the sanitiser with minimal mangling.
	filenameStyle = "pretty"
)

type (
	// Request is translated directly to the JSON body of a cobalt POST.
	// See https://github.com/imputnet/cobalt/blob/main/docs/api.md for
	// information on the cobalt API.
	Request struct {
		URL           string `json:"url"`
		VideoQuality  string `json:"videoQuality,omitempty"`
		AudioFormat   string `json:"audioFormat,omitempty"`
		DownloadMode  string `json:"downloadMode,omitempty"`
		FilenameStyle string `json:"filenameStyle,omitempty"`
	}

	// Resolution is the outcome of asking cobalt to process a URL. For the
	// 'tunnel' and 'redirect' statuses a single file is listed; for 'picker'
	// responses every picker item is listed, plus the background audio track
	// if one was offered.
	Resolution struct {
		Files []RemoteFile
	}

	RemoteFile struct {
		URL      string
		Filename string
		Type     string
	}

	responseBody struct {
		Status   string       `json:"status"`
		URL      string       `json:"url"`
		Filename string       `json:"filename"`
		Audio    string       `json:"audio"`
		AudioFn  string       `json:"audioFilename"`
		Picker   []pickerItem `json:"picker"`
		Error    *errorBody   `json:"error"`
	}

	pickerItem struct {
		URL  string `json:"url"`
		Type string `json:"type"`
	}

	errorBody struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}

	instanceInfo struct {
		Cobalt struct {
			Version       string   `json:"version"`
			Services      []string `json:"services"`
			DurationLimit int      `json:"durationLimit"`
		} `json:"cobalt"`
	}

	// InstanceStatus is a trimmed view of the information a cobalt instance
	// reports about itself on its root endpoint.
	InstanceStatus struct {
		Version       string
		Services      []string
		DurationLimit int
	}

	// client talks to a locally hosted cobalt instance. The instance URL is
	// provided per-call because it is a runtime-mutable setting.
	client struct {
		httpClient *http.Client
		userAgent  string
	}
)

func NewClient(userAgent string) *client {
	return &client{
		httpClient: &http.Client{Timeout: requestTimeout},
		userAgent:  userAgent,
	}
}

// Resolve asks the cobalt instance at instanceURL to process the request. The
// returned Resolution lists every file cobalt offered. Error taxonomy:
//   - InvalidLinkError, UnsupportedSiteError, PrivateContentError for the
//     cobalt error codes they correspond to
//   - FailedRequestError for any other cobalt-reported error or non-OK HTTP status
//   - UnknownRequestError for transport or decoding failures
func (client *client) Resolve(ctx context.Context, instanceURL string, request Request) (*Resolution, error) {
	request.FilenameStyle = filenameStyle

	payload, err := json.Marshal(request)
	if err != nil {
		return nil, &UnknownRequestError{fmt.Sprintf("failed to marshal request: %s", err.Error())}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, instanceURL, bytes.NewReader(payload))
	if err != nil {
		return nil, &UnknownRequestError{fmt.Sprintf("failed to construct request: %s", err.Error())}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", client.userAgent)

	resp, err := client.httpClient.Do(req)
	if err != nil {
		return nil, &UnknownRequestError{fmt.Sprintf("failed to perform POST(%s) to cobalt: %s", instanceURL, err.Error())}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UnknownRequestError{fmt.Sprintf("failed to read response body: %s", err.Error())}
	}

	var body responseBody
	if err := json.Unmarshal(respBody, &body); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, &FailedRequestError{httpCode: resp.StatusCode, message: "non-OK response could not be unmarshalled"}
		}

		return nil, &UnknownRequestError{fmt.Sprintf("response JSON could not be unmarshalled: %s", err.Error())}
	}

	if body.Status == "error" || resp.StatusCode != http.StatusOK {
		return nil, errorFromBody(resp.StatusCode, body.Error)
	}

	return resolutionFromBody(&body)
}

// InstanceStatus fetches the version information the cobalt instance reports
// about itself. Used by the 'status' configuration command.
func (client *client) InstanceStatus(ctx context.Context, instanceURL string) (*InstanceStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, instanceURL, nil)
	if err != nil {
		return nil, &UnknownRequestError{fmt.Sprintf("failed to construct request: %s", err.Error())}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", client.userAgent)

	resp, err := client.httpClient.Do(req)
	if err != nil {
		return nil, &UnknownRequestError{fmt.Sprintf("failed to perform GET(%s) to cobalt: %s", instanceURL, err.Error())}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FailedRequestError{httpCode: resp.StatusCode, message: "instance status request failed"}
	}

	var info instanceInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, &UnknownRequestError{fmt.Sprintf("instance status JSON could not be unmarshalled: %s", err.Error())}
	}

	return &InstanceStatus{
		Version:       info.Cobalt.Version,
		Services:      info.Cobalt.Services,
		DurationLimit: info.Cobalt.DurationLimit,
	}, nil
}

func resolutionFromBody(body *responseBody) (*Resolution, error) {
	switch body.Status {
	case "tunnel", "redirect":
		if body.URL == "" {
			return nil, &UnknownRequestError{"no download URL received from cobalt"}
		}

		filename := body.Filename
		if filename == "" {
			filename = "download"
		}

		return &Resolution{Files: []RemoteFile{{URL: body.URL, Filename: filename, Type: "media"}}}, nil
	case "picker":
		if len(body.Picker) == 0 {
			return nil, &NoResultError{}
		}

		files := make([]RemoteFile, 0, len(body.Picker)+1)
		for idx, item := range body.Picker {
			if item.URL == "" {
				continue
			}

			itemType := item.Type
			if itemType == "" {
				itemType = "unknown"
			}

			files = append(files, RemoteFile{
				URL:      item.URL,
				Filename: pickerFilename(idx+1, itemType, item.URL),
				Type:     itemType,
			})
		}

		if body.Audio != "" {
			filename := body.AudioFn
			if filename == "" {
				filename = "audio"
			}

			files = append(files, RemoteFile{URL: body.Audio, Filename: filename, Type: "audio"})
		}

		if len(files) == 0 {
			return nil, &NoResultError{}
		}

		return &Resolution{Files: files}, nil
	}

	return nil, &UnknownRequestError{fmt.Sprintf("unknown response status '%s'", body.Status)}
}

func pickerFilename(index int, itemType string, itemURL string) string {
	name := fmt.Sprintf("cobalt_%d_%s_%s", index, itemType, baseName(itemURL))
	if hasExtension(name) {
		return name
	}

	switch itemType {
	case "photo":
		return name + ".jpg"
	case "video":
		return name + ".mp4"
	case "gif":
		return name + ".gif"
	}

	return name
}

func baseName(rawURL string) string {
	end := len(rawURL)
	for i, r := range rawURL {
		if r == '?' || r == '#' {
			end = i
			break
		}
	}

	trimmed := rawURL[:end]
	for i := len(trimmed) - 1; i >= 0; i-- {
		if trimmed[i] == '/' {
			return trimmed[i+1:]
		}
	}

	return trimmed
}

func hasExtension(name string) bool {
	for i := len(name) - 1; i >= 0 && name[i] != '/'; i-- {
		if name[i] == '.' {
			return i != len(name)-1
		}
	}

	return false
}
