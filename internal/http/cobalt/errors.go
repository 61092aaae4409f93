package cobalt

import "fmt"

// Error codes cobalt reports which we map to dedicated error types so
// user-facing layers can phrase them helpfully.
const (
	codeLinkInvalid     = "error.api.link.invalid"
	codeLinkUnsupported = "error.api.link.unsupported"
	codeLinkPrivate     = "error.api.link.private"
)

type (
	FailedRequestError struct {
		httpCode   int
		cobaltCode string
		message    string
	}

	InvalidLinkError     struct{}
	UnsupportedSiteError struct{}
	PrivateContentError  struct{}
	NoResultError        struct{}
	UnknownRequestError  struct{ reason string }
)

func (err *FailedRequestError) Error() string {
	if err.cobaltCode != "" {
		return fmt.Sprintf("request failure (HTTP %d): %s - %s", err.httpCode, err.cobaltCode, err.message)
	}

	return fmt.Sprintf("request failure (HTTP %d): %s", err.httpCode, err.message)
}

func (err *InvalidLinkError) Error() string {
	return "the URL provided is invalid or not supported by cobalt"
}

func (err *UnsupportedSiteError) Error() string {
	return "this website is not supported by cobalt"
}

func (err *PrivateContentError) Error() string {
	return "this content is private or requires authentication"
}

func (err *NoResultError) Error() string {
	return "no media items found in cobalt response"
}

func (err *UnknownRequestError) Error() string {
	return fmt.Sprintf("unknown error occurred while communicating with cobalt: %s", err.reason)
}

func errorFromBody(httpCode int, body *errorBody) error {
	if body == nil {
		return &FailedRequestError{httpCode: httpCode, message: "no error information provided"}
	}

	switch body.Code {
	case codeLinkInvalid:
		return &InvalidLinkError{}
	case codeLinkUnsupported:
		return &UnsupportedSiteError{}
	case codeLinkPrivate:
		return &PrivateContentError{}
	}

	message := body.Message
	if message == "" {
		message = "no error message provided"
	}

	return &FailedRequestError{httpCode: httpCode, cobaltCode: body.Code, message: message}
}
