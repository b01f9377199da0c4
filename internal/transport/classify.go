package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/ashureev/tripsync/internal/shared"
)

// legacyAlreadyExists is the detail text older backends send with a 400
// instead of a structured code.
const legacyAlreadyExists = "already exists"

// HTTPError wraps non-2xx responses.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "http error"
	}
	if e.Body != "" {
		return fmt.Sprintf("request failed: %s (%d): %s", e.Status, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("request failed: %s (%d)", e.Status, e.StatusCode)
}

// errorBody is the error envelope returned by the backend.
type errorBody struct {
	Code   string          `json:"code"`
	Error  string          `json:"error"`
	Detail json.RawMessage `json:"detail"`
}

func (b errorBody) message() string {
	if len(b.Detail) > 0 {
		var s string
		if err := json.Unmarshal(b.Detail, &s); err == nil {
			return s
		}
		return string(b.Detail)
	}
	return b.Error
}

// classifyResponse maps a failed HTTP response onto the error taxonomy.
func classifyResponse(herr *HTTPError) *shared.Error {
	var body errorBody
	_ = json.Unmarshal([]byte(herr.Body), &body)
	msg := body.message()
	if msg == "" {
		msg = herr.Status
	}

	kind := shared.KindOther
	switch {
	case body.Code == string(shared.KindAlreadyExists):
		kind = shared.KindAlreadyExists
	case body.Code == string(shared.KindPermissionDenied):
		kind = shared.KindPermissionDenied
	case herr.StatusCode == http.StatusForbidden:
		kind = shared.KindPermissionDenied
	case herr.StatusCode == http.StatusConflict:
		kind = shared.KindAlreadyExists
	case herr.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(msg), legacyAlreadyExists):
		kind = shared.KindAlreadyExists
	case herr.StatusCode == http.StatusRequestTimeout,
		herr.StatusCode == http.StatusTooManyRequests,
		herr.StatusCode >= 500:
		kind = shared.KindTransient
	}

	code := body.Code
	if code == "" && herr.StatusCode == http.StatusNotFound {
		code = "not_found"
	}
	return &shared.Error{
		Kind:    kind,
		Code:    code,
		Message: msg,
		Status:  herr.StatusCode,
		Err:     herr,
	}
}

// classifyError converts any error produced while talking to the server.
func classifyError(err error) *shared.Error {
	if err == nil {
		return nil
	}
	var ce *shared.Error
	if errors.As(err, &ce) {
		return ce
	}
	var herr *HTTPError
	if errors.As(err, &herr) {
		return classifyResponse(herr)
	}
	if errors.Is(err, context.Canceled) {
		return &shared.Error{Kind: shared.KindOther, Code: "canceled", Message: "request canceled", Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return shared.Wrap(shared.KindTransient, err, "request timed out")
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return shared.Wrap(shared.KindTransient, err, "network error")
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return shared.Wrap(shared.KindOther, err, "malformed response")
	}
	// Connection resets and refused dials surface as *url.Error wrapping
	// *net.OpError, covered above. Anything else is unexpected.
	return shared.Wrap(shared.KindOther, err, "")
}
