package api

import (
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/staybook/staybook-cli/internal/output"
)

// Messages carried by suppressed rejections.
const (
	msgSessionExpired = "Your session has expired. Please log in again."
	msgDebounced      = "Session is already being invalidated."
	msgNotSignedIn    = "You are not signed in."
	msgForbidden      = "You do not have permission to access this resource."
)

// classifyStatus maps a completed non-2xx response to its classification.
// locked reports whether an invalidation is already in progress.
func classifyStatus(ep Endpoint, status int, locked bool) output.Kind {
	switch {
	case status == http.StatusUnauthorized && ep.IsAuthAction:
		return output.KindAuthAction401
	case status == http.StatusUnauthorized && locked:
		return output.KindDebounced401
	case status == http.StatusUnauthorized && ep.IsSessionCheck:
		return output.KindSessionCheck401
	case status == http.StatusUnauthorized:
		return output.KindGeneric401
	case status == http.StatusForbidden && ep.IsAuthAction:
		return output.KindAuthAction403
	case status == http.StatusForbidden:
		return output.KindGeneric403
	case status == http.StatusNotFound:
		return output.KindNotFound
	default:
		return output.KindUnclassified
	}
}

// isSuccess reports whether status is 2xx.
func isSuccess(status int) bool {
	return status >= 200 && status <= 299
}

// serverError builds the untouched rejection for a response the pipeline
// does not handle itself: the server's own message, status and body.
func serverError(kind output.Kind, status int, body []byte) *output.Error {
	msg := serverMessage(body)
	if msg == "" {
		msg = fmt.Sprintf("Request failed (HTTP %d)", status)
	}
	return &output.Error{
		Code:       output.CodeForStatus(status),
		Message:    msg,
		HTTPStatus: status,
		Retryable:  status == http.StatusTooManyRequests || status >= 500,
		Kind:       kind,
		Body:       body,
	}
}

// serverMessage extracts the human-readable message from an error body.
func serverMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	return firstString(body, "message", "error.message", "error", "msg", "errors.0.msg", "errors.0.message")
}
