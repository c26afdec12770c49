package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/kavanga/importdesk/internal/pkg/ctxlog"
)

// ErrorMapping pairs a sentinel error with the HTTP response it produces.
type ErrorMapping struct {
	Error   error
	Status  int
	Message string // empty uses the error's own message
}

// HandleError writes the mapped response for a known error. Anything not
// covered by the mappings is logged and answered with a bare 500; domain
// error text never leaks to the client by accident.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	for _, mapping := range mappings {
		if !errors.Is(err, mapping.Error) {
			continue
		}
		message := mapping.Message
		if message == "" {
			message = err.Error()
		}
		Error(w, mapping.Status, message)
		return
	}

	ctxlog.FromContext(ctx).Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}
