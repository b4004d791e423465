package google

import (
	"context"
	"errors"
	"net/http"

	"github.com/opsdesk/opsdesk/internal/capability"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// classify maps a Google API failure onto a capability error kind.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	kind := capability.KindUnavailable

	var apiErr *googleapi.Error
	var authErr *oauth2.RetrieveError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = capability.KindTimeout
	case errors.As(err, &authErr):
		kind = capability.KindUnavailable
	case errors.As(err, &apiErr):
		switch apiErr.Code {
		case http.StatusNotFound, http.StatusGone:
			kind = capability.KindNotFound
		case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
			kind = capability.KindInvalidInput
		}
	}

	return capability.NewError(kind, op, err)
}
