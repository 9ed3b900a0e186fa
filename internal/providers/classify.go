package providers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/quorumlabs/quorum/internal/fault"
)

// ClassifyHTTP maps transport and HTTP status errors into the fault taxonomy.
// Adapters call this first and then layer provider-specific refinements on
// top (body sniffing for model-not-found and the like).
func ClassifyHTTP(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.Wrap(fault.KindTimeout, err)
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == 401 || se.StatusCode == 403:
			return fault.Wrap(fault.KindAuth, err)
		case se.StatusCode == 404 && mentionsModel(se.Body):
			return fault.Wrap(fault.KindModelNotFound, err)
		case se.StatusCode == 429:
			fe := fault.Wrap(fault.KindRateLimited, err)
			if se.RetryAfterSecs > 0 {
				fe = fe.WithRetryHint(time.Duration(se.RetryAfterSecs) * time.Second)
			}
			return fe
		case se.StatusCode == 529 || se.StatusCode >= 500:
			return fault.Wrap(fault.KindOverloaded, err)
		case se.StatusCode == 408:
			return fault.Wrap(fault.KindTimeout, err)
		}
		return fault.Wrap(fault.KindUnknown, err)
	}

	// net/http wraps deadline errors in *url.Error with a "context deadline
	// exceeded" or "Client.Timeout" message.
	if strings.Contains(err.Error(), "Client.Timeout") || strings.Contains(err.Error(), "deadline exceeded") {
		return fault.Wrap(fault.KindTimeout, err)
	}
	return fault.Wrap(fault.KindUnknown, err)
}

func mentionsModel(body string) bool {
	b := strings.ToLower(body)
	return strings.Contains(b, "model")
}
