package completion

import (
	"errors"
	"strings"

	"github.com/Hjgyhfyh/site/internal/statement"
)

// overflowMarkers are substrings of endpoint error text that suggest the
// prompt was too large.
var overflowMarkers = []string{"token", "context", "too long", "exceed", "max"}

// IsContextOverflow reports whether err looks like the endpoint rejected the
// prompt for its size. Only errors reported by the endpoint itself are
// inspected; local timeouts and cancellation never qualify.
func IsContextOverflow(err error) bool {
	var text string
	var upstreamErr *statement.UpstreamError
	var pollErr *statement.PollError
	switch {
	case errors.As(err, &upstreamErr):
		text = upstreamErr.Body
	case errors.As(err, &pollErr):
		text = pollErr.Body
	default:
		return false
	}
	text = strings.ToLower(text)
	for _, marker := range overflowMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
