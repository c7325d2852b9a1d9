package tool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"rand-agent/internal/domain"
)

// maxFetchBodySize caps how much of a remote reply a tool reads.
const maxFetchBodySize = 2 << 20

// fetch issues a GET and returns the body of a 200 reply. Connection
// failures come back as *domain.TransportError and other statuses as a
// classified *domain.ProviderError whose message is errMsg(body), or the
// trimmed body when errMsg is nil.
func fetch(ctx context.Context, client *http.Client, rawURL, accept string, errMsg func([]byte) string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", "rand-agent")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &domain.TransportError{Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBodySize))
	if err != nil {
		return nil, &domain.TransportError{Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if errMsg != nil {
			msg = errMsg(body)
		}
		return nil, statusError(resp.StatusCode, msg)
	}
	return body, nil
}

func statusError(code int, msg string) error {
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	if msg == "" {
		msg = http.StatusText(code)
	}
	perr := &domain.ProviderError{StatusCode: code, Message: msg}
	switch {
	case code == http.StatusTooManyRequests:
		perr.Err = domain.ErrRateLimit
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		perr.Err = domain.ErrAuthInvalid
	case code >= 500:
		perr.Err = domain.ErrServerError
	}
	return perr
}
