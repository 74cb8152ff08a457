package advantageair

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Controller paths.
const (
	pathGetSystemData = "getSystemData"
	pathGetZoneData   = "getZoneData?zone=*"
	pathLogin         = "login?password=password"
	pathSetSystemData = "setSystemData"
	pathSetZoneData   = "setZoneData"
)

// maxBodySize caps how much of a controller response is read.
const maxBodySize = 4 << 20

// transport issues GET requests against one controller. The query string is
// passed through untouched because legacy firmware expects zone=* literally.
type transport struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

func newTransport(host string, port int, client *http.Client, timeout time.Duration) *transport {
	if client == nil {
		client = &http.Client{}
	}
	return &transport{
		baseURL: "http://" + net.JoinHostPort(host, strconv.Itoa(port)),
		client:  client,
		timeout: timeout,
	}
}

// get requests /{pathAndQuery} and returns the body of a 200 response.
func (t *transport) get(ctx context.Context, pathAndQuery string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, t.baseURL+"/"+pathAndQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrProtocol, err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, classify(err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrProtocol, requestPath(pathAndQuery), resp.StatusCode)
	}

	return body, nil
}

// classify wraps a client error in ErrTimeout or ErrTransport, keeping the
// cause in the chain.
func classify(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

// isRecoverable reports whether a write may be retried in place: the
// connection was reset or the controller hung up without answering.
func isRecoverable(err error) bool {
	if !errors.Is(err, ErrTransport) {
		return false
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// requestPath strips the query string for log and error messages.
func requestPath(pathAndQuery string) string {
	path, _, _ := strings.Cut(pathAndQuery, "?")
	return path
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
