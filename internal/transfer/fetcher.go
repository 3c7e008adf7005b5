package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrRangeUnsupported reports a server that answered a range request with
	// the full body.
	ErrRangeUnsupported = errors.New("range requests not supported")
	// ErrRangeNotSatisfiable reports a range that starts past the end of the
	// remote object.
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
)

// Fetcher retrieves bytes of a remote object.
type Fetcher interface {
	// Stat returns the object size (-1 when unknown) and whether byte ranges
	// are served.
	Stat(ctx context.Context, url string) (size int64, ranges bool, err error)
	// FetchRange copies length bytes starting at offset into w. total is the
	// object size the server reported with the range, or -1 when unknown.
	FetchRange(ctx context.Context, url string, offset, length int64, w io.Writer) (n, total int64, err error)
	// FetchAll copies the whole object into w.
	FetchAll(ctx context.Context, url string, w io.Writer) (int64, error)
}

// HTTPFetcher implements Fetcher with plain HTTP range requests.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPFetcher returns a fetcher whose requests time out after timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &HTTPFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: "deeplinker/1.0",
	}
}

// WithClient returns a copy of the fetcher using client.
func (f *HTTPFetcher) WithClient(client *http.Client) *HTTPFetcher {
	clone := *f
	if client != nil {
		clone.client = client
	}
	return &clone
}

func (f *HTTPFetcher) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	return req, nil
}

// Stat issues a HEAD request.
func (f *HTTPFetcher) Stat(ctx context.Context, url string) (int64, bool, error) {
	req, err := f.newRequest(ctx, http.MethodHead, url)
	if err != nil {
		return -1, false, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return -1, false, fmt.Errorf("head %s: %w", url, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 400 {
		return -1, false, fmt.Errorf("head %s: unexpected status %s", url, resp.Status)
	}
	ranges := strings.EqualFold(strings.TrimSpace(resp.Header.Get("Accept-Ranges")), "bytes")
	return resp.ContentLength, ranges, nil
}

// FetchRange issues a ranged GET and requires a 206 response.
func (f *HTTPFetcher) FetchRange(ctx context.Context, url string, offset, length int64, w io.Writer) (int64, int64, error) {
	if length <= 0 {
		return 0, -1, nil
	}
	req, err := f.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return 0, -1, err
	}
	req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-"+strconv.FormatInt(offset+length-1, 10))
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, -1, fmt.Errorf("get range %d+%d: %w", offset, length, err)
	}
	defer resp.Body.Close()

	total := contentRangeTotal(resp.Header.Get("Content-Range"))
	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		return 0, total, ErrRangeUnsupported
	case http.StatusRequestedRangeNotSatisfiable:
		return 0, total, fmt.Errorf("%w: offset %d", ErrRangeNotSatisfiable, offset)
	default:
		return 0, total, fmt.Errorf("get range %d+%d: unexpected status %s", offset, length, resp.Status)
	}
	n, err := io.Copy(w, io.LimitReader(resp.Body, length))
	return n, total, err
}

// contentRangeTotal extracts the complete length from "bytes 0-99/5000" or
// "bytes */5000". It returns -1 for a missing or "*" length.
func contentRangeTotal(header string) int64 {
	_, after, ok := strings.Cut(strings.TrimSpace(header), "/")
	if !ok {
		return -1
	}
	total, err := strconv.ParseInt(strings.TrimSpace(after), 10, 64)
	if err != nil || total < 0 {
		return -1
	}
	return total
}

// FetchAll issues a plain GET.
func (f *HTTPFetcher) FetchAll(ctx context.Context, url string, w io.Writer) (int64, error) {
	req, err := f.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return 0, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("get %s: unexpected status %s", url, resp.Status)
	}
	return io.Copy(w, resp.Body)
}

// IsRemote reports whether ref names an http(s) source rather than a stored
// blob.
func IsRemote(ref string) bool {
	lower := strings.ToLower(strings.TrimSpace(ref))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
