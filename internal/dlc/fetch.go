package dlc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/chaz8081/gofluff/internal/ble/protocol"
)

// IsURL reports whether src names an http(s) resource rather than a file.
func IsURL(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

// Fetch downloads a DLC file. The filename is the last element of the URL
// path. Bodies larger than the announce size field can express are
// rejected without reading further. progress, if non-nil, is called as
// bytes arrive with the received count and the advertised length (or -1).
func Fetch(ctx context.Context, client *http.Client, rawURL string, progress func(received, total int64)) ([]byte, string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("dlc: parse url: %w", err)
	}
	filename := path.Base(u.Path)
	if filename == "." || filename == "/" {
		return nil, "", fmt.Errorf("%w: url %q has no file name", ErrInvalidUpload, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("dlc: fetch: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("dlc: fetch %s: %w", filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("dlc: fetch %s: HTTP %d", filename, resp.StatusCode)
	}
	if resp.ContentLength > protocol.MaxDLCSize {
		return nil, "", fmt.Errorf("%w: %s is %d bytes", ErrInvalidUpload, filename, resp.ContentLength)
	}

	pr := &progressReader{r: io.LimitReader(resp.Body, protocol.MaxDLCSize+1), total: resp.ContentLength, fn: progress}
	data, err := io.ReadAll(pr)
	if err != nil {
		return nil, "", fmt.Errorf("dlc: fetch %s: %w", filename, err)
	}
	if len(data) > protocol.MaxDLCSize {
		return nil, "", fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidUpload, filename, protocol.MaxDLCSize)
	}
	return data, filename, nil
}

// progressReader reports bytes read through it.
type progressReader struct {
	r     io.Reader
	total int64
	read  int64
	fn    func(received, total int64)
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	pr.read += int64(n)
	if pr.fn != nil && (n > 0 || errors.Is(err, io.EOF)) {
		pr.fn(pr.read, pr.total)
	}
	return n, err
}
