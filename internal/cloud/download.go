package cloud

import (
	"context"
	"io"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Download streams the resource at url into w and returns the byte count.
// Progress totals are -1 when the server does not send a length.
func (c *Client) Download(ctx context.Context, url string, w io.Writer, progress func(sent, total int64)) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, errors.WithStack(err)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "download request failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return 0, errors.Wrapf(ErrNotFound, "download %s", url)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return 0, errors.WithStack(&APIError{StatusCode: resp.StatusCode, Message: resp.Header.Get("X-Cld-Error")})
	}

	body := &progressReader{r: resp.Body, total: resp.ContentLength, fn: progress}
	n, err := io.Copy(w, body)
	if err != nil {
		return n, errors.Wrap(err, "download interrupted")
	}

	c.logger.Info("Downloaded video",
		zap.String("url", url),
		zap.String("size", humanize.Bytes(uint64(n))))
	return n, nil
}
