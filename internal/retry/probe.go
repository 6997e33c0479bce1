package retry

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ProbeResult describes what the delivery endpoint answered for a URL.
type ProbeResult struct {
	URL           string `json:"url"`
	StatusCode    int    `json:"status_code"`
	ContentType   string `json:"content_type,omitempty"`
	ContentLength int64  `json:"content_length,omitempty"`
	Available     bool   `json:"available"`
	// Pending is set when the service is still deriving the transformation.
	Pending bool `json:"pending,omitempty"`
}

// Probe checks whether url can be fetched. It sends HEAD and falls back to
// a one byte ranged GET for servers that refuse HEAD.
func (h *Helper) Probe(ctx context.Context, url string) (ProbeResult, error) {
	res, err := h.do(ctx, http.MethodHead, url)
	if err != nil {
		return res, err
	}
	if res.StatusCode == http.StatusMethodNotAllowed || res.StatusCode == http.StatusNotImplemented {
		h.logger.Debug("HEAD refused, probing with ranged GET", zap.String("url", url))
		res, err = h.do(ctx, http.MethodGet, url)
	}
	return res, err
}

func (h *Helper) do(ctx context.Context, method, url string) (ProbeResult, error) {
	res := ProbeResult{URL: url}

	ctx, cancel := context.WithTimeout(ctx, h.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return res, errors.Wrap(err, "error creating probe request")
	}
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return res, errors.Wrapf(err, "error probing %s", url)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	res.StatusCode = resp.StatusCode
	res.ContentType = resp.Header.Get("Content-Type")
	res.ContentLength = resp.ContentLength
	if total := contentRangeTotal(resp.Header.Get("Content-Range")); total > 0 {
		res.ContentLength = total
	}
	// 423 is what the service answers while an eager transformation is
	// still being generated.
	res.Pending = resp.StatusCode == http.StatusLocked
	res.Available = resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent

	h.logger.Debug("Probed delivery url",
		zap.String("method", method),
		zap.String("url", url),
		zap.Int("status", res.StatusCode),
		zap.String("content_type", res.ContentType))

	return res, nil
}

// contentRangeTotal reads the total size from "bytes 0-0/12345".
func contentRangeTotal(header string) int64 {
	for i := len(header) - 1; i >= 0; i-- {
		if header[i] == '/' {
			total, err := strconv.ParseInt(header[i+1:], 10, 64)
			if err != nil {
				return 0
			}
			return total
		}
	}
	return 0
}
