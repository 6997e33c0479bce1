package cloud

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type destroyResponse struct {
	Result string `json:"result"`
}

// Destroy deletes an uploaded video and invalidates its cached derivatives.
func (c *Client) Destroy(ctx context.Context, publicID string) error {
	if publicID == "" {
		return errors.New("public id is required")
	}

	params, err := c.signedParams(map[string]string{
		"public_id":  publicID,
		"invalidate": "true",
	})
	if err != nil {
		return err
	}

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("destroy"), strings.NewReader(form.Encode()))
	if err != nil {
		return errors.WithStack(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return errors.Wrap(err, "destroy request failed")
	}

	var out destroyResponse
	if err := decode(resp, &out); err != nil {
		return err
	}

	switch out.Result {
	case "ok":
		c.logger.Info("Destroyed video", zap.String("public_id", publicID))
		return nil
	case "not found":
		return errors.Wrapf(ErrNotFound, "public id %s", publicID)
	default:
		return errors.Errorf("unexpected destroy result %q for %s", out.Result, publicID)
	}
}
