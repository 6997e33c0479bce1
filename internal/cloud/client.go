package cloud

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ZacxDev/video-editor/internal/config"
	"github.com/ZacxDev/video-editor/internal/ffmpeg"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	// ErrFileTooLarge is returned before any bytes are sent.
	ErrFileTooLarge = errors.New("file too large")
	// ErrUnsupportedType is returned when the content is not an accepted video type.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrNotFound is returned when the remote asset or resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrMissingCredentials is returned when a signed call has no key or secret.
	ErrMissingCredentials = errors.New("missing api credentials")
)

// APIError is a non-2xx answer from the media API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("media api returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to the hosted media API's REST endpoints.
type Client struct {
	CloudName       string
	APIKey          string
	APISecret       string
	UploadPreset    string
	Folder          string
	BaseURL         string
	DeliveryBaseURL string
	MaxBytes        int64
	AllowedTypes    []string
	HTTPClient      *http.Client

	logger *zap.Logger
	prober *ffmpeg.Processor
	now    func() time.Time
}

// NewClient creates a client from the cloud and upload settings.
func NewClient(cloud config.CloudConfig, upload config.UploadConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		CloudName:       cloud.CloudName,
		APIKey:          cloud.APIKey,
		APISecret:       cloud.APISecret,
		UploadPreset:    cloud.UploadPreset,
		Folder:          cloud.Folder,
		BaseURL:         cloud.APIBaseURL,
		DeliveryBaseURL: cloud.DeliveryBaseURL,
		MaxBytes:        upload.MaxBytes,
		AllowedTypes:    upload.AllowedTypes,
		HTTPClient:      &http.Client{},
		logger:          logger,
		now:             time.Now,
	}
}

// WithProber makes uploads check for a video stream with ffprobe first.
// Readers are spooled to a temp file for the probe.
func (c *Client) WithProber(p *ffmpeg.Processor) *Client {
	c.prober = p
	return c
}

func (c *Client) endpoint(action string) string {
	base := c.BaseURL
	if base == "" {
		base = config.DefaultAPIBaseURL
	}
	return fmt.Sprintf("%s/v1_1/%s/video/%s", strings.TrimSuffix(base, "/"), c.CloudName, action)
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		return http.DefaultClient
	}
	return c.HTTPClient
}

// signedParams adds api_key, timestamp and signature to params.
func (c *Client) signedParams(params map[string]string) (map[string]string, error) {
	if c.APIKey == "" || c.APISecret == "" {
		return nil, ErrMissingCredentials
	}
	params["timestamp"] = fmt.Sprintf("%d", c.now().Unix())
	params["signature"] = Sign(params, c.APISecret)
	params["api_key"] = c.APIKey
	return params, nil
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// decode reads a JSON answer into v, turning error statuses into APIError.
func decode(resp *http.Response, v interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var eb errorBody
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &eb) == nil && eb.Error.Message != "" {
			msg = eb.Error.Message
		}
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: msg}
		if resp.StatusCode == http.StatusNotFound {
			return errors.Wrap(ErrNotFound, apiErr.Error())
		}
		return errors.WithStack(apiErr)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return errors.Wrap(err, "failed to decode media api response")
	}
	return nil
}
