package videoeditor

import (
	"context"
	"os"
	"path/filepath"

	"github.com/ZacxDev/video-editor/internal/cloud"
	"github.com/ZacxDev/video-editor/internal/config"
	"github.com/ZacxDev/video-editor/internal/editor"
	"github.com/ZacxDev/video-editor/internal/ffmpeg"
	"github.com/ZacxDev/video-editor/internal/format"
	"github.com/ZacxDev/video-editor/internal/logging"
	"github.com/ZacxDev/video-editor/internal/retry"
	"github.com/ZacxDev/video-editor/internal/server"
	"github.com/ZacxDev/video-editor/internal/transform"
	"github.com/ZacxDev/video-editor/pkg/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Asset identifies an uploaded video.
type Asset = transform.Asset

// State is a full set of edits.
type State = transform.State

// ProbeResult is what the delivery endpoint answered for a URL.
type ProbeResult = retry.ProbeResult

// InspectResult is what ffprobe found at a URL.
type InspectResult = retry.InspectResult

// Options select the configuration an Editor is built from.
type Options struct {
	ConfigPath string
	// CloudName overrides the configured cloud name when set.
	CloudName string
	Verbose   bool
	// HTTPPort overrides the configured listen port when set.
	HTTPPort string
}

// Editor wires the media API client, the fallback helper and the session
// service from one configuration.
type Editor struct {
	Config   config.Config
	Logger   *zap.Logger
	Client   *cloud.Client
	Retry    *retry.Helper
	Sessions *editor.Service
}

// New loads configuration and builds an Editor.
func New(opts Options) (*Editor, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.CloudName != "" {
		cfg.Cloud.CloudName = opts.CloudName
	}
	if opts.HTTPPort != "" {
		cfg.Server.HTTPPort = opts.HTTPPort
	}
	cfg.Verbose = cfg.Verbose || opts.Verbose

	logger, err := logging.New(cfg.Verbose)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg, logger), nil
}

// NewWithConfig builds an Editor from an already loaded configuration.
func NewWithConfig(cfg config.Config, logger *zap.Logger) *Editor {
	prober := ffmpeg.NewProcessor(logger, cfg.Retry.ProbeTimeout)
	client := cloud.NewClient(cfg.Cloud, cfg.Upload, logger).WithProber(prober)
	helper := retry.NewHelper(retry.Options{
		Logger:       logger,
		Delay:        cfg.Retry.Delay,
		ProbeTimeout: cfg.Retry.ProbeTimeout,
		Prober:       prober,
	})

	logger.Debug("Configured media api",
		zap.String("cloud_name", cfg.Cloud.CloudName),
		zap.String("api", cfg.Cloud.APIBaseURL),
		zap.Bool("signed_uploads", cfg.Cloud.Signed()))

	return &Editor{
		Config:   cfg,
		Logger:   logger,
		Client:   client,
		Retry:    helper,
		Sessions: editor.NewService(client, helper, logger),
	}
}

// Upload sends a local video file to the media API.
func (e *Editor) Upload(ctx context.Context, path, publicID string, progress func(sent, total int64)) (*Asset, error) {
	if e.Config.Cloud.CloudName == "" {
		return nil, errors.New("cloud name is not configured")
	}
	return e.Client.Upload(ctx, cloud.UploadRequest{
		Path:     path,
		PublicID: publicID,
		Progress: progress,
	})
}

// Asset returns a reference to an uploaded video by public id.
func (e *Editor) Asset(publicID string, version int64, ext string) Asset {
	return Asset{
		CloudName:       e.Config.Cloud.CloudName,
		PublicID:        publicID,
		Version:         version,
		Format:          ext,
		DeliveryBaseURL: e.Config.Cloud.DeliveryBaseURL,
	}
}

// PreviewURL is the player source for s. Borders are left to styling.
func PreviewURL(a Asset, s State) (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	return transform.BuildURL(a, s, transform.PreviewOptions()), nil
}

// DownloadURL is the export URL for s in the given format.
func DownloadURL(a Asset, s State, formatName string) (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	if _, err := format.Get(formatName); err != nil {
		return "", err
	}
	return transform.BuildURL(a, s, transform.DownloadOptions(formatName)), nil
}

// Probe checks whether url is currently served.
func (e *Editor) Probe(ctx context.Context, url string) (ProbeResult, error) {
	return e.Retry.Probe(ctx, url)
}

// Recover returns the first working fallback for a failed url.
func (e *Editor) Recover(ctx context.Context, url string, kind types.FailureKind) (string, error) {
	return e.Retry.Recover(ctx, url, kind)
}

// Inspect reads codec and size information from the resource at url.
func (e *Editor) Inspect(ctx context.Context, url, formatName string) (*InspectResult, error) {
	return e.Retry.Inspect(ctx, url, formatName)
}

// Download saves the resource at url to outputPath.
func (e *Editor) Download(ctx context.Context, url, outputPath string, progress func(sent, total int64)) (int64, error) {
	if dir := filepath.Dir(outputPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return 0, errors.Wrap(err, "error creating output directory")
		}
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return 0, errors.Wrap(err, "error creating output file")
	}

	n, err := e.Client.Download(ctx, url, f, progress)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = errors.Wrap(cerr, "error closing output file")
	}
	if err != nil {
		os.Remove(outputPath)
		return 0, err
	}
	return n, nil
}

// Delete destroys an uploaded video.
func (e *Editor) Delete(ctx context.Context, publicID string) error {
	return e.Client.Destroy(ctx, publicID)
}

// Serve runs the HTTP API until ctx is cancelled.
func (e *Editor) Serve(ctx context.Context) error {
	h := server.NewHandler(server.Deps{
		Sessions:        e.Sessions,
		Prober:          e.Retry,
		Downloader:      e.Client,
		Logger:          e.Logger,
		MaxUploadBytes:  e.Config.Upload.MaxBytes,
		CloudName:       e.Config.Cloud.CloudName,
		DeliveryBaseURL: e.Config.Cloud.DeliveryBaseURL,
	})
	n := server.SetupNegroni(server.SetupRoutes(h), e.Logger)
	return server.Serve(ctx, server.NewHTTPServer(e.Config.Server, n), e.Logger)
}

// GetSupportedFormats returns the delivery formats downloads can use.
func GetSupportedFormats() []string {
	return format.GetSupportedFormats()
}
