package cloud

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZacxDev/video-editor/internal/ffmpeg"
	"github.com/ZacxDev/video-editor/internal/format"
	"github.com/ZacxDev/video-editor/internal/transform"
	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// sniffLen is how much of the file is read to detect its type.
const sniffLen = 3072

// UploadRequest describes one file to upload. Either Path or Reader is set.
type UploadRequest struct {
	Path   string
	Reader io.Reader
	Name   string
	// Size is required with Reader for the size check and progress totals.
	Size     int64
	PublicID string
	Progress func(sent, total int64)
}

type uploadResponse struct {
	PublicID  string  `json:"public_id"`
	Version   int64   `json:"version"`
	Format    string  `json:"format"`
	SecureURL string  `json:"secure_url"`
	Duration  float64 `json:"duration"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Bytes     int64   `json:"bytes"`
}

// Upload validates and streams a video to the media API and returns the
// resulting asset.
func (c *Client) Upload(ctx context.Context, req UploadRequest) (*transform.Asset, error) {
	if req.Path != "" {
		f, err := os.Open(req.Path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open upload file")
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, errors.Wrap(err, "failed to stat upload file")
		}
		req.Reader = f
		req.Size = info.Size()
		if req.Name == "" {
			req.Name = filepath.Base(req.Path)
		}
	}
	if req.Reader == nil {
		return nil, errors.New("upload request has no file")
	}
	if req.Name == "" {
		req.Name = "video"
	}

	if c.MaxBytes > 0 && req.Size > c.MaxBytes {
		return nil, errors.Wrapf(ErrFileTooLarge, "%s is %s, limit is %s",
			req.Name, humanize.Bytes(uint64(req.Size)), humanize.Bytes(uint64(c.MaxBytes)))
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(req.Reader, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, errors.Wrap(err, "failed to read upload file")
	}
	head = head[:n]

	mtype := mimetype.Detect(head)
	if !c.allowed(mtype) {
		return nil, errors.Wrapf(ErrUnsupportedType, "%s is %s", req.Name, mtype.String())
	}

	if c.prober != nil {
		probePath := req.Path
		if probePath == "" {
			// Streams are spooled so ffprobe can seek; the spool is then uploaded.
			tmp, err := spool(io.MultiReader(bytes.NewReader(head), req.Reader), req.Name)
			if err != nil {
				return nil, err
			}
			defer func() {
				tmp.Close()
				os.Remove(tmp.Name())
			}()
			req.Reader = tmp
			head = head[:0]
			probePath = tmp.Name()
		}
		if err := c.checkVideoStream(probePath, req.Name); err != nil {
			return nil, err
		}
	}

	params := map[string]string{"public_id": req.PublicID, "folder": c.Folder}
	if params["public_id"] == "" {
		params["public_id"] = uuid.New().String()
	}
	if c.UploadPreset != "" {
		params["upload_preset"] = c.UploadPreset
	} else if params, err = c.signedParams(params); err != nil {
		return nil, err
	}

	c.logger.Info("Uploading video",
		zap.String("name", req.Name),
		zap.String("type", mtype.String()),
		zap.String("size", humanize.Bytes(uint64(req.Size))),
		zap.String("public_id", params["public_id"]),
		zap.Bool("signed", c.UploadPreset == ""))

	body := &progressReader{
		r:     io.MultiReader(bytes.NewReader(head), req.Reader),
		total: req.Size,
		fn:    req.Progress,
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeMultipart(mw, params, req.Name, body))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("upload"), pr)
	if err != nil {
		pr.Close()
		return nil, errors.WithStack(err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		pr.Close()
		return nil, errors.Wrap(err, "upload request failed")
	}

	var out uploadResponse
	if err := decode(resp, &out); err != nil {
		return nil, errors.Wrap(err, "upload rejected")
	}

	if out.Format == "" {
		if f, ok := format.ByMimeType(mtype.String()); ok {
			out.Format = f.GetExtension()
		}
	}

	asset := &transform.Asset{
		CloudName:       c.CloudName,
		PublicID:        out.PublicID,
		Version:         out.Version,
		Format:          out.Format,
		DeliveryBaseURL: c.DeliveryBaseURL,
		Duration:        out.Duration,
		Width:           out.Width,
		Height:          out.Height,
		Bytes:           out.Bytes,
	}

	c.logger.Info("Upload complete",
		zap.String("public_id", asset.PublicID),
		zap.Int64("version", asset.Version),
		zap.String("url", out.SecureURL))

	return asset, nil
}

func (c *Client) checkVideoStream(path, name string) error {
	if _, err := c.prober.GetVideoMetadata(path); err != nil {
		if errors.Cause(err) == ffmpeg.ErrNoVideoStream {
			return errors.Wrapf(ErrUnsupportedType, "%s has no video stream", name)
		}
		return err
	}
	return nil
}

// spool copies r into a temp file and rewinds it.
func spool(r io.Reader, name string) (*os.File, error) {
	tmp, err := os.CreateTemp("", "video-editor-upload-*"+filepath.Ext(name))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create upload spool")
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, errors.Wrap(err, "failed to spool upload")
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, errors.Wrap(err, "failed to rewind upload spool")
	}
	return tmp, nil
}

func (c *Client) allowed(m *mimetype.MIME) bool {
	if len(c.AllowedTypes) == 0 {
		return strings.HasPrefix(m.String(), "video/")
	}
	for _, t := range c.AllowedTypes {
		if m.Is(t) {
			return true
		}
	}
	return false
}

func writeMultipart(mw *multipart.Writer, params map[string]string, name string, file io.Reader) error {
	for k, v := range params {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	return mw.Close()
}

// progressReader reports bytes read so far to fn.
type progressReader struct {
	r     io.Reader
	total int64
	sent  int64
	fn    func(sent, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.fn != nil {
			p.fn(p.sent, p.total)
		}
	}
	return n, err
}
