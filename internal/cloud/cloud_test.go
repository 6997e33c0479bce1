package cloud

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ZacxDev/video-editor/internal/config"
	"github.com/ZacxDev/video-editor/internal/ffmpeg"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mp4Header is a minimal ftyp box, enough for content sniffing.
var mp4Header = []byte("\x00\x00\x00\x20ftypisom\x00\x00\x02\x00isomiso2avc1mp41")

func fakeVideo(size int) []byte {
	data := make([]byte, size)
	copy(data, mp4Header)
	return data
}

func newTestClient(t *testing.T, srv *httptest.Server, preset string) *Client {
	t.Helper()
	c := NewClient(config.CloudConfig{
		CloudName:       "demo",
		APIKey:          "key",
		APISecret:       "secret",
		UploadPreset:    preset,
		APIBaseURL:      srv.URL,
		DeliveryBaseURL: "https://res.example.com",
	}, config.UploadConfig{
		MaxBytes:     1 << 20,
		AllowedTypes: config.DefaultAllowedTypes,
	}, zap.NewNop())
	c.HTTPClient = srv.Client()
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	return c
}

func TestSign(t *testing.T) {
	params := map[string]string{
		"timestamp":     "1315060510",
		"public_id":     "sample",
		"eager":         "w_400,h_300,c_pad",
		"folder":        "",
		"api_key":       "ignored",
		"resource_type": "video",
	}
	sum := sha1.Sum([]byte("eager=w_400,h_300,c_pad&public_id=sample&timestamp=1315060510abcd"))

	assert.Equal(t, hex.EncodeToString(sum[:]), Sign(params, "abcd"))
	assert.NotEqual(t, Sign(params, "abcd"), Sign(params, "other"))
}

func TestUploadUnsigned(t *testing.T) {
	var fields map[string][]string
	var received []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1_1/demo/video/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(8<<20))
		fields = r.MultipartForm.Value

		f, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "clip.mp4", header.Filename)
		received, _ = io.ReadAll(f)

		fmt.Fprint(w, `{"public_id":"clip-1","version":1712,"format":"mp4","secure_url":"https://res.example.com/demo/video/upload/v1712/clip-1.mp4","duration":12.5,"width":1280,"height":720,"bytes":8192}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, "editor_unsigned")
	data := fakeVideo(8192)

	var lastSent, lastTotal int64
	asset, err := c.Upload(context.Background(), UploadRequest{
		Reader:   bytes.NewReader(data),
		Name:     "clip.mp4",
		Size:     int64(len(data)),
		PublicID: "clip-1",
		Progress: func(sent, total int64) { lastSent, lastTotal = sent, total },
	})
	require.NoError(t, err)

	assert.Equal(t, data, received)
	assert.Equal(t, []string{"editor_unsigned"}, fields["upload_preset"])
	assert.Equal(t, []string{"clip-1"}, fields["public_id"])
	assert.Empty(t, fields["signature"])
	assert.Empty(t, fields["api_key"])

	assert.Equal(t, int64(8192), lastSent)
	assert.Equal(t, int64(8192), lastTotal)

	assert.Equal(t, "demo", asset.CloudName)
	assert.Equal(t, "clip-1", asset.PublicID)
	assert.Equal(t, int64(1712), asset.Version)
	assert.Equal(t, "mp4", asset.Format)
	assert.Equal(t, "https://res.example.com", asset.DeliveryBaseURL)
	assert.Equal(t, 12.5, asset.Duration)
	assert.Equal(t, 1280, asset.Width)
}

func TestUploadSignedFromPath(t *testing.T) {
	var fields map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(8<<20))
		fields = r.MultipartForm.Value
		fmt.Fprintf(w, `{"public_id":%q,"version":3,"format":"mp4"}`, r.FormValue("public_id"))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "holiday.mp4")
	require.NoError(t, os.WriteFile(path, fakeVideo(4096), 0o644))

	c := newTestClient(t, srv, "")
	c.Folder = "editor"
	asset, err := c.Upload(context.Background(), UploadRequest{Path: path})
	require.NoError(t, err)

	// Public ids default to a generated uuid.
	assert.Len(t, asset.PublicID, 36)
	assert.Equal(t, []string{"key"}, fields["api_key"])
	assert.Equal(t, []string{"1700000000"}, fields["timestamp"])
	assert.Equal(t, []string{"editor"}, fields["folder"])
	assert.Empty(t, fields["upload_preset"])

	expected := Sign(map[string]string{
		"folder":    "editor",
		"public_id": asset.PublicID,
		"timestamp": "1700000000",
	}, "secret")
	assert.Equal(t, []string{expected}, fields["signature"])
}

func TestUploadRejectsLargeFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer srv.Close()

	c := newTestClient(t, srv, "preset")
	_, err := c.Upload(context.Background(), UploadRequest{
		Reader: bytes.NewReader(fakeVideo(16)),
		Name:   "big.mp4",
		Size:   200 << 20,
	})
	require.Error(t, err)
	assert.Equal(t, ErrFileTooLarge, errors.Cause(err))
	assert.Contains(t, err.Error(), "210 MB")
}

func TestUploadRejectsWrongType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer srv.Close()

	c := newTestClient(t, srv, "preset")
	_, err := c.Upload(context.Background(), UploadRequest{
		Reader: strings.NewReader("just some notes, not a video"),
		Name:   "notes.mp4",
		Size:   28,
	})
	require.Error(t, err)
	assert.Equal(t, ErrUnsupportedType, errors.Cause(err))
	assert.Contains(t, err.Error(), "text/plain")
}

func TestUploadAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"Upload preset not found"}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, "missing")
	_, err := c.Upload(context.Background(), UploadRequest{
		Reader: bytes.NewReader(fakeVideo(1024)),
		Name:   "clip.mp4",
		Size:   1024,
	})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "Upload preset not found", apiErr.Message)
}

func TestDestroy(t *testing.T) {
	tests := []struct {
		name    string
		result  string
		wantErr error
	}{
		{"ok", "ok", nil},
		{"missing", "not found", ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1_1/demo/video/destroy", r.URL.Path)
				require.NoError(t, r.ParseForm())
				assert.Equal(t, "clip", r.PostForm.Get("public_id"))
				assert.Equal(t, "key", r.PostForm.Get("api_key"))
				assert.Equal(t, Sign(map[string]string{
					"public_id":  "clip",
					"invalidate": "true",
					"timestamp":  "1700000000",
				}, "secret"), r.PostForm.Get("signature"))
				fmt.Fprintf(w, `{"result":%q}`, tt.result)
			}))
			defer srv.Close()

			err := newTestClient(t, srv, "").Destroy(context.Background(), "clip")
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, tt.wantErr, errors.Cause(err))
			}
		})
	}
}

func TestDestroyNeedsCredentials(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := newTestClient(t, srv, "")
	c.APISecret = ""
	assert.Equal(t, ErrMissingCredentials, errors.Cause(c.Destroy(context.Background(), "clip")))
}

func TestDownload(t *testing.T) {
	payload := fakeVideo(5000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "missing") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
		w.Write(payload)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, "")

	var buf bytes.Buffer
	var lastSent, lastTotal int64
	n, err := c.Download(context.Background(), srv.URL+"/clip.mp4", &buf, func(sent, total int64) {
		lastSent, lastTotal = sent, total
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)
	assert.Equal(t, payload, buf.Bytes())
	assert.Equal(t, int64(5000), lastSent)
	assert.Equal(t, int64(5000), lastTotal)

	_, err = c.Download(context.Background(), srv.URL+"/missing.mp4", io.Discard, nil)
	assert.Equal(t, ErrNotFound, errors.Cause(err))
}

const audioOnlyStreams = `{"streams":[{"codec_type":"audio","codec_name":"aac"}],"format":{"duration":"3.0","format_name":"mov,mp4,m4a,3gp,3g2,mj2"}}`

const videoStreams = `{"streams":[{"codec_type":"video","codec_name":"h264","width":640,"height":360,"duration":"3.0"}],"format":{"duration":"3.0","format_name":"mov,mp4,m4a,3gp,3g2,mj2"}}`

func TestUploadStreamWithoutVideoTrack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer srv.Close()

	var inspected string
	checker := ffmpeg.NewProcessor(zap.NewNop(), time.Second).WithProbe(func(input string, _ time.Duration) (string, error) {
		inspected = input
		return audioOnlyStreams, nil
	})
	c := newTestClient(t, srv, "preset").WithProber(checker)

	_, err := c.Upload(context.Background(), UploadRequest{
		Reader: bytes.NewReader(fakeVideo(2048)),
		Name:   "voice.mp4",
		Size:   2048,
	})
	require.Error(t, err)
	assert.Equal(t, ErrUnsupportedType, errors.Cause(err))
	assert.Contains(t, err.Error(), "no video stream")

	require.NotEmpty(t, inspected)
	assert.Equal(t, ".mp4", filepath.Ext(inspected))
	assert.NoFileExists(t, inspected)
}

func TestUploadStreamIsCheckedThenSent(t *testing.T) {
	var received []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, _, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		received, _ = io.ReadAll(f)
		fmt.Fprint(w, `{"public_id":"clip","version":1,"format":"mp4"}`)
	}))
	defer srv.Close()

	data := fakeVideo(6000)
	var spooled []byte
	checker := ffmpeg.NewProcessor(zap.NewNop(), time.Second).WithProbe(func(input string, _ time.Duration) (string, error) {
		spooled, _ = os.ReadFile(input)
		return videoStreams, nil
	})
	c := newTestClient(t, srv, "preset").WithProber(checker)

	_, err := c.Upload(context.Background(), UploadRequest{
		Reader: bytes.NewReader(data),
		Name:   "clip.mp4",
		Size:   int64(len(data)),
	})
	require.NoError(t, err)
	assert.Equal(t, data, spooled)
	assert.Equal(t, data, received)
}
