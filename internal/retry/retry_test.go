package retry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ZacxDev/video-editor/internal/ffmpeg"
	"github.com/ZacxDev/video-editor/internal/transform"
	"github.com/ZacxDev/video-editor/pkg/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const clipURL = "https://res.cloudinary.com/demo/video/upload/so_2/e_contrast:10/v17/editor/clip.mov"

func TestFallbackURLsNotFound(t *testing.T) {
	urls, err := FallbackURLs(clipURL, types.FailureNotFound)
	require.NoError(t, err)
	assert.Equal(t, []string{
		clipURL + "?_r=1",
		clipURL + "?_r=2",
		clipURL + "?_r=3",
	}, urls)
}

func TestFallbackURLsNotFoundSkipsFailingURL(t *testing.T) {
	urls, err := FallbackURLs(clipURL+"?_r=1", types.FailureNotFound)
	require.NoError(t, err)
	assert.Equal(t, []string{
		clipURL + "?_r=2",
		clipURL + "?_r=3",
	}, urls)
}

func TestFallbackURLsDecode(t *testing.T) {
	urls, err := FallbackURLs(clipURL, types.FailureDecode)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://res.cloudinary.com/demo/video/upload/so_2/e_contrast:10/f_mp4,vc_h264/v17/editor/clip.mp4",
		"https://res.cloudinary.com/demo/video/upload/so_2/e_contrast:10/f_webm,vc_vp9/v17/editor/clip.webm",
		"https://res.cloudinary.com/demo/video/upload/v17/editor/clip.mp4",
	}, urls)
}

func TestFallbackURLsDecodeReplacesDeliveryComponent(t *testing.T) {
	forced := "https://res.cloudinary.com/demo/video/upload/a_90/f_mp4,vc_h264/v3/clip.mp4"
	urls, err := FallbackURLs(forced, types.FailureDecode)
	require.NoError(t, err)
	// The mp4 candidate equals the failing url and is skipped.
	assert.Equal(t, []string{
		"https://res.cloudinary.com/demo/video/upload/a_90/f_webm,vc_vp9/v3/clip.webm",
		"https://res.cloudinary.com/demo/video/upload/v3/clip.mp4",
	}, urls)
}

func TestFallbackURLsErrors(t *testing.T) {
	_, err := FallbackURLs(clipURL, types.FailureKind("stall"))
	assert.Error(t, err)

	_, err = FallbackURLs("https://example.com/video.mov", types.FailureDecode)
	assert.Equal(t, ErrNoFallbackAvailable, errors.Cause(err))
}

func newTestHelper(srv *httptest.Server) *Helper {
	return NewHelper(Options{HTTPClient: srv.Client(), Logger: zap.NewNop(), ProbeTimeout: time.Second})
}

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.mp4":
			w.Header().Set("Content-Type", "video/mp4")
			w.Header().Set("Content-Length", "2048")
			w.WriteHeader(http.StatusOK)
		case "/nohead.mp4":
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			assert.Equal(t, "bytes=0-0", r.Header.Get("Range"))
			w.Header().Set("Content-Type", "video/mp4")
			w.Header().Set("Content-Range", "bytes 0-0/4096")
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write([]byte{0})
		case "/deriving.mp4":
			w.WriteHeader(http.StatusLocked)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	h := newTestHelper(srv)
	ctx := context.Background()

	res, err := h.Probe(ctx, srv.URL+"/ok.mp4")
	require.NoError(t, err)
	assert.True(t, res.Available)
	assert.Equal(t, "video/mp4", res.ContentType)
	assert.Equal(t, int64(2048), res.ContentLength)

	res, err = h.Probe(ctx, srv.URL+"/nohead.mp4")
	require.NoError(t, err)
	assert.True(t, res.Available)
	assert.Equal(t, http.StatusPartialContent, res.StatusCode)
	assert.Equal(t, int64(4096), res.ContentLength)

	res, err = h.Probe(ctx, srv.URL+"/deriving.mp4")
	require.NoError(t, err)
	assert.False(t, res.Available)
	assert.True(t, res.Pending)

	res, err = h.Probe(ctx, srv.URL+"/missing.mp4")
	require.NoError(t, err)
	assert.False(t, res.Available)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestRecoverAfterEventualConsistency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The upload reaches the edge between the first and second attempt.
		if r.URL.Query().Get("_r") != "2" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	asset := transform.Asset{CloudName: "demo", PublicID: "clip", Version: 5, Format: "mp4", DeliveryBaseURL: srv.URL}
	url := transform.BuildURL(asset, transform.State{}, transform.PreviewOptions())

	h := newTestHelper(srv)
	var slept []time.Duration
	h.delay = 250 * time.Millisecond
	h.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	got, err := h.Recover(context.Background(), url, types.FailureNotFound)
	require.NoError(t, err)
	assert.Equal(t, url+"?_r=2", got)
	assert.Equal(t, []time.Duration{250 * time.Millisecond}, slept)
}

func TestRecoverWaitsForPendingDerivation(t *testing.T) {
	heads := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("_r")
		heads[token]++
		// The first candidate is still being generated on the first request.
		if token == "1" && heads[token] == 1 {
			w.WriteHeader(http.StatusLocked)
			return
		}
		if token == "1" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	h := newTestHelper(srv)
	var slept []time.Duration
	h.delay = 100 * time.Millisecond
	h.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	url := srv.URL + "/demo/video/upload/v1/clip.mp4"
	got, err := h.Recover(context.Background(), url, types.FailureNotFound)
	require.NoError(t, err)
	assert.Equal(t, url+"?_r=1", got)
	assert.Equal(t, 2, heads["1"])
	assert.Zero(t, heads["2"])
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, slept)
}

func TestRecoverDecodeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".webm") {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	asset := transform.Asset{CloudName: "demo", PublicID: "clip", Version: 5, Format: "mov", DeliveryBaseURL: srv.URL}
	url := transform.BuildURL(asset, transform.State{Rotate: transform.Rotate{Angle: 90}}, transform.PreviewOptions())

	got, err := newTestHelper(srv).Recover(context.Background(), url, types.FailureDecode)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/demo/video/upload/a_90/f_webm,vc_vp9/v5/clip.webm", got)
}

func TestRecoverExhausted(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newTestHelper(srv).Recover(context.Background(), srv.URL+"/demo/video/upload/v1/clip.mp4", types.FailureNotFound)
	require.Error(t, err)
	assert.Equal(t, ErrNoFallbackAvailable, errors.Cause(err))
}

func TestRecoverHonoursCancellation(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	h := newTestHelper(srv)
	h.delay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	h.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleepContext(ctx, d)
	}

	_, err := h.Recover(ctx, srv.URL+"/demo/video/upload/v1/clip.mp4", types.FailureNotFound)
	require.Error(t, err)
	assert.Equal(t, context.Canceled, errors.Cause(err))
}

func TestInspect(t *testing.T) {
	prober := ffmpeg.NewProcessor(zap.NewNop(), time.Second).WithProbe(func(string, time.Duration) (string, error) {
		return `{"streams":[{"codec_type":"video","codec_name":"hevc","width":1280,"height":720,"duration":"8"}],"format":{"format_name":"mov,mp4,m4a,3gp,3g2,mj2"}}`, nil
	})
	h := NewHelper(Options{Logger: zap.NewNop(), Prober: prober})

	res, err := h.Inspect(context.Background(), clipURL, "mp4")
	require.NoError(t, err)
	assert.Equal(t, "hevc", res.Metadata.Codec)
	assert.False(t, res.Playable)
}
