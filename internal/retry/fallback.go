package retry

import (
	"net/url"

	"github.com/ZacxDev/video-editor/internal/format"
	"github.com/ZacxDev/video-editor/internal/transform"
	"github.com/ZacxDev/video-editor/pkg/types"
	"github.com/pkg/errors"
)

// cacheBusters are appended in order after a 404. A fresh upload can take
// a moment to reach the CDN edge, and a new query string skips the cached
// negative answer.
var cacheBusters = []string{"1", "2", "3"}

// decodeFormats are tried in order after the client failed to decode the
// delivered stream.
var decodeFormats = []string{"mp4", "webm"}

// FallbackURLs returns the fixed list of alternatives to try for rawURL
// after a failure of the given kind.
func FallbackURLs(rawURL string, kind types.FailureKind) ([]string, error) {
	switch kind {
	case types.FailureNotFound:
		return cacheBusted(rawURL)
	case types.FailureDecode:
		return reformatted(rawURL)
	}
	return nil, errors.Errorf("unknown failure kind: %q", kind)
}

func cacheBusted(rawURL string) ([]string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid url")
	}

	urls := make([]string, 0, len(cacheBusters))
	for _, token := range cacheBusters {
		u := *parsed
		q := u.Query()
		q.Set("_r", token)
		u.RawQuery = q.Encode()
		if candidate := u.String(); candidate != rawURL && candidate != parsed.String() {
			urls = append(urls, candidate)
		}
	}
	return urls, nil
}

func reformatted(rawURL string) ([]string, error) {
	du, err := transform.ParseURL(rawURL)
	if err != nil {
		return nil, errors.Wrap(ErrNoFallbackAvailable, err.Error())
	}

	edits := make([]string, 0, len(du.Components))
	for _, c := range du.Components {
		if !transform.IsDeliveryComponent(c) {
			edits = append(edits, c)
		}
	}

	var urls []string
	seen := map[string]bool{rawURL: true}
	push := func(u transform.DeliveryURL) {
		s := u.String()
		if !seen[s] {
			seen[s] = true
			urls = append(urls, s)
		}
	}

	for _, name := range decodeFormats {
		f, err := format.Get(name)
		if err != nil {
			return nil, err
		}
		candidate := du
		candidate.Components = append(append([]string(nil), edits...), "f_"+f.GetExtension()+",vc_"+f.GetVideoCodec())
		push(candidate.WithExtension(f.GetExtension()))
	}

	// Last resort: the untouched upload transcoded to mp4 by extension.
	original := du
	original.Components = nil
	original.RawQuery = ""
	push(original.WithExtension("mp4"))

	return urls, nil
}
