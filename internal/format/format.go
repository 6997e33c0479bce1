package format

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// Format defines a delivery container the remote service can transcode to
type Format interface {
	// GetName returns the format name
	GetName() string

	// GetExtension returns the file extension without the dot
	GetExtension() string

	// GetMimeType returns the MIME type served for this format
	GetMimeType() string

	// GetVideoCodec returns the remote video codec parameter (vc_ value)
	GetVideoCodec() string

	// IsPlayable reports whether browsers decode the given probed codec
	// when it arrives in this container
	IsPlayable(codec string) bool
}

var formats = make(map[string]Format)

// Register adds a format to the registry
func Register(f Format) {
	formats[f.GetName()] = f
}

// Get returns a format by name
func Get(name string) (Format, error) {
	f, ok := formats[name]
	if !ok {
		return nil, errors.Errorf("unsupported format: %s", name)
	}
	return f, nil
}

// GetSupportedFormats returns the registered format names in stable order
func GetSupportedFormats() []string {
	names := make([]string, 0, len(formats))
	for name := range formats {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ByMimeType finds the format serving a MIME type, if any
func ByMimeType(mimeType string) (Format, bool) {
	for _, f := range formats {
		if f.GetMimeType() == mimeType {
			return f, true
		}
	}
	return nil, false
}
