package format

type WebM struct{}

func init() {
	Register(&WebM{})
}

func (f *WebM) GetName() string {
	return "webm"
}

func (f *WebM) GetExtension() string {
	return "webm"
}

func (f *WebM) GetMimeType() string {
	return "video/webm"
}

func (f *WebM) GetVideoCodec() string {
	return "vp9"
}

func (f *WebM) IsPlayable(codec string) bool {
	switch codec {
	case "vp8", "vp9", "av1":
		return true
	}
	return false
}
