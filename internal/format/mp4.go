package format

type MP4 struct{}

func init() {
	Register(&MP4{})
}

func (f *MP4) GetName() string {
	return "mp4"
}

func (f *MP4) GetExtension() string {
	return "mp4"
}

func (f *MP4) GetMimeType() string {
	return "video/mp4"
}

func (f *MP4) GetVideoCodec() string {
	return "h264" // H.264 for broadest browser support
}

func (f *MP4) IsPlayable(codec string) bool {
	switch codec {
	case "h264", "av1":
		return true
	}
	return false
}
