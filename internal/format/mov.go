package format

// MOV is accepted on upload but only Safari plays it reliably, so it is
// the usual reason for a decode fallback.
type MOV struct{}

func init() {
	Register(&MOV{})
}

func (f *MOV) GetName() string {
	return "mov"
}

func (f *MOV) GetExtension() string {
	return "mov"
}

func (f *MOV) GetMimeType() string {
	return "video/quicktime"
}

func (f *MOV) GetVideoCodec() string {
	return "h264"
}

func (f *MOV) IsPlayable(codec string) bool {
	return false
}
