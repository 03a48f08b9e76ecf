package transfer

// Kind identifies what a transfer session moves.
type Kind string

const (
	KindDownload     Kind = "download"
	KindUpload       Kind = "upload"
	KindFileDownload Kind = "file-download"
	KindFileUpload   Kind = "file-upload"
)
