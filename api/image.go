package api

// ImageInfo describes a stored image. UploadedAt is the upload time in
// milliseconds since the Unix epoch, as a decimal string.
type ImageInfo struct {
	ID         string `json:"id"`
	UploadedAt string `json:"uploadedAt"`
	Size       int64  `json:"size"`
}

type DeleteResponse struct {
	ID string `json:"id"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
