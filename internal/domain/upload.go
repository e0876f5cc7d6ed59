package domain

import (
	"bytes"
	"io"
)

// File is a seekable byte stream with a filename and declared MIME
// type. Provider adapters may read it more than once; every consumer
// must seek back to the start after reading.
type File interface {
	io.ReadSeeker
	Name() string
	ContentType() string
}

// Upload is an in-memory File, typically built from a multipart part.
type Upload struct {
	reader      *bytes.Reader
	name        string
	contentType string
}

// NewUpload wraps raw bytes as a File.
func NewUpload(name, contentType string, data []byte) *Upload {
	return &Upload{
		reader:      bytes.NewReader(data),
		name:        name,
		contentType: contentType,
	}
}

func (u *Upload) Read(p []byte) (int, error) {
	return u.reader.Read(p)
}

func (u *Upload) Seek(offset int64, whence int) (int64, error) {
	return u.reader.Seek(offset, whence)
}

func (u *Upload) Name() string { return u.name }

func (u *Upload) ContentType() string { return u.contentType }

var _ File = (*Upload)(nil)
