package httpclient

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/torosent/stagefire/internal/config"
)

// BodySource hands out a fresh reader for every request.
type BodySource interface {
	NewReader() (io.ReadCloser, error)
	ContentLength() (int64, bool)
}

// NewBodySource picks the inline body or the body file. With neither set the
// request has an empty body.
func NewBodySource(cfg *config.Config) (BodySource, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	path := strings.TrimSpace(cfg.BodyFile)
	switch {
	case cfg.Body != "" && path != "":
		return nil, errors.New("body and body file cannot both be provided")
	case cfg.Body != "":
		return bytesBody(cfg.Body), nil
	case path != "":
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("body file: %w", err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("body file %q is a directory", path)
		}
		return fileBody{path: path, size: info.Size()}, nil
	default:
		return bytesBody(""), nil
	}
}

type bytesBody string

func (b bytesBody) NewReader() (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(string(b))), nil
}

func (b bytesBody) ContentLength() (int64, bool) {
	return int64(len(b)), true
}

// fileBody reopens the file per request so large payloads are streamed.
type fileBody struct {
	path string
	size int64
}

func (f fileBody) NewReader() (io.ReadCloser, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, err
	}
	return file, nil
}

func (f fileBody) ContentLength() (int64, bool) {
	return f.size, true
}
