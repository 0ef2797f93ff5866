package processor

import (
	"bytes"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"

	"refinery/internal/pkg/errors"
)

// OutputKeys holds the object keys of one job's artifacts.
type OutputKeys struct {
	Model string
	Image string
}

// DeriveKeys maps "a/b/c.ext" to models/c.glb and images/c.webp. Only the
// last extension is stripped, so "x.tar.stl" keeps "x.tar".
func DeriveKeys(sourceKey string) (OutputKeys, error) {
	base := path.Base(strings.TrimRight(sourceKey, "/"))
	name := strings.TrimSuffix(base, path.Ext(base))
	if sourceKey == "" || name == "" || name == "." || name == "/" {
		return OutputKeys{}, errors.ValidationField("key", "cannot derive output name from key "+sourceKey)
	}
	return OutputKeys{
		Model: "models/" + name + ".glb",
		Image: "images/" + name + ".webp",
	}, nil
}

// SanitizeFilename strips path separators and parent references from an
// uploaded file name.
func SanitizeFilename(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "..", "")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	if s == "" || strings.Trim(s, "._") == "" {
		return "model"
	}
	return s
}

// Gzip applies transport compression to an artifact.
func Gzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(data) / 2)
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, errors.Compression(err, "processor.gzip")
	}
	if _, err := zw.Write(data); err != nil {
		return nil, errors.Compression(err, "processor.gzip")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Compression(err, "processor.gzip")
	}
	return buf.Bytes(), nil
}
