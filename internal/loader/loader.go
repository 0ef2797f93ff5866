// Package loader parses raw model files into a mesh.Mesh.
//
// Each supported format is a Format value with exactly one parse function,
// selected by the switch in Load. Adding a format means adding a constant,
// its tag, and a case.
package loader

import (
	"path"
	"strings"

	"refinery/internal/mesh"
	"refinery/internal/pkg/errors"
)

// Format identifies a source model format.
type Format int

const (
	FormatUnknown Format = iota
	FormatSTL
	FormatOBJ
)

var formatTags = map[string]Format{
	"stl": FormatSTL,
	"obj": FormatOBJ,
}

// String returns the lowercase extension tag of the format.
func (f Format) String() string {
	switch f {
	case FormatSTL:
		return "stl"
	case FormatOBJ:
		return "obj"
	default:
		return "unknown"
	}
}

// ContentType is the MIME type used when the source file is stored.
func (f Format) ContentType() string {
	switch f {
	case FormatSTL:
		return "model/stl"
	case FormatOBJ:
		return "model/obj"
	default:
		return "application/octet-stream"
	}
}

// ParseFormat maps a format tag such as "STL" or ".obj" to a Format.
func ParseFormat(tag string) (Format, error) {
	t := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tag), "."))
	if f, ok := formatTags[t]; ok {
		return f, nil
	}
	return FormatUnknown, errors.UnsupportedFormat(t)
}

// FormatFromKey detects the format from an object key's extension.
func FormatFromKey(key string) (Format, error) {
	return ParseFormat(path.Ext(key))
}

// Load parses data as the given format. STL is read as a binary buffer (with
// an ASCII fallback); OBJ must be UTF-8 text.
func Load(data []byte, f Format) (*mesh.Mesh, error) {
	var (
		m   *mesh.Mesh
		err error
	)
	switch f {
	case FormatSTL:
		m, err = parseSTL(data)
	case FormatOBJ:
		m, err = parseOBJ(data)
	default:
		return nil, errors.UnsupportedFormat(f.String())
	}
	if err != nil {
		return nil, err
	}
	if verr := m.Validate(); verr != nil {
		return nil, errors.MalformedInput("loader."+f.String(), "%s", verr.Error())
	}
	return m, nil
}
