package loader

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-gl/mathgl/mgl32"

	"refinery/internal/mesh"
	"refinery/internal/pkg/errors"
)

// objCorner is one face corner: a position index and an optional normal
// index, both zero-based (-1 when absent).
type objCorner struct {
	v, n int
}

type objParser struct {
	positions []mgl32.Vec3
	normals   []mgl32.Vec3
	corners   []objCorner
	line      int
}

// parseOBJ reads Wavefront OBJ text. All objects and groups in the file are
// merged into one mesh; polygons are fan-triangulated. Texture coordinates,
// materials, lines and points are accepted and ignored.
func parseOBJ(data []byte) (*mesh.Mesh, error) {
	if !utf8.Valid(data) {
		return nil, errors.MalformedInput("loader.obj", "obj input is not valid UTF-8 text")
	}
	data = bytes.ReplaceAll(data, []byte("\\\r\n"), nil)
	data = bytes.ReplaceAll(data, []byte("\\\n"), nil)

	p := &objParser{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		p.line++
		if err := p.parseLine(sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.MalformedInput("loader.obj", "read obj: %v", err)
	}
	return p.build(), nil
}

func (p *objParser) errorf(format string, args ...any) error {
	return errors.MalformedInput("loader.obj", "line %d: "+format, append([]any{p.line}, args...)...)
}

func (p *objParser) parseLine(line string) error {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "v":
		// v x y z [w] and the common "v x y z r g b" color extension.
		if len(fields) < 4 {
			return p.errorf("vertex needs 3 coordinates, got %d", len(fields)-1)
		}
		v, err := parseFloats3(fields[1:4])
		if err != nil {
			return p.errorf("vertex: %v", err)
		}
		p.positions = append(p.positions, v)
	case "vn":
		if len(fields) < 4 {
			return p.errorf("normal needs 3 components, got %d", len(fields)-1)
		}
		n, err := parseFloats3(fields[1:4])
		if err != nil {
			return p.errorf("normal: %v", err)
		}
		p.normals = append(p.normals, n)
	case "f":
		return p.parseFace(fields[1:])
	default:
		// vt, o, g, s, usemtl, mtllib, l, p and free-form statements
		// carry nothing the mesh needs.
	}
	return nil
}

func (p *objParser) parseFace(tokens []string) error {
	if len(tokens) < 3 {
		return p.errorf("face needs at least 3 vertices, got %d", len(tokens))
	}
	poly := make([]objCorner, len(tokens))
	for i, tok := range tokens {
		c, err := p.parseCorner(tok)
		if err != nil {
			return err
		}
		poly[i] = c
	}
	for i := 1; i+1 < len(poly); i++ {
		p.corners = append(p.corners, poly[0], poly[i], poly[i+1])
	}
	return nil
}

// parseCorner handles v, v/vt, v//vn and v/vt/vn.
func (p *objParser) parseCorner(tok string) (objCorner, error) {
	parts := strings.Split(tok, "/")
	if len(parts) > 3 || parts[0] == "" {
		return objCorner{}, p.errorf("malformed face vertex %q", tok)
	}
	v, err := p.resolve(parts[0], len(p.positions), "vertex")
	if err != nil {
		return objCorner{}, err
	}
	c := objCorner{v: v, n: -1}
	if len(parts) == 3 && parts[2] != "" {
		n, err := p.resolve(parts[2], len(p.normals), "normal")
		if err != nil {
			return objCorner{}, err
		}
		c.n = n
	}
	return c, nil
}

// resolve converts a one-based or negative (relative) OBJ index to a
// zero-based index into a list of size count.
func (p *objParser) resolve(s string, count int, what string) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, p.errorf("bad %s index %q", what, s)
	}
	switch {
	case i > 0 && i <= count:
		return i - 1, nil
	case i < 0 && -i <= count:
		return count + i, nil
	default:
		return 0, p.errorf("%s index %d out of range (have %d)", what, i, count)
	}
}

// build emits an indexed mesh with one vertex per distinct corner. Normals
// are kept only when every corner carries one.
func (p *objParser) build() *mesh.Mesh {
	withNormals := len(p.corners) > 0
	for _, c := range p.corners {
		if c.n < 0 {
			withNormals = false
			break
		}
	}

	m := &mesh.Mesh{Indices: make([]uint32, 0, len(p.corners))}
	seen := make(map[objCorner]uint32, len(p.corners))
	for _, c := range p.corners {
		if !withNormals {
			c.n = -1
		}
		idx, ok := seen[c]
		if !ok {
			idx = uint32(len(m.Positions))
			seen[c] = idx
			m.Positions = append(m.Positions, p.positions[c.v])
			if withNormals {
				n := p.normals[c.n]
				if l := n.Len(); l > 0 {
					n = n.Mul(1 / l)
				}
				m.Normals = append(m.Normals, n)
			}
		}
		m.Indices = append(m.Indices, idx)
	}
	return m
}
