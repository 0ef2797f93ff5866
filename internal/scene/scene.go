// Package scene assembles the render/export scene for one conversion: a
// single mesh with a flat material, a fixed light rig, and optional
// background and fog colors. A Scene is built per job and never shared.
package scene

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"refinery/internal/mesh"
)

// DefaultMeshColor is used when ColorConfig.Mesh is empty.
const DefaultMeshColor = "#ffffff"

// ColorConfig carries the user-facing color strings.
type ColorConfig struct {
	Mesh       string `yaml:"mesh"`
	Background string `yaml:"background"`
	Fog        string `yaml:"fog"`
}

// Material is a flat Phong material. Fog is false for every scene we build,
// so fog never tints the mesh.
type Material struct {
	Color     Color
	Specular  Color
	Shininess float32
	Fog       bool
}

// Fog is linear distance fog.
type Fog struct {
	Color     Color
	Near, Far float32
}

// HemisphereLight blends Sky and Ground by the normal's alignment with Up.
type HemisphereLight struct {
	Sky, Ground Color
	Intensity   float32
	Up          mgl32.Vec3
}

// SpotLight is a hard-edged cone light with no distance falloff.
type SpotLight struct {
	Color     Color
	Intensity float32
	Position  mgl32.Vec3
	Target    mgl32.Vec3
	Angle     float32
}

// PointLight has no distance falloff.
type PointLight struct {
	Color     Color
	Intensity float32
	Position  mgl32.Vec3
}

// Lights is the fixed preview rig.
type Lights struct {
	Hemisphere HemisphereLight
	Spot       SpotLight
	Point      PointLight
}

// DefaultLights returns the fixed rig used for every preview.
func DefaultLights() Lights {
	return Lights{
		Hemisphere: HemisphereLight{
			Sky:       Hex(0xffffff),
			Ground:    Hex(0x080820),
			Intensity: 0.5,
			Up:        mgl32.Vec3{0, 1, 0},
		},
		Spot: SpotLight{
			Color:     Hex(0xffffff),
			Intensity: 0.5,
			Position:  mgl32.Vec3{-500, 500, 500},
			Angle:     math.Pi / 3,
		},
		Point: PointLight{
			Color:     Hex(0xffffff),
			Intensity: 0.5,
			Position:  mgl32.Vec3{2000, -2000, 2000},
		},
	}
}

// Scene owns exactly one mesh and material.
type Scene struct {
	Mesh       *mesh.Mesh
	Material   Material
	Lights     Lights
	Background *Color
	Fog        *Fog
}

// Build validates the colors and assembles a scene around m. It performs no
// I/O; the only failure is an invalid color (INVALID_CONFIG).
func Build(m *mesh.Mesh, cfg ColorConfig) (*Scene, error) {
	meshColor := cfg.Mesh
	if meshColor == "" {
		meshColor = DefaultMeshColor
	}
	base, err := ParseColor("mesh", meshColor)
	if err != nil {
		return nil, err
	}
	bg, err := parseOptionalColor("background", cfg.Background)
	if err != nil {
		return nil, err
	}
	fogColor, err := parseOptionalColor("fog", cfg.Fog)
	if err != nil {
		return nil, err
	}

	s := &Scene{
		Mesh: m,
		Material: Material{
			Color:     base,
			Specular:  Hex(0x111111),
			Shininess: 30,
		},
		Lights:     DefaultLights(),
		Background: bg,
	}
	if fogColor != nil {
		s.Fog = &Fog{Color: *fogColor, Near: 1, Far: 1000}
	}
	return s, nil
}

// Bounds recomputes the mesh bounding box.
func (s *Scene) Bounds() mesh.BoundingBox {
	if s == nil {
		return mesh.EmptyBox()
	}
	return s.Mesh.Bounds()
}

// HasGeometry reports whether there is at least one triangle.
func (s *Scene) HasGeometry() bool {
	return s != nil && s.Mesh != nil && !s.Mesh.IsEmpty()
}
