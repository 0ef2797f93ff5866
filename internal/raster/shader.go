package raster

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"refinery/internal/scene"
)

type directLight struct {
	color    mgl32.Vec3
	position mgl32.Vec3
	// spot cone; coneCos == -1 disables the cone test
	direction mgl32.Vec3
	coneCos   float32
}

// phongShader shades with a hemisphere light plus the rig's spot and point
// lights: albedo * (ambient + sum(N.L * light)) + Blinn-Phong specular.
// Lighting is evaluated on the raw color values, and both faces are lit by
// flipping the normal of back-facing fragments.
func phongShader(s *scene.Scene, eye mgl32.Vec3) FragmentShader {
	mat := s.Material
	rig := s.Lights
	albedo := mat.Color.Vec3()
	specular := mat.Specular.Vec3()
	shininess := mat.Shininess

	hemi := rig.Hemisphere
	sky := hemi.Sky.Vec3().Mul(hemi.Intensity)
	ground := hemi.Ground.Vec3().Mul(hemi.Intensity)
	up := hemi.Up.Normalize()

	lights := []directLight{
		{
			color:     rig.Spot.Color.Vec3().Mul(rig.Spot.Intensity),
			position:  rig.Spot.Position,
			direction: rig.Spot.Position.Sub(rig.Spot.Target).Normalize(),
			coneCos:   float32(math.Cos(float64(rig.Spot.Angle))),
		},
		{
			color:    rig.Point.Color.Vec3().Mul(rig.Point.Intensity),
			position: rig.Point.Position,
			coneCos:  -1,
		},
	}

	var fog *scene.Fog
	if mat.Fog {
		fog = s.Fog
	}

	return func(world, normal mgl32.Vec3, front bool) mgl32.Vec4 {
		n := safeNormalize(normal)
		if !front {
			n = n.Mul(-1)
		}
		view := safeNormalize(eye.Sub(world))

		w := 0.5*n.Dot(up) + 0.5
		irradiance := ground.Add(sky.Sub(ground).Mul(w))
		diffuse := irradiance
		var spec mgl32.Vec3

		for _, l := range lights {
			dir := safeNormalize(l.position.Sub(world))
			if l.coneCos > -1 && dir.Dot(l.direction) <= l.coneCos {
				continue
			}
			dotNL := n.Dot(dir)
			if dotNL <= 0 {
				continue
			}
			radiance := l.color.Mul(dotNL)
			diffuse = diffuse.Add(radiance)

			half := safeNormalize(dir.Add(view))
			dotNH := max(0, n.Dot(half))
			dotLH := max(0, dir.Dot(half))
			fresnel := float32(math.Pow(float64(1-dotLH), 5))
			f := specular.Add(mgl32.Vec3{1, 1, 1}.Sub(specular).Mul(fresnel))
			d := (shininess*0.5 + 1) * float32(math.Pow(float64(dotNH), float64(shininess)))
			spec = spec.Add(mulVec(radiance, f).Mul(0.25 * d))
		}

		out := mulVec(albedo, diffuse).Add(spec)
		if fog != nil {
			dist := eye.Sub(world).Len()
			t := smoothstep(fog.Near, fog.Far, dist)
			out = out.Add(fog.Color.Vec3().Sub(out).Mul(t))
		}
		return mgl32.Vec4{clamp01(out[0]), clamp01(out[1]), clamp01(out[2]), 1}
	}
}

func mulVec(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{a[0] * b[0], a[1] * b[1], a[2] * b[2]}
}

func safeNormalize(v mgl32.Vec3) mgl32.Vec3 {
	l := v.Len()
	if l == 0 || isNaN(l) {
		return mgl32.Vec3{}
	}
	return v.Mul(1 / l)
}

func smoothstep(e0, e1, x float32) float32 {
	if e1 <= e0 {
		if x < e0 {
			return 0
		}
		return 1
	}
	t := clamp01((x - e0) / (e1 - e0))
	return t * t * (3 - 2*t)
}
