// Package convert runs the storage-free part of a conversion: parse, build
// the scene, then export and render concurrently from the same scene.
package convert

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"refinery/internal/camera"
	"refinery/internal/export"
	"refinery/internal/imaging"
	"refinery/internal/loader"
	"refinery/internal/pkg/errors"
	"refinery/internal/pkg/logger"
	"refinery/internal/raster"
	"refinery/internal/scene"
)

// Stage names reported to the StageObserver.
const (
	StageParse  = "parse"
	StageScene  = "scene"
	StageExport = "export"
	StageRender = "render"
	StageEncode = "encode"
)

// StageObserver is told how long each stage took.
type StageObserver func(stage string, d time.Duration)

// Options are the per-converter defaults.
type Options struct {
	Width            int
	Height           int
	CompressionLevel int
	Colors           scene.ColorConfig
}

// Validate checks dimensions and compression level.
func (o Options) Validate() error {
	if o.Width <= 0 {
		return errors.InvalidConfig("preview_width", "preview width must be positive")
	}
	if o.Height <= 0 {
		return errors.InvalidConfig("preview_height", "preview height must be positive")
	}
	if o.CompressionLevel < 0 || o.CompressionLevel > export.MaxCompressionLevel {
		return errors.InvalidConfig("compression_level", "compression level must be between 0 and 10")
	}
	return nil
}

// Input is one source model.
type Input struct {
	Data   []byte
	Format loader.Format
	// Name labels the exported mesh; usually the key's base name.
	Name string
}

// Result holds every artifact of one conversion.
type Result struct {
	GLB       []byte
	PNG       []byte
	WebP      []byte
	Vertices  int
	Triangles int
}

// Converter is safe for concurrent use; every call builds its own scene and
// acquires its own render context.
type Converter struct {
	renderer *raster.Renderer
	exporter *export.Exporter
	opts     Options
	observe  StageObserver
	log      *logger.Logger
}

// New creates a Converter that renders through provider.
func New(provider raster.ContextProvider, opts Options, log *logger.Logger) (*Converter, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Converter{
		renderer: raster.NewRenderer(provider, log),
		exporter: export.New(log),
		opts:     opts,
		observe:  func(string, time.Duration) {},
		log:      log.WithComponent("convert"),
	}, nil
}

// WithObserver returns a copy of c that reports stage timings to fn.
func (c *Converter) WithObserver(fn StageObserver) *Converter {
	cp := *c
	if fn != nil {
		cp.observe = fn
	}
	return &cp
}

// Options returns the converter defaults.
func (c *Converter) Options() Options { return c.opts }

// Convert runs the pipeline with the converter defaults.
func (c *Converter) Convert(ctx context.Context, in Input) (*Result, error) {
	return c.ConvertWith(ctx, in, c.opts)
}

// ConvertWith runs the pipeline with explicit options. Export and render run
// in parallel; the first failure cancels the other branch and is returned.
func (c *Converter) ConvertWith(ctx context.Context, in Input, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	log := c.log.FromContext(ctx)

	start := time.Now()
	m, err := loader.Load(in.Data, in.Format)
	if err != nil {
		return nil, err
	}
	c.observe(StageParse, time.Since(start))
	log.Debug("model parsed", "format", in.Format.String(), "vertices", m.VertexCount(), "triangles", m.TriangleCount())

	start = time.Now()
	sc, err := scene.Build(m, opts.Colors)
	if err != nil {
		return nil, err
	}
	c.observe(StageScene, time.Since(start))

	res := &Result{Vertices: m.VertexCount(), Triangles: m.TriangleCount()}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		t := time.Now()
		glb, err := c.exporter.Export(sc, export.Options{CompressionLevel: opts.CompressionLevel, Name: in.Name})
		if err != nil {
			return err
		}
		c.observe(StageExport, time.Since(t))
		res.GLB = glb
		return nil
	})

	g.Go(func() error {
		t := time.Now()
		cam := camera.Frame(sc.Bounds(), opts.Width, opts.Height)
		fb, err := c.renderer.Render(gctx, sc, cam, opts.Width, opts.Height)
		if err != nil {
			return err
		}
		c.observe(StageRender, time.Since(t))

		t = time.Now()
		enc, err := imaging.Encode(fb)
		if err != nil {
			return err
		}
		c.observe(StageEncode, time.Since(t))
		res.PNG, res.WebP = enc.PNG, enc.WebP
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	log.Debug("model converted", "glb_bytes", len(res.GLB), "webp_bytes", len(res.WebP))
	return res, nil
}
