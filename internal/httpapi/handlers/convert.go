package handlers

import (
	"net/http"
	"path"
	"strconv"
	"strings"

	"refinery/internal/convert"
	"refinery/internal/export"
	"refinery/internal/httpkit"
	"refinery/internal/imaging"
	"refinery/internal/loader"
	"refinery/internal/pkg/errors"
)

const maxPreviewSide = 4096

// ConvertResponse is the JSON body of POST /convert. Byte slices are
// base64-encoded by encoding/json.
type ConvertResponse struct {
	Name      string `json:"name"`
	Format    string `json:"format"`
	Vertices  int    `json:"vertices"`
	Triangles int    `json:"triangles"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	GLB       []byte `json:"glb"`
	WebP      []byte `json:"webp"`
}

// Convert runs the conversion synchronously without touching storage.
//
// Form fields: file (required), format (stl|obj, defaults to the file
// extension), width, height, compression. Query ?output=glb|webp|png returns
// that artifact as the raw body instead of JSON.
func (h *Handler) Convert(w http.ResponseWriter, r *http.Request) error {
	output := strings.ToLower(r.URL.Query().Get("output"))
	switch output {
	case "", "json", "glb", "webp", "png":
	default:
		return errors.ValidationField("output", "output must be one of glb, webp, png")
	}

	up, err := h.readUpload(w, r)
	if err != nil {
		return err
	}

	format, err := formatOf(r.FormValue("format"), up.name)
	if err != nil {
		return err
	}

	opts := h.conv.Options()
	if opts.Width, err = intField(r, "width", opts.Width); err != nil {
		return err
	}
	if opts.Height, err = intField(r, "height", opts.Height); err != nil {
		return err
	}
	if opts.CompressionLevel, err = intField(r, "compression", opts.CompressionLevel); err != nil {
		return err
	}

	if opts.Width > maxPreviewSide || opts.Height > maxPreviewSide {
		return errors.Validationf("preview size is limited to %dx%d", maxPreviewSide, maxPreviewSide)
	}

	name := strings.TrimSuffix(path.Base(up.name), path.Ext(up.name))
	res, err := h.conv.ConvertWith(r.Context(), convert.Input{Data: up.data, Format: format, Name: name}, opts)
	if err != nil {
		return err
	}

	h.log.FromContext(r.Context()).Info("model converted",
		"name", up.name,
		"format", format.String(),
		"triangles", res.Triangles,
		"glb_bytes", len(res.GLB),
		"webp_bytes", len(res.WebP),
	)

	switch output {
	case "glb":
		httpkit.WriteBytes(w, http.StatusOK, export.ContentType, res.GLB)
	case "webp":
		httpkit.WriteBytes(w, http.StatusOK, imaging.ContentTypeWebP, res.WebP)
	case "png":
		httpkit.WriteBytes(w, http.StatusOK, imaging.ContentTypePNG, res.PNG)
	default:
		httpkit.WriteJSON(w, http.StatusOK, ConvertResponse{
			Name:      name,
			Format:    format.String(),
			Vertices:  res.Vertices,
			Triangles: res.Triangles,
			Width:     opts.Width,
			Height:    opts.Height,
			GLB:       res.GLB,
			WebP:      res.WebP,
		})
	}
	return nil
}

// formatOf prefers an explicit tag over the file name's extension.
func formatOf(tag, filename string) (loader.Format, error) {
	if strings.TrimSpace(tag) != "" {
		return loader.ParseFormat(tag)
	}
	return loader.FormatFromKey(filename)
}

func intField(r *http.Request, field string, def int) (int, error) {
	raw := strings.TrimSpace(r.FormValue(field))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.ValidationField(field, field+" must be an integer")
	}
	return v, nil
}
