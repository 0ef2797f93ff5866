package processor

import (
	"context"
	"path"
	"strings"
	"time"

	"refinery/internal/convert"
	"refinery/internal/metrics"
)

// ConverterAdapter runs the in-process conversion for a job and maps the
// converter's stage reports onto job states and stage metrics.
type ConverterAdapter struct {
	conv    *convert.Converter
	metrics *metrics.Collector
}

func NewConverterAdapter(conv *convert.Converter, m *metrics.Collector) *ConverterAdapter {
	return &ConverterAdapter{conv: conv, metrics: m}
}

func (a *ConverterAdapter) Convert(ctx context.Context, job *Job, data []byte) (*convert.Result, error) {
	observer := func(stage string, d time.Duration) {
		a.metrics.ObserveStage(stage, d)
		if s, ok := stageStates[stage]; ok {
			job.advance(s)
		}
	}
	name := path.Base(job.SourceKey)
	return a.conv.WithObserver(observer).Convert(ctx, convert.Input{
		Data:   data,
		Format: job.Format,
		Name:   strings.TrimSuffix(name, path.Ext(name)),
	})
}

var stageStates = map[string]State{
	convert.StageParse:  StateParsed,
	convert.StageScene:  StateScened,
	convert.StageExport: StateExported,
	convert.StageRender: StateRendered,
	convert.StageEncode: StateEncoded,
}
