package metrics

import (
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
)

var Module = fx.Module("metrics",
	fx.Provide(
		func() *prom.Registry {
			reg := prom.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			return reg
		},
		NewPrometheusRecorder,
		fx.Annotate(
			func(p *PrometheusRecorder) HubRecorder { return p },
			fx.As(new(HubRecorder)),
		),
	),
)
