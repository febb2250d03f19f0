package cli

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/localservice/internal/service"
	"github.com/mesh-intelligence/localservice/pkg/types"
)

// statsReport is the output of the stats command.
type statsReport struct {
	Path        string              `json:"path" yaml:"path"`
	RecordTypes map[string]int      `json:"record_types" yaml:"record_types"`
	Handles     int                 `json:"handles" yaml:"handles"`
	Monitoring  types.MonitoringLog `json:"monitoring" yaml:"monitoring"`
}

// metricSample is one labelled value of a gathered metric family.
type metricSample struct {
	Labels map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
	Value  float64           `json:"value" yaml:"value"`
}

type metricFamily struct {
	Name    string         `json:"name" yaml:"name"`
	Type    string         `json:"type" yaml:"type"`
	Help    string         `json:"help" yaml:"help"`
	Samples []metricSample `json:"samples" yaml:"samples"`
}

func newStatsCmd(a *app) *cobra.Command {
	var metrics bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show record counts and access layer counters",
		Long: `Stats counts the records of every stored type through the access layer
and prints the counts with the layer's monitoring log. Monitoring is
always on for this command. With --metrics the counters are printed as
gathered Prometheus metric families instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.monitor = true
			return a.withService(func(svc *service.Service) error {
				counts, err := countTypes(cmd, svc)
				if err != nil {
					return err
				}
				if metrics {
					families, err := gather(svc)
					if err != nil {
						return err
					}
					return a.render(cmd, families)
				}

				cfg, err := a.serviceConfig()
				if err != nil {
					return err
				}
				return a.render(cmd, statsReport{
					Path:        cfg.DataDir,
					RecordTypes: counts,
					Handles:     svc.GlobalInstanceCount(),
					Monitoring:  svc.GetMonitoringLog(),
				})
			})
		},
	}
	cmd.Flags().BoolVar(&metrics, "metrics", false, "print Prometheus metric families")
	return cmd
}

// countTypes sizes every stored record type through GetSize.
func countTypes(cmd *cobra.Command, svc *service.Service) (map[string]int, error) {
	stored, err := svc.RecordTypes(cmd.Context())
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	counts := make(map[string]int, len(stored))
	for name := range stored {
		rt, err := recordType(name)
		if err != nil {
			return nil, err
		}
		stream, err := svc.GetSize(cmd.Context(), rt, nil)
		if err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
		n, err := stream.First(cmd.Context())
		if err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
		counts[name] = n
	}
	return counts, nil
}

// gather collects the layer's metrics through a registry.
func gather(svc *service.Service) ([]metricFamily, error) {
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(svc.Collector()); err != nil {
		return nil, fmt.Errorf("register collector: %w", err)
	}
	mfs, err := reg.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}

	out := make([]metricFamily, 0, len(mfs))
	for _, mf := range mfs {
		fam := metricFamily{
			Name: mf.GetName(),
			Type: mf.GetType().String(),
			Help: mf.GetHelp(),
		}
		for _, m := range mf.GetMetric() {
			fam.Samples = append(fam.Samples, metricSample{
				Labels: labels(m),
				Value:  sampleValue(mf.GetType(), m),
			})
		}
		out = append(out, fam)
	}
	return out, nil
}

func labels(m *dto.Metric) map[string]string {
	if len(m.GetLabel()) == 0 {
		return nil
	}
	out := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		out[lp.GetName()] = lp.GetValue()
	}
	return out
}

func sampleValue(t dto.MetricType, m *dto.Metric) float64 {
	switch t {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue()
	default:
		return m.GetUntyped().GetValue()
	}
}
