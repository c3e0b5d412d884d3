package cli

import (
	"bytes"
	"fmt"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/roach88/fsidx/internal/module"
)

// StatsOptions holds flags for the stats command.
type StatsOptions struct {
	*RootOptions
	Metrics bool
}

// StatsResult is the stats command output.
type StatsResult struct {
	module.Stats
	Description string             `json:"description"`
	Metrics     string             `json:"-"`
	Samples     map[string]float64 `json:"metrics,omitempty"`
}

func (r StatsResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pool:        %s\n", r.Description)
	fmt.Fprintf(&b, "identifiers: %d rows for %d objects\n", r.Identifiers.Rows, r.Identifiers.Objects)
	fmt.Fprintf(&b, "fields:      %d rows for %d objects", r.Fields.Rows, r.Fields.Objects)
	if r.Metrics != "" {
		b.WriteString("\n\n")
		b.WriteString(strings.TrimRight(r.Metrics, "\n"))
	}
	return b.String()
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index sizes and pool state",
		Long: `Show how many objects and rows the identifier and field tables hold,
and the connection pool's state. With --metrics, also print this
process's metrics in the Prometheus text format.

Example:
  fsidx stats --db ./fsidx.db --objects ./objects
  fsidx stats --config fsidx.yaml --metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "include metrics in the Prometheus text format")

	return cmd
}

func runStats(cmd *cobra.Command, opts *StatsOptions) error {
	f := formatter(cmd, opts.RootOptions)
	m, closeFn, err := openModule(cmd, opts.RootOptions)
	if err != nil {
		return f.Fail("stats", err)
	}
	defer closeFn()

	st, err := m.Stats(commandContext(cmd))
	if err != nil {
		return f.Fail("stats", err)
	}
	res := StatsResult{Stats: st, Description: m.Pool().String()}
	if opts.Metrics {
		families, err := m.Registry().Gather()
		if err != nil {
			return f.Fail("gather metrics", err)
		}
		var buf bytes.Buffer
		for _, mf := range families {
			if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
				return f.Fail("encode metrics", err)
			}
		}
		res.Metrics = buf.String()
		res.Samples = samples(families)
	}
	return f.Success(res)
}

// samples flattens families into name{labels} keys. Histograms report
// their observation count.
func samples(families []*dto.MetricFamily) map[string]float64 {
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			if pairs := m.GetLabel(); len(pairs) > 0 {
				labels := make([]string, len(pairs))
				for i, lp := range pairs {
					labels[i] = fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue())
				}
				key += "{" + strings.Join(labels, ",") + "}"
			}
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				out[key] = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				out[key] = m.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				out[key] = float64(m.GetHistogram().GetSampleCount())
			default:
				out[key] = m.GetUntyped().GetValue()
			}
		}
	}
	return out
}
