package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/esrlab/powerattrib/pkg/attrib"
)

type opts struct {
	outdir       string
	idtag        string
	resultPrefix string
	workloadCPU  int

	powerInterval     float64
	pqosInterval      float64
	turbostatInterval float64
	tolerance         float64
}

func main() {
	env := viper.New()
	for key, envVar := range map[string]string{
		"outdir":                 "OUTDIR",
		"idtag":                  "IDTAG",
		"result_prefix":          "RESULT_PREFIX",
		"workload_cpu":           "WORKLOAD_CPU",
		"pcm_power_interval_sec": "PCM_POWER_INTERVAL_SEC",
		"pqos_interval_sec":      "PQOS_INTERVAL_SEC",
		"ts_interval":            "TS_INTERVAL",
	} {
		_ = env.BindEnv(key, envVar)
	}

	var o opts
	root := &cobra.Command{
		Use:   "powerattrib",
		Short: "Attribute package and DRAM power to one monitored workload core",
		Long: `powerattrib is a batch post-processor for one telemetry run. It reads the
pcm-power CSV (required) plus the turbostat, pqos, and pcm-memory CSVs
(optional), aligns them onto the power sampling windows, and splits package
and DRAM watts between the monitored workload core and the rest of the
system. The power CSV is rewritten in place with two appended columns
(Actual Watts, Actual DRAM Watts) and a per-window diagnostic table is
written next to it as <prefix>_attrib.csv.

Configuration comes from the environment (OUTDIR, IDTAG, RESULT_PREFIX,
WORKLOAD_CPU, PCM_POWER_INTERVAL_SEC, PQOS_INTERVAL_SEC, TS_INTERVAL);
flags override the environment.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(o, env)
		},
	}

	root.Flags().StringVar(&o.outdir, "outdir", env.GetString("outdir"), "run output directory (env OUTDIR)")
	root.Flags().StringVar(&o.idtag, "idtag", env.GetString("idtag"), "run identifier used in file names (env IDTAG)")
	root.Flags().StringVar(&o.resultPrefix, "result-prefix", env.GetString("result_prefix"), "explicit path prefix overriding outdir/idtag (env RESULT_PREFIX)")
	root.Flags().IntVar(&o.workloadCPU, "workload-cpu", env.GetInt("workload_cpu"), "monitored workload core id (env WORKLOAD_CPU)")
	root.Flags().Float64Var(&o.powerInterval, "power-interval", 0, "pcm-power sampling interval in seconds (env PCM_POWER_INTERVAL_SEC)")
	root.Flags().Float64Var(&o.pqosInterval, "pqos-interval", 0, "pqos sampling interval in seconds (env PQOS_INTERVAL_SEC; defaults to power interval)")
	root.Flags().Float64Var(&o.turbostatInterval, "turbostat-interval", 0, "turbostat sampling interval in seconds (env TS_INTERVAL)")
	root.Flags().Float64Var(&o.tolerance, "align-tolerance", attrib.DefaultAlignTolerance, "nearest-neighbor tolerance for pqos/pcm-memory alignment, seconds")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(o opts, env *viper.Viper) error {
	logger := newLogger()
	defer logger.Sync()
	log := logger.Sugar()

	if o.outdir == "" || o.idtag == "" {
		log.Errorf("OUTDIR or IDTAG not set; skipping attribution step")
		return nil
	}

	powerInterval := resolveInterval(o.powerInterval, env, "pcm_power_interval_sec", attrib.DefaultInterval)
	pqosInterval := resolveInterval(o.pqosInterval, env, "pqos_interval_sec", powerInterval)
	tsInterval := resolveInterval(o.turbostatInterval, env, "ts_interval", attrib.DefaultInterval)

	pfxSource := o.resultPrefix
	if pfxSource == "" {
		pfxSource = o.idtag
	}
	pfx := filepath.Base(pfxSource)
	prefixPath := func(suffix string) string {
		if o.resultPrefix != "" {
			return o.resultPrefix + suffix
		}
		return filepath.Join(o.outdir, o.idtag+suffix)
	}

	cfg := attrib.Config{
		WorkloadCPU:       o.workloadCPU,
		PowerPath:         prefixPath("_pcm_power.csv"),
		TurbostatPath:     prefixPath("_turbostat.csv"),
		PqosPath:          filepath.Join(o.outdir, pfx+"_pqos.csv"),
		SystemMemoryPath:  filepath.Join(o.outdir, pfx+"_pcm_memory_dram.csv"),
		SummaryPath:       prefixPath("_attrib.csv"),
		PowerInterval:     powerInterval,
		PqosInterval:      pqosInterval,
		TurbostatInterval: tsInterval,
		AlignTolerance:    o.tolerance,
	}

	if err := attrib.New(cfg, log).Run(); err != nil {
		log.Errorf("attribution failed: %v", err)
		return err
	}
	return nil
}

// resolveInterval applies the precedence flag > env > fallback, rejecting
// non-positive and unparseable values at each step.
func resolveInterval(flagValue float64, env *viper.Viper, key string, fallback float64) float64 {
	const eps = 1e-9
	if flagValue > eps {
		return flagValue
	}
	raw := strings.TrimSpace(env.GetString(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= eps {
		return fallback
	}
	return v
}

// newLogger builds a console logger on stdout; the log stream is a side
// channel for external collection, not part of the functional contract.
func newLogger() *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stdout"}
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
