package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ajitpratap0/reservoir/pkg/orchestrator"
)

var version = "0.1.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// newViper reads RESERVOIR_* environment variables; flag keys map to them
// with dashes and dots replaced by underscores.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("RESERVOIR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

func newRootCommand() *cobra.Command {
	v := newViper()

	root := &cobra.Command{
		Use:   "reservoir",
		Short: "Reservoir - adaptive resource pooling and memory pressure management",
		Long: `Reservoir runs size-classified buffer and object pools, a memory pressure
manager and a sampled performance monitor under named configuration profiles.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.String("profile", orchestrator.ProfileStandard, "Configuration profile (standard, high, extreme, test)")
	flags.String("config", "", "YAML configuration file; overrides --profile")
	flags.String("log-level", "", "Log level override (debug, info, warn, error)")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	flags.String("trace-exporter", "none", "Trace exporter (none, stdout)")
	flags.String("sampler", "runtime", "Memory sampler (runtime, process)")
	_ = v.BindPFlags(flags)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Reservoir v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "profiles",
		Short: "List configuration profiles",
		Run: func(cmd *cobra.Command, args []string) {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tGC\tSAMPLE RATE\tPOOL SIZE\tDESCRIPTION")
			for _, p := range orchestrator.Profiles() {
				cfg := p.Config()
				fmt.Fprintf(w, "%s\t%s\t%g\t%d\t%s\n",
					p.Name, cfg.Memory.GCStrategy, cfg.Monitor.SampleRate, cfg.Buffer.MaxPoolSize, p.Description)
			}
			_ = w.Flush()
		},
	})

	root.AddCommand(newRunCommand(v))
	root.AddCommand(newReportCommand(v))
	return root
}
