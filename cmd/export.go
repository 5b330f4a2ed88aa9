// cmd/export.go
package cmd

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/catune/catune/deconv"
	"github.com/catune/catune/deconv/exportfmt"
)

// appVersion is stamped into exported settings files.
const appVersion = "1.1.0"

var (
	exportOut     string
	exportTauRise float64
	exportTauDec  float64
	exportLambda  float64
	exportRate    float64
	exportFilter  bool
	exportSource  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a shareable settings file for the given parameters",
	Run: func(cmd *cobra.Command, args []string) {
		settings, err := exportfmt.Build(deconv.Params{
			TauRise:       exportTauRise,
			TauDecay:      exportTauDec,
			Lambda:        exportLambda,
			SampleRate:    exportRate,
			FilterEnabled: exportFilter,
		}, exportfmt.Metadata{SourceFilename: exportSource}, appVersion, time.Now())
		if err != nil {
			logrus.Fatalf("Export: %v", err)
		}
		data, err := settings.Marshal()
		if err != nil {
			logrus.Fatalf("Export: %v", err)
		}
		if exportOut == "-" {
			os.Stdout.Write(data)
			os.Stdout.WriteString("\n")
			return
		}
		if err := os.WriteFile(exportOut, data, 0o644); err != nil {
			logrus.Fatalf("Export: %v", err)
		}
		logrus.Infof("Wrote %s", exportOut)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "catune-settings.json", "Output path, or - for stdout")
	exportCmd.Flags().Float64Var(&exportTauRise, "tau-rise", 0.02, "Kernel rise time constant (s)")
	exportCmd.Flags().Float64Var(&exportTauDec, "tau-decay", 0.4, "Kernel decay time constant (s)")
	exportCmd.Flags().Float64Var(&exportLambda, "lambda", 0.01, "L1 sparsity weight")
	exportCmd.Flags().Float64Var(&exportRate, "fs", 30, "Imaging rate (Hz)")
	exportCmd.Flags().BoolVar(&exportFilter, "filter", false, "Filter flag to record")
	exportCmd.Flags().StringVar(&exportSource, "source", "", "Source recording filename for metadata")

	rootCmd.AddCommand(exportCmd)
}
