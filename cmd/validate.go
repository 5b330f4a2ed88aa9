// cmd/validate.go
package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/catune/catune/deconv/ingest"
)

var (
	validateRows    int
	validateCols    int
	validateDType   string
	validateFortran bool
	validateSwap    bool
)

var validateCmd = &cobra.Command{
	Use:   "validate <raw-file>",
	Short: "Validate a raw little-endian matrix file before tuning",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		data, err := os.ReadFile(args[0])
		if err != nil {
			logrus.Fatalf("Read: %v", err)
		}
		m, err := ingest.Decode(ingest.RawArray{
			Data:         data,
			Shape:        [2]int{validateRows, validateCols},
			DType:        ingest.DType(validateDType),
			FortranOrder: validateFortran,
		}, validateSwap)
		if err != nil {
			logrus.Fatalf("Decode: %v", err)
		}
		rep := ingest.Validate(m)
		for _, w := range rep.Warnings {
			logrus.Warnf("warning: %s", w)
		}
		for _, e := range rep.Errors {
			logrus.Errorf("error: %s", e)
		}
		if !rep.Valid {
			logrus.Fatalf("%s failed validation", args[0])
		}
		logrus.Infof("%s: %d cells x %d frames, range [%.4g, %.4g], mean %.4g",
			args[0], m.Cells, m.Frames, rep.Stats.Min, rep.Stats.Max, rep.Stats.Mean)
	},
}

func init() {
	validateCmd.Flags().IntVar(&validateRows, "rows", 0, "Row count of the stored matrix")
	validateCmd.Flags().IntVar(&validateCols, "cols", 0, "Column count of the stored matrix")
	validateCmd.Flags().StringVar(&validateDType, "dtype", "float32", "Element type (float64, float32, int8..int32, uint8..uint32)")
	validateCmd.Flags().BoolVar(&validateFortran, "fortran", false, "Buffer is column-major")
	validateCmd.Flags().BoolVar(&validateSwap, "swap-axes", false, "Cells are on axis 1 rather than axis 0")

	rootCmd.AddCommand(validateCmd)
}
