package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/arengine/arengine/internal/dbio"
)

var inspectTarget string

// inspectCmd is a read-only debug print, not a report generator: an
// aggregate-then-per-entry summary printed to stdout.
var inspectCmd = &cobra.Command{
	Use:   "inspect <db.json>",
	Short: "Print a built database's metadata and, optionally, one target's vector sparsity",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		f, err := os.Open(args[0])
		if err != nil {
			logrus.Fatalf("open %s: %v", args[0], err)
		}
		defer f.Close()

		info, err := dbio.Inspect(f)
		if err != nil {
			logrus.Fatalf("inspect %s: %v", args[0], err)
		}

		fmt.Printf("schema_version=%s config_signature=%s\n", info.SchemaVersion, info.ConfigSignature)
		fmt.Printf("v=%d k=%d l=%d targets=%d\n", info.V, info.K, info.L, info.TargetCount)

		if inspectTarget == "" {
			return
		}
		for _, t := range info.Targets {
			if t.ID != inspectTarget {
				continue
			}
			fmt.Printf("target=%s bow_words=%d weighted_words=%d\n", t.ID, t.BoWWords, t.WeightedSize)
			return
		}
		logrus.Fatalf("target %q not found in %s", inspectTarget, args[0])
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectTarget, "target", "", "Print this target's BoW/weighted-vector sparsity")
}
