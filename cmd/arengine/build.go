package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/arengine/arengine/config"
	"github.com/arengine/arengine/internal/bow"
	"github.com/arengine/arengine/internal/cvprim"
	"github.com/arengine/arengine/internal/dbio"
	"github.com/arengine/arengine/internal/extract"
	"github.com/arengine/arengine/store"
)

var (
	buildImagesDir string
	buildOut       string
	buildConfig    string
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build a vocabulary database from a directory of reference images",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.DefaultBuildConfig()
		if buildConfig != "" {
			loaded, err := config.LoadBuildConfig(buildConfig)
			if err != nil {
				logrus.Fatalf("load build config: %v", err)
			}
			cfg = loaded
		}

		entries, err := os.ReadDir(buildImagesDir)
		if err != nil {
			logrus.Fatalf("read images dir %s: %v", buildImagesDir, err)
		}
		var names []string
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if ext == ".png" || ext == ".jpg" || ext == ".jpeg" {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		if len(names) == 0 {
			logrus.Fatalf("no .png/.jpg images found in %s", buildImagesDir)
		}

		// The real brisk/orb/... detector named in DetectorConfig is
		// out of scope -- it is consumed through
		// cvprim.Detector wherever the engine runs. The CLI has no
		// production binding for that interface, so it builds with
		// the deterministic fake detector, the same placeholder the
		// test suite uses, and logs that choice loudly.
		logrus.Warn("build: using cvprim.DefaultFakeDetector as a placeholder cvprim.Detector binding")
		extractor := extract.New(cvprim.FakeImagePrimitives{}, cvprim.DefaultFakeDetector())

		targets := make([]bow.BuildTarget, 0, len(names))
		for _, name := range names {
			path := filepath.Join(buildImagesDir, name)
			frame, err := loadRGBAFrame(path)
			if err != nil {
				logrus.Fatalf("load %s: %v", path, err)
			}
			kps, desc, err := extractor.Extract(frame, cfg.Preprocess, cfg.Detector.MaxFeatures)
			if err != nil {
				logrus.Fatalf("extract %s: %v", path, err)
			}
			id := strings.TrimSuffix(name, filepath.Ext(name))
			targets = append(targets, bow.BuildTarget{ID: store.TargetID(id), Keypoints: kps, Descriptors: desc, Width: frame.Width, Height: frame.Height})
			logrus.WithFields(logrus.Fields{"target": id, "keypoints": len(kps)}).Info("build: extracted target")
		}

		tgtStore := store.New()
		db, err := bow.NewBuilder(cfg.Seed).Build(targets, cfg, tgtStore, nil)
		if err != nil {
			logrus.Fatalf("build vocabulary: %v", err)
		}
		logrus.WithFields(logrus.Fields{"v": db.Metadata.V, "k": db.Metadata.K, "l": db.Metadata.L, "targets": len(targets)}).Info("build: vocabulary built")

		out, err := os.Create(buildOut)
		if err != nil {
			logrus.Fatalf("create %s: %v", buildOut, err)
		}
		defer out.Close()
		if err := dbio.Export(out, db, tgtStore); err != nil {
			logrus.Fatalf("export database: %v", err)
		}
		fmt.Printf("wrote %s (%d targets, %d words)\n", buildOut, len(targets), db.Metadata.V)
	},
}

func init() {
	buildCmd.Flags().StringVar(&buildImagesDir, "images", "", "Directory of reference target images (.png/.jpg)")
	buildCmd.Flags().StringVar(&buildOut, "out", "arengine.db.json", "Output database path")
	buildCmd.Flags().StringVar(&buildConfig, "config", "", "Optional build config YAML path")
	buildCmd.MarkFlagRequired("images")
}
