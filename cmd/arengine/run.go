package cmd

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/arengine/arengine/config"
	"github.com/arengine/arengine/engine"
	"github.com/arengine/arengine/internal/cvprim"
	"github.com/arengine/arengine/internal/dbio"
	"github.com/arengine/arengine/internal/extract"
	"github.com/arengine/arengine/internal/flow"
	"github.com/arengine/arengine/internal/match"
	"github.com/arengine/arengine/internal/memorypool"
)

var (
	runDB           string
	runFramesDir    string
	runEngineConfig string
	runBuildConfig  string
	runSeed         int64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Replay a directory of frame images through the Engine against a built database",
	Run: func(cmd *cobra.Command, args []string) {
		buildCfg := config.DefaultBuildConfig()
		if runBuildConfig != "" {
			loaded, err := config.LoadBuildConfig(runBuildConfig)
			if err != nil {
				logrus.Fatalf("load build config: %v", err)
			}
			buildCfg = loaded
		}

		dbFile, err := os.Open(runDB)
		if err != nil {
			logrus.Fatalf("open database %s: %v", runDB, err)
		}
		db, tgtStore, err := dbio.Import(dbFile, buildCfg.Signature())
		dbFile.Close()
		if err != nil {
			logrus.Fatalf("import database: %v", err)
		}
		logrus.WithFields(logrus.Fields{"targets": tgtStore.Count(), "v": db.Metadata.V}).Info("run: database loaded")

		engCfg := config.DefaultEngineConfig()
		if runEngineConfig != "" {
			loaded, err := config.LoadEngineConfig(runEngineConfig)
			if err != nil {
				logrus.Fatalf("load engine config: %v", err)
			}
			engCfg = loaded
		}

		rng := rand.New(rand.NewPCG(uint64(runSeed), uint64(runSeed)^0x2545F4914F6CDD1D))
		rngFn := func(n int) int { return rng.IntN(n) }

		logrus.Warn("run: using cvprim fake detector/matcher/flow primitives as placeholder bindings")
		pool := memorypool.New()
		images := cvprim.FakeImagePrimitives{}
		extractor := extract.New(images, cvprim.DefaultFakeDetector())
		matcher := match.New(cvprim.FakeMatcher{}, rngFn)
		tracker := flow.New(cvprim.DefaultFakeCornerDetector(), cvprim.DefaultFakeOpticalFlow(), rngFn, nil)

		eng, err := engine.New(pool, tgtStore, images, extractor, matcher, tracker, db, engCfg, config.DefaultPreprocessConfig(), nil)
		if err != nil {
			logrus.Fatalf("construct engine: %v", err)
		}

		entries, err := os.ReadDir(runFramesDir)
		if err != nil {
			logrus.Fatalf("read frames dir %s: %v", runFramesDir, err)
		}
		var names []string
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if !e.IsDir() && (ext == ".png" || ext == ".jpg" || ext == ".jpeg") {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		if len(names) == 0 {
			logrus.Fatalf("no .png/.jpg frames found in %s", runFramesDir)
		}

		eng.StartTracking()
		for i, name := range names {
			path := filepath.Join(runFramesDir, name)
			frame, err := loadRGBAFrame(path)
			if err != nil {
				logrus.Fatalf("load %s: %v", path, err)
			}
			results, err := eng.ProcessFrame(frame.Data, frame.Width, frame.Height, 4)
			if err != nil {
				logrus.Fatalf("process frame %d (%s): %v", i, name, err)
			}
			stats := eng.LastFrameStats()
			fmt.Printf("frame %d (%s): %d results, detection=%.2fms tracking=%.2fms total=%.2fms\n",
				i, name, len(results), stats.DetectionMs, stats.TrackingMs, stats.TotalMs)
			for _, r := range results {
				fmt.Printf("  target=%s success=%t mode=%s confidence=%.3f corners=%v\n",
					r.TargetID, r.Success, r.Mode, r.Confidence, r.Corners)
			}
		}
		eng.StopTracking()
	},
}

func init() {
	runCmd.Flags().StringVar(&runDB, "db", "", "Built vocabulary database path (from arengine build)")
	runCmd.Flags().StringVar(&runFramesDir, "frames", "", "Directory of sequential frame images (.png/.jpg)")
	runCmd.Flags().StringVar(&runEngineConfig, "config", "", "Optional engine config YAML path")
	runCmd.Flags().StringVar(&runBuildConfig, "build-config", "", "Build config YAML path used to build --db (for config-signature validation; defaults assumed if omitted)")
	runCmd.Flags().Int64Var(&runSeed, "seed", 1, "RNG seed for matcher/tracker sampling")
	runCmd.MarkFlagRequired("db")
	runCmd.MarkFlagRequired("frames")
}
