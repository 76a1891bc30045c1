package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime/pprof"

	"github.com/urfave/cli/v2"

	"github.com/hailam/chessplay/internal/config"
	"github.com/hailam/chessplay/internal/infer"
	"github.com/hailam/chessplay/internal/uci"
)

// defaultNetworkFile is the weights file name locateNetwork looks for
// alongside the binary and in the user's chessplay config directory, the
// same multi-location search the teacher's autoLoadNNUE used for its
// Stockfish-format networks.
const defaultNetworkFile = "network.bin"

// main wires process-start flags (not UCI setoptions - those arrive later,
// over stdin, once the UCI loop owns it) through urfave/cli, the flag
// library the retrieval pack's own CLI-entrypoint manifests reach for
// instead of bare stdlib flag.
func main() {
	app := &cli.App{
		Name:  "chessplay-uci",
		Usage: "UCI-speaking MCTS/neural-network chess engine",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "network", Usage: "path to the network weights file (auto-detected if unset)"},
			&cli.IntFlag{Name: "threads", Usage: "worker thread count (0 = config default)"},
			&cli.StringFlag{Name: "device", Usage: "backend device: auto, cpu, cuda, or a comma-list of CUDA ordinals"},
			&cli.IntFlag{Name: "cpu-inference-threads", Usage: "intra-op thread count when running on CPU"},
			&cli.IntFlag{Name: "max-batch-size", Usage: "maximum nodes per inference call"},
			&cli.Float64Flag{Name: "c-puct", Usage: "PUCT exploration constant away from the root"},
			&cli.Float64Flag{Name: "c-puct-root", Usage: "PUCT exploration constant at the root"},
			&cli.Float64Flag{Name: "softmax-temperature", Usage: "policy softmax temperature"},
			&cli.Float64Flag{Name: "dirichlet-alpha", Usage: "root-noise Dirichlet shape"},
			&cli.Float64Flag{Name: "dirichlet-epsilon", Value: -1, Usage: "root-noise mixing weight"},
			&cli.IntFlag{Name: "deallocation-factor", Usage: "arena compaction ratio threshold"},
			&cli.IntFlag{Name: "deallocation-minimum", Value: -1, Usage: "arena compaction minimum dead-node count"},
			&cli.StringFlag{Name: "general-log-file", Usage: "optional general diagnostic log path"},
			&cli.StringFlag{Name: "graph-log-file", Usage: "optional search-graph diagnostic log path"},
			&cli.StringFlag{Name: "cpuprofile", Usage: "write cpu profile to file"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Print(err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	profilePath := c.String("cpuprofile")
	if profilePath == "" {
		profilePath = os.Getenv("CPUPROFILE")
	}
	if profilePath != "" {
		f, err := os.Create(profilePath)
		if err != nil {
			return fmt.Errorf("could not create CPU profile: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("could not start CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
		log.Printf("CPU profiling enabled, writing to %s", profilePath)
	}

	cfg := buildConfig(c)

	path := c.String("network")
	if path == "" {
		found, err := locateNetwork()
		if err != nil {
			log.Printf("no network weights file given or found (tried %s): %v", defaultNetworkFile, err)
			os.Exit(1)
		}
		path = found
	}
	cfg.NetworkPath = path

	backend, err := infer.LoadCPUBackend(path)
	if err != nil {
		log.Printf("failed to load network weights from %s: %v", path, err)
		os.Exit(1)
	}
	log.Printf("network loaded from %s", path)

	protocol := uci.New(backend, cfg)
	protocol.Run()
	return nil
}

// buildConfig starts from config.Default and overrides whatever flags the
// caller actually set, so an unset flag falls back to the engine's default
// rather than a zero value.
func buildConfig(c *cli.Context) config.Config {
	cfg := config.Default()
	if v := c.Int("threads"); v > 0 {
		cfg.Threads = v
	}
	if v := c.String("device"); v != "" {
		cfg.Device = config.Device(v)
	}
	if v := c.Int("cpu-inference-threads"); v > 0 {
		cfg.CPUInferenceThreads = v
	}
	if v := c.Int("max-batch-size"); v > 0 {
		cfg.MaxBatchSize = v
	}
	if v := c.Float64("c-puct"); v > 0 {
		cfg.CPUCT = float32(v)
	}
	if v := c.Float64("c-puct-root"); v > 0 {
		cfg.CPUCTRoot = float32(v)
	}
	if v := c.Float64("softmax-temperature"); v > 0 {
		cfg.SoftmaxTemperature = float32(v)
	}
	if v := c.Float64("dirichlet-alpha"); v > 0 {
		cfg.DirichletAlpha = float32(v)
	}
	if v := c.Float64("dirichlet-epsilon"); v >= 0 {
		cfg.DirichletEpsilon = float32(v)
	}
	if v := c.Int("deallocation-factor"); v > 0 {
		cfg.DeallocationFactor = v
	}
	if v := c.Int("deallocation-minimum"); v >= 0 {
		cfg.DeallocationMinimum = v
	}
	cfg.GeneralLogFile = c.String("general-log-file")
	cfg.GraphLogFile = c.String("graph-log-file")
	return cfg
}

// locateNetwork searches the same standard locations the teacher's
// autoLoadNNUE walked for Stockfish networks, for this engine's own weights
// file format.
func locateNetwork() (string, error) {
	searchPaths := []string{
		getAppSupportDir(),
		filepath.Join(getHomeDir(), ".chessplay", "nnue"),
		"./nnue",
		".",
	}
	for _, dir := range searchPaths {
		candidate := filepath.Join(dir, defaultNetworkFile)
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	return "", os.ErrNotExist
}

// getAppSupportDir returns the application support directory for chessplay.
func getAppSupportDir() string {
	return filepath.Join(getHomeDir(), "Library", "Application Support", "chessplay", "nnue")
}

// getHomeDir returns the user's home directory.
func getHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// fileExists checks if a file exists.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
