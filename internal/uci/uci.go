// Package uci speaks the UCI chess-engine line protocol on stdin/stdout
// (spec §6) and drives the search.Orchestrator lifecycle
// (initialize/prepare_search/expand_tree/stop_search) from it. The command
// parser itself is named an external collaborator by the spec's scope
// notes, so this loop stays a thin, teacher-style scanner dispatch - the
// same shape the teacher's classical-engine UCI handler used - generalized
// to call the MCTS orchestrator instead of iterative-deepening alpha-beta.
package uci

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hailam/chessplay/internal/board"
	"github.com/hailam/chessplay/internal/config"
	"github.com/hailam/chessplay/internal/infer"
	"github.com/hailam/chessplay/internal/mcts"
	"github.com/hailam/chessplay/internal/search"
)

// UCI implements the Universal Chess Interface protocol over a
// search.Orchestrator. The orchestrator (and the backend pool behind it) is
// rebuilt lazily, on the next command that needs it, whenever a setoption
// changes something the orchestrator only reads at construction time
// (threads, batch size, PUCT constants, ...).
type UCI struct {
	cfg     config.Config
	backend *infer.CPUBackend
	pool    *infer.BackendPool
	orch    *search.Orchestrator
	dirty   bool

	startFEN string
	moves    []string

	generalLogFile *os.File
	generalLog     *log.Logger
	graphLogFile   *os.File
	graphLog       *log.Logger

	searching     bool
	searchDone    chan struct{}
	stopRequested atomic.Bool

	profileFile *os.File
}

// New creates a UCI handler around an already-loaded backend and its
// starting configuration. backend may be nil if no network was found at
// startup; setoption name network must then supply one before go works.
func New(backend *infer.CPUBackend, cfg config.Config) *UCI {
	u := &UCI{
		cfg:      cfg,
		backend:  backend,
		startFEN: board.StartFEN,
		dirty:    true,
	}
	if backend != nil {
		u.pool = infer.NewBackendPool(backend)
	}
	u.applyLogPaths()
	return u
}

// Run starts the UCI main loop, reading commands from stdin until "quit" or
// EOF.
func (u *UCI) Run() {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "uci":
			u.handleUCI()
		case "isready":
			fmt.Println("readyok")
		case "ucinewgame":
			u.handleNewGame()
		case "position":
			u.handlePosition(args)
		case "go":
			u.handleGo(args)
		case "stop":
			u.handleStop()
		case "quit":
			u.handleQuit()
			return
		case "setoption":
			u.handleSetOption(args)
		case "d":
			u.printBoard()
		}
	}
}

// handleUCI responds to the "uci" command with engine identification and
// the spec §6 option table.
func (u *UCI) handleUCI() {
	fmt.Println("id name ChessPlay")
	fmt.Println("id author ChessPlay Team")
	fmt.Println()
	fmt.Println("option name network type string default <empty>")
	fmt.Println("option name threads type spin default 4 min 1 max 256")
	fmt.Println("option name device type string default auto")
	fmt.Println("option name cpu_inference_threads type spin default 1 min 1 max 64")
	fmt.Println("option name max_batch_size type spin default 64 min 1 max 1024")
	fmt.Println("option name c_puct type string default 2.5")
	fmt.Println("option name c_puct_root type string default 2.5")
	fmt.Println("option name softmax_temperature type string default 1.0")
	fmt.Println("option name dirichlet_alpha type string default 0.3")
	fmt.Println("option name dirichlet_epsilon type string default 0.25")
	fmt.Println("option name deallocation_factor type spin default 32 min 1 max 100000")
	fmt.Println("option name deallocation_minimum type spin default 65536 min 0 max 100000000")
	fmt.Println("option name general_log_file type string default <empty>")
	fmt.Println("option name graph_log_file type string default <empty>")
	fmt.Println("uciok")
}

// handleNewGame discards the current search tree and starts fresh at the
// standard starting position, matching the teacher's engine.Clear() reset.
func (u *UCI) handleNewGame() {
	if u.pool != nil {
		u.orch = search.NewOrchestrator(u.pool, 0, u.cfg)
	}
	u.dirty = false
	u.startFEN = board.StartFEN
	u.moves = nil
	if u.orch != nil {
		if err := u.orch.Initialize(u.startFEN); err != nil {
			u.reportParseError(err)
		}
	}
}

// handlePosition parses "position [startpos|fen <fen>] [moves m1 m2 ...]"
// and replays it from scratch against a freshly initialized orchestrator -
// the orchestrator only ever moves forward via Advance, so a restated
// position command rebuilds the game from its root each time, the same way
// most UCI engines treat the command as authoritative rather than
// incremental.
func (u *UCI) handlePosition(args []string) {
	if len(args) == 0 {
		return
	}

	var fen string
	moveStart := len(args)
	for i, arg := range args {
		if arg == "moves" {
			moveStart = i + 1
			break
		}
	}

	switch args[0] {
	case "startpos":
		fen = board.StartFEN
	case "fen":
		fenEnd := moveStart - 1
		if moveStart == len(args) {
			fenEnd = len(args)
		}
		fen = strings.Join(args[1:fenEnd], " ")
	default:
		return
	}

	var moveStrs []string
	if moveStart < len(args) {
		moveStrs = args[moveStart:]
	}

	if err := u.ensureOrchestrator(); err != nil {
		u.reportParseError(err)
		return
	}
	if err := u.orch.Initialize(fen); err != nil {
		u.reportParseError(fmt.Errorf("invalid FEN: %w", err))
		return
	}
	u.startFEN = fen
	u.moves = nil

	for _, moveStr := range moveStrs {
		move, err := board.ParseMove(moveStr, u.orch.Root().Position)
		if err != nil {
			u.reportInvalidMove(moveStr, err)
			return
		}
		if err := u.orch.Advance(move); err != nil {
			u.reportInvalidMove(moveStr, err)
			return
		}
		u.moves = append(u.moves, moveStr)
	}
}

// printBoard prints the current root position, the "d" debug command.
func (u *UCI) printBoard() {
	if u.orch == nil {
		fmt.Println(board.NewPosition().String())
		return
	}
	root := u.orch.Root()
	if root == nil {
		fmt.Println(board.NewPosition().String())
		return
	}
	fmt.Println(root.Position.String())
	fmt.Printf("Fen: %s\n", root.Position.ToFEN())
}

// GoOptions holds parsed "go" command arguments.
type GoOptions struct {
	MoveTime  time.Duration
	Infinite  bool
	Nodes     uint64
	WTime     time.Duration
	BTime     time.Duration
	WInc      time.Duration
	BInc      time.Duration
	MovesToGo int
}

// handleGo starts a search with the given parameters: PrepareSearch once,
// then ExpandTree until the computed time control or node limit fires,
// streaming "info" lines while it runs and a final "bestmove" on
// completion - the spec's five-call search lifecycle driven end to end.
func (u *UCI) handleGo(args []string) {
	opts := u.parseGoOptions(args)

	if err := u.ensureOrchestrator(); err != nil {
		u.reportParseError(err)
		fmt.Println("bestmove 0000")
		return
	}

	limits := u.calculateLimits(opts)
	var nodeLimit int64
	if opts.Nodes > 0 {
		nodeLimit = int64(opts.Nodes)
	}

	u.searching = true
	u.stopRequested.Store(false)
	u.searchDone = make(chan struct{})
	orch := u.orch

	go func() {
		defer close(u.searchDone)
		start := time.Now()

		noSearchNeeded, err := orch.PrepareSearch()
		if err != nil {
			u.searching = false
			fmt.Fprintf(os.Stderr, "info string %v\n", err)
			fmt.Println("bestmove 0000")
			return
		}

		if !noSearchNeeded {
			tickerDone := make(chan struct{})
			go u.streamInfo(orch, start, tickerDone)
			if err := orch.ExpandTree(limits, nodeLimit); err != nil {
				fmt.Fprintf(os.Stderr, "info string %v\n", err)
			}
			close(tickerDone)
		}

		u.searching = false
		u.sendInfo(orch, start)
		u.sendBestMove(orch)
	}()
}

// streamInfo prints an "info" line every 200ms while a search runs, so a
// GUI sees progress during a long ExpandTree call.
func (u *UCI) streamInfo(orch *search.Orchestrator, start time.Time, done <-chan struct{}) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			u.sendInfo(orch, start)
		}
	}
}

// parseGoOptions parses "go" command arguments.
func (u *UCI) parseGoOptions(args []string) GoOptions {
	var opts GoOptions
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "movetime":
			if i+1 < len(args) {
				ms, _ := strconv.Atoi(args[i+1])
				opts.MoveTime = time.Duration(ms) * time.Millisecond
				i++
			}
		case "infinite":
			opts.Infinite = true
		case "nodes":
			if i+1 < len(args) {
				n, _ := strconv.ParseUint(args[i+1], 10, 64)
				opts.Nodes = n
				i++
			}
		case "wtime":
			if i+1 < len(args) {
				ms, _ := strconv.Atoi(args[i+1])
				opts.WTime = time.Duration(ms) * time.Millisecond
				i++
			}
		case "btime":
			if i+1 < len(args) {
				ms, _ := strconv.Atoi(args[i+1])
				opts.BTime = time.Duration(ms) * time.Millisecond
				i++
			}
		case "winc":
			if i+1 < len(args) {
				ms, _ := strconv.Atoi(args[i+1])
				opts.WInc = time.Duration(ms) * time.Millisecond
				i++
			}
		case "binc":
			if i+1 < len(args) {
				ms, _ := strconv.Atoi(args[i+1])
				opts.BInc = time.Duration(ms) * time.Millisecond
				i++
			}
		case "movestogo":
			if i+1 < len(args) {
				opts.MovesToGo, _ = strconv.Atoi(args[i+1])
				i++
			}
		// depth has no MCTS analogue (there is no per-iteration depth
		// limit to stop at); accepted and ignored rather than rejected,
		// since GUIs send it unconditionally as part of "go depth N".
		case "depth":
			if i+1 < len(args) {
				i++
			}
		}
	}
	return opts
}

// calculateLimits converts GoOptions to search.Limits.
func (u *UCI) calculateLimits(opts GoOptions) search.Limits {
	if opts.Infinite {
		return search.Limits{Infinite: true}
	}
	limits := search.Limits{
		Time:      [2]time.Duration{opts.WTime, opts.BTime},
		Inc:       [2]time.Duration{opts.WInc, opts.BInc},
		MovesToGo: opts.MovesToGo,
		MoveTime:  opts.MoveTime,
		Nodes:     opts.Nodes,
	}
	if limits.MoveTime == 0 && limits.Time[board.White] == 0 && limits.Time[board.Black] == 0 {
		limits.Infinite = true
	}
	return limits
}

// sendInfo prints one "info" line summarizing the orchestrator's current
// root: the principal variation, its value translated to a centipawn-style
// score (or a mate score once the root is solved), node count, elapsed
// time and nodes-per-second.
func (u *UCI) sendInfo(orch *search.Orchestrator, start time.Time) {
	root := orch.Root()
	if root == nil {
		return
	}
	pv := principalVariation(root, 64)
	if len(pv) == 0 {
		return
	}

	elapsed := time.Since(start)
	nodes := orch.Nodes()

	var parts []string
	parts = append(parts, fmt.Sprintf("depth %d", len(pv)))
	parts = append(parts, scoreToken(root, len(pv)))
	parts = append(parts, fmt.Sprintf("nodes %d", nodes))
	parts = append(parts, fmt.Sprintf("time %d", elapsed.Milliseconds()))
	if elapsed > 0 {
		nps := uint64(float64(nodes) / elapsed.Seconds())
		parts = append(parts, fmt.Sprintf("nps %d", nps))
	}

	pvStrs := make([]string, len(pv))
	for i, m := range pv {
		pvStrs[i] = m.String()
	}
	parts = append(parts, "pv "+strings.Join(pvStrs, " "))

	fmt.Printf("info %s\n", strings.Join(parts, " "))
	u.logGraph(root, pv)
}

// scoreToken renders the root's value as a UCI score token: "mate N" once
// the root is proven exact, else "cp N" from a simple, monotonic stretch of
// Q (the node's [-1, 1] running average value) into centipawns - the spec
// leaves the exact conversion to the engine, so this mirrors the direction
// (more positive Q, more positive score) without claiming a calibrated
// scale the way a trained value head's own units would provide.
func scoreToken(root *mcts.Node, pvLen int) string {
	if root.IsSolved() {
		mateIn := (pvLen + 1) / 2
		if root.Q < 0 {
			mateIn = -mateIn
		}
		return fmt.Sprintf("score mate %d", mateIn)
	}
	cp := int(root.Q * 600)
	return fmt.Sprintf("score cp %d", cp)
}

// principalVariation walks best-edge choices from root down to at most
// maxLen plies, the PV a GUI displays alongside "info".
func principalVariation(root *mcts.Node, maxLen int) []board.Move {
	var pv []board.Move
	n := root
	for i := 0; i < maxLen && n != nil; i++ {
		edge := n.BestMove()
		if edge == nil {
			break
		}
		pv = append(pv, edge.Move)
		n = edge.Child()
	}
	return pv
}

// sendBestMove emits the final "bestmove" line once a search completes.
func (u *UCI) sendBestMove(orch *search.Orchestrator) {
	root := orch.Root()
	if root == nil {
		fmt.Println("bestmove 0000")
		return
	}
	edge := root.BestMove()
	if edge == nil {
		fmt.Println("bestmove 0000")
		return
	}
	fmt.Printf("bestmove %s\n", edge.Move.String())
}

// handleStop requests the running search stop and waits for it to settle -
// the spec's "stop_search: set paused flag; spin until every worker reports
// idle", surfaced here as a blocking UCI command.
func (u *UCI) handleStop() {
	if u.searching && u.orch != nil {
		u.orch.StopSearch()
		<-u.searchDone
	}
}

// handleQuit stops any running search, closes diagnostic logs and exits.
func (u *UCI) handleQuit() {
	u.handleStop()
	if u.profileFile != nil {
		pprof.StopCPUProfile()
		u.profileFile.Close()
	}
	if u.generalLogFile != nil {
		u.generalLogFile.Close()
	}
	if u.graphLogFile != nil {
		u.graphLogFile.Close()
	}
	os.Exit(0)
}

// handleSetOption processes "setoption name X value Y" per the spec §6
// configuration table. Options that the orchestrator only reads at
// construction time mark the configuration dirty instead of taking effect
// immediately; ensureOrchestrator rebuilds before the next search.
func (u *UCI) handleSetOption(args []string) {
	var name, value string
	readingName, readingValue := false, false
	for _, arg := range args {
		switch arg {
		case "name":
			readingName, readingValue = true, false
		case "value":
			readingName, readingValue = false, true
		default:
			if readingName {
				if name != "" {
					name += " "
				}
				name += arg
			} else if readingValue {
				if value != "" {
					value += " "
				}
				value += arg
			}
		}
	}

	switch strings.ToLower(name) {
	case "network":
		backend, err := infer.LoadCPUBackend(value)
		if err != nil {
			u.reportParseError(err)
			return
		}
		u.backend = backend
		u.pool = infer.NewBackendPool(backend)
		u.cfg.NetworkPath = value
		u.dirty = true
	case "threads":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			u.reportParseError(fmt.Errorf("invalid threads value: %q", value))
			return
		}
		u.cfg.Threads = n
		u.dirty = true
	case "device":
		u.cfg.Device = config.Device(strings.ToLower(value))
		u.dirty = true
	case "cpu_inference_threads":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			u.reportParseError(fmt.Errorf("invalid cpu_inference_threads value: %q", value))
			return
		}
		u.cfg.CPUInferenceThreads = n
		u.dirty = true
	case "max_batch_size":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			u.reportParseError(fmt.Errorf("invalid max_batch_size value: %q", value))
			return
		}
		u.cfg.MaxBatchSize = n
		u.dirty = true
	case "c_puct":
		f, err := strconv.ParseFloat(value, 32)
		if err != nil {
			u.reportParseError(fmt.Errorf("invalid c_puct value: %q", value))
			return
		}
		u.cfg.CPUCT = float32(f)
		u.dirty = true
	case "c_puct_root":
		f, err := strconv.ParseFloat(value, 32)
		if err != nil {
			u.reportParseError(fmt.Errorf("invalid c_puct_root value: %q", value))
			return
		}
		u.cfg.CPUCTRoot = float32(f)
		u.dirty = true
	case "softmax_temperature":
		f, err := strconv.ParseFloat(value, 32)
		if err != nil {
			u.reportParseError(fmt.Errorf("invalid softmax_temperature value: %q", value))
			return
		}
		u.cfg.SoftmaxTemperature = float32(f)
		u.dirty = true
	case "dirichlet_alpha":
		f, err := strconv.ParseFloat(value, 32)
		if err != nil {
			u.reportParseError(fmt.Errorf("invalid dirichlet_alpha value: %q", value))
			return
		}
		u.cfg.DirichletAlpha = float32(f)
		u.dirty = true
	case "dirichlet_epsilon":
		f, err := strconv.ParseFloat(value, 32)
		if err != nil {
			u.reportParseError(fmt.Errorf("invalid dirichlet_epsilon value: %q", value))
			return
		}
		u.cfg.DirichletEpsilon = float32(f)
		u.dirty = true
	case "deallocation_factor":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			u.reportParseError(fmt.Errorf("invalid deallocation_factor value: %q", value))
			return
		}
		u.cfg.DeallocationFactor = n
		u.dirty = true
	case "deallocation_minimum":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			u.reportParseError(fmt.Errorf("invalid deallocation_minimum value: %q", value))
			return
		}
		u.cfg.DeallocationMinimum = n
		u.dirty = true
	case "general_log_file":
		u.cfg.GeneralLogFile = value
		u.applyLogPaths()
	case "graph_log_file":
		u.cfg.GraphLogFile = value
		u.applyLogPaths()
	case "cpuprofile":
		u.toggleProfile(value)
	default:
		u.reportParseError(fmt.Errorf("unknown option: %s", name))
	}
}

// ensureOrchestrator (re)builds the orchestrator from the current
// configuration if none exists yet or a setoption has marked it dirty,
// replaying the in-progress game's moves onto the fresh tree so a
// mid-game configuration change doesn't lose the position.
func (u *UCI) ensureOrchestrator() error {
	if u.pool == nil {
		return fmt.Errorf("uci: no network loaded; setoption name network value <path>")
	}
	if u.orch != nil && !u.dirty {
		return nil
	}

	fen := u.startFEN
	if fen == "" {
		fen = board.StartFEN
	}
	moves := u.moves

	orch := search.NewOrchestrator(u.pool, 0, u.cfg)
	if err := orch.Initialize(fen); err != nil {
		return err
	}
	for _, moveStr := range moves {
		move, err := board.ParseMove(moveStr, orch.Root().Position)
		if err != nil {
			return err
		}
		if err := orch.Advance(move); err != nil {
			return err
		}
	}
	u.orch = orch
	u.dirty = false
	return nil
}

// applyLogPaths (re)opens the general/graph log files named by cfg,
// closing whichever one was previously open. The engine itself is
// stateless across runs (spec §6): these are append-only diagnostic logs
// for this process's lifetime, not a persisted store to reload from.
func (u *UCI) applyLogPaths() {
	if u.generalLogFile != nil {
		u.generalLogFile.Close()
		u.generalLogFile = nil
		u.generalLog = nil
	}
	if u.cfg.GeneralLogFile != "" {
		f, err := os.OpenFile(u.cfg.GeneralLogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "info string failed to open general_log_file: %v\n", err)
		} else {
			u.generalLogFile = f
			u.generalLog = log.New(f, "", log.LstdFlags)
		}
	}

	if u.graphLogFile != nil {
		u.graphLogFile.Close()
		u.graphLogFile = nil
		u.graphLog = nil
	}
	if u.cfg.GraphLogFile != "" {
		f, err := os.OpenFile(u.cfg.GraphLogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "info string failed to open graph_log_file: %v\n", err)
		} else {
			u.graphLogFile = f
			u.graphLog = log.New(f, "", log.LstdFlags)
		}
	}
}

// logGraph appends one line per "info" tick to graph_log_file, when
// configured: root visit count, value, and the current PV - a plain
// append-only trace rather than a structured store, since the engine keeps
// no persisted state across runs.
func (u *UCI) logGraph(root *mcts.Node, pv []board.Move) {
	if u.graphLog == nil {
		return
	}
	strs := make([]string, len(pv))
	for i, m := range pv {
		strs[i] = m.String()
	}
	u.graphLog.Printf("visits=%d q=%.4f pv=%s", root.VisitCount(), root.Q, strings.Join(strs, " "))
}

// toggleProfile starts or stops CPU profiling to the named file, the same
// setoption-driven profiling hook the teacher's UCI handler exposed.
func (u *UCI) toggleProfile(value string) {
	if u.profileFile != nil {
		pprof.StopCPUProfile()
		u.profileFile.Close()
		u.profileFile = nil
	}
	if value == "" || value == "stop" {
		return
	}
	f, err := os.Create(value)
	if err != nil {
		fmt.Fprintf(os.Stderr, "info string failed to create profile: %v\n", err)
		return
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		fmt.Fprintf(os.Stderr, "info string failed to start profile: %v\n", err)
		return
	}
	u.profileFile = f
}

// reportParseError reports a ParseError per spec §7: an info line; the
// offending command is otherwise ignored and the engine continues.
func (u *UCI) reportParseError(err error) {
	fmt.Fprintf(os.Stderr, "info string error: %v\n", err)
	if u.generalLog != nil {
		u.generalLog.Printf("parse error: %v", err)
	}
}

// reportInvalidMove reports an InvalidMove error per spec §7.
func (u *UCI) reportInvalidMove(moveStr string, err error) {
	fmt.Fprintf(os.Stderr, "info string invalid move %s: %v\n", moveStr, err)
	if u.generalLog != nil {
		u.generalLog.Printf("invalid move %s: %v", moveStr, err)
	}
}
