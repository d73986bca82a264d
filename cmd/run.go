package main

import (
	"fmt"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/llir/llvm/asm"
	"github.com/llir/llvm/ir"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"gsymex/internal/executor"
	"gsymex/internal/project"
	"gsymex/internal/smt"
)

var (
	irFiles         []string
	entryFunction   string
	maxPaths        int
	maxSteps        int
	runTimeout      time.Duration
	useBFS          bool
	unknownAsError  bool
	offsetThreshold uint64
	verbose         bool
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "explore every feasible path through an entry function",
	Long:  ``,
	Run: func(*cobra.Command, []string) {
		if err := runExec(); err != nil {
			fmt.Printf("run err: %v\n", err)
		}
	},
}

func init() {
	runCommand.Flags().StringSliceVar(&irFiles, "file", nil, "LLVM IR file (repeatable)")
	runCommand.Flags().StringVar(&entryFunction, "entry", "main", "entry function")
	runCommand.Flags().IntVar(&maxPaths, "max-paths", 0, "cap on emitted path reports, 0 for unlimited")
	runCommand.Flags().IntVar(&maxSteps, "max-steps", 0, "per-path step limit, 0 for unlimited")
	runCommand.Flags().DurationVar(&runTimeout, "timeout", 0, "wall-clock limit, 0 for unlimited")
	runCommand.Flags().BoolVar(&useBFS, "bfs", false, "breadth-first path selection")
	runCommand.Flags().BoolVar(&unknownAsError, "unknown-as-error", false, "treat unknown solver answers as path errors")
	runCommand.Flags().Uint64Var(&offsetThreshold, "symbolic-offset-threshold", 0, "symbolic offset byte threshold")
	runCommand.Flags().BoolVar(&verbose, "verbose", false, "debug logging and full report dumps")
}

func runExec() error {
	if verbose {
		log.SetLevel(log.DebugLevel)
	}
	if len(irFiles) == 0 {
		return fmt.Errorf("no --file given")
	}

	smt.Init()
	defer smt.Exit()

	modules := make([]*ir.Module, 0, len(irFiles))
	for _, path := range irFiles {
		module, err := asm.ParseFile(path)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		modules = append(modules, module)
	}
	proj, err := project.NewProject(modules)
	if err != nil {
		return err
	}

	config := executor.Config{
		MaxPaths:                    maxPaths,
		MaxStepsPerPath:             maxSteps,
		Timeout:                     runTimeout,
		BFS:                         useBFS,
		SymbolicOffsetByteThreshold: offsetThreshold,
	}
	if unknownAsError {
		config.UnknownPolicy = executor.TreatAsError
	}

	ex := executor.NewExecutor(proj, config)
	reports, err := ex.Run(entryFunction, nil)
	if err != nil {
		return err
	}
	for _, report := range reports {
		fmt.Println(report)
	}
	if verbose {
		spew.Dump(reports)
	}
	log.Infof("%d path reports", len(reports))
	return nil
}
