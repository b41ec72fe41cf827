package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zxbkit/peephole/pkg/engine"
	"github.com/zxbkit/peephole/pkg/rules"
	"github.com/zxbkit/peephole/pkg/rules/builtin"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "zxbpeep",
		Short: "Peephole optimizer for compiler-emitted Z80 assembly",
	}

	var (
		level       int
		disabled    []int
		maxPasses   int
		maxRewrites int
		trace       bool
		configPath  string
		rulesDir    string
		outDir      string
		jobs        int
		verbose     bool
	)

	optimizeCmd := &cobra.Command{
		Use:   "optimize [files...]",
		Short: "Rewrite assembly files to fixed point under the loaded rules",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(verbose)

			cfg := engine.DefaultConfig()
			if configPath != "" {
				var err error
				cfg, err = engine.LoadConfig(configPath)
				if err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("level") {
				cfg.Level = level
			}
			if cmd.Flags().Changed("max-passes") {
				cfg.MaxPasses = maxPasses
			}
			if cmd.Flags().Changed("max-rewrites") {
				cfg.MaxRewrites = maxRewrites
			}
			if len(disabled) > 0 {
				cfg.DisabledFlags = append(cfg.DisabledFlags, disabled...)
			}
			if trace {
				cfg.Trace = true
			}

			reg, err := loadRegistry(rulesDir)
			if err != nil {
				return err
			}

			units := make([]engine.Unit, 0, len(args))
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				units = append(units, engine.Unit{
					Name:  path,
					Lines: strings.Split(string(data), "\n"),
				})
			}

			isTTY := term.IsTerminal(int(os.Stderr.Fd()))
			var bar *progressbar.ProgressBar
			if isTTY && len(units) > 1 {
				bar = progressbar.Default(int64(len(units)), "optimizing")
			}

			pool := engine.NewPool(reg, cfg, jobs)
			results := pool.Run(context.Background(), units)

			var failed bool
			for _, res := range results {
				if bar != nil {
					_ = bar.Add(1)
				}
				if res.Err != nil {
					slog.Error("optimization failed", "file", res.Unit.Name, "error", res.Err)
					failed = true
					continue
				}
				out := res.Unit.Name
				if outDir != "" {
					out = filepath.Join(outDir, filepath.Base(res.Unit.Name))
				}
				if err := os.WriteFile(out, []byte(strings.Join(res.Lines, "\n")), 0o644); err != nil {
					return err
				}
				if cfg.Trace {
					res.Stats.DumpTrace(os.Stderr, isTTY)
				}
				slog.Info("optimized",
					"file", res.Unit.Name,
					"rewrites", res.Stats.Rewrites,
					"passes", res.Stats.Passes)
			}
			if failed {
				return fmt.Errorf("some units failed")
			}
			return nil
		},
	}
	optimizeCmd.Flags().IntVar(&level, "level", 1, "Optimization level (rules with a higher OLEVEL stay off)")
	optimizeCmd.Flags().IntSliceVar(&disabled, "disable", nil, "Rule flags to disable")
	optimizeCmd.Flags().IntVar(&maxPasses, "max-passes", 32, "Maximum full passes per unit")
	optimizeCmd.Flags().IntVar(&maxRewrites, "max-rewrites", 4096, "Maximum rewrites per unit")
	optimizeCmd.Flags().BoolVar(&trace, "trace", false, "Dump every rewrite")
	optimizeCmd.Flags().StringVar(&configPath, "config", "", "YAML session config")
	optimizeCmd.Flags().StringVar(&rulesDir, "rules", "", "Extra rule directory loaded on top of the embedded set")
	optimizeCmd.Flags().StringVarP(&outDir, "output", "o", "", "Output directory (default: rewrite in place)")
	optimizeCmd.Flags().IntVar(&jobs, "jobs", 0, "Parallel units (0 = NumCPU)")
	optimizeCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")

	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "List the loaded rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry(rulesDir)
			if err != nil {
				return err
			}
			for _, r := range reg.Rules() {
				fmt.Printf("%03d  level %d  %d line(s)  %s\n",
					r.Flag, r.Level, len(r.Pattern), r.File)
			}
			fmt.Printf("%d rules, longest pattern %d\n", len(reg.Rules()), reg.MaxPatternLen())
			return nil
		},
	}
	rulesCmd.Flags().StringVar(&rulesDir, "rules", "", "Extra rule directory loaded on top of the embedded set")

	checkCmd := &cobra.Command{
		Use:   "check [dir]",
		Short: "Parse a rule directory and report load errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := rules.NewRegistry()
			if err := reg.AddDir(args[0]); err != nil {
				return err
			}
			fmt.Printf("%d rules OK\n", len(reg.Rules()))
			return nil
		},
	}

	rootCmd.AddCommand(optimizeCmd, rulesCmd, checkCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadRegistry(extraDir string) (*rules.Registry, error) {
	reg := rules.NewRegistry()
	if err := reg.AddFS(builtin.FS); err != nil {
		return nil, err
	}
	if extraDir != "" {
		if err := reg.AddDir(extraDir); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func setupLogging(verbose bool) {
	lvl := slog.LevelInfo
	if verbose {
		lvl = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
