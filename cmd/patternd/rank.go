package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/patternd/internal/engine"
	"github.com/fyrsmithlabs/patternd/internal/logging"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/repoinfo"
)

type rankFlags struct {
	snapshot    string
	signalsFile string
	task        string
	paths       []string
	languages   []string
	frameworks  []string
	intent      string
	phase       string
	failed      []string
	repoDir     string
	noRepo      bool
	budget      int
	debug       bool
	pretty      bool
}

func newRankCmd() *cobra.Command {
	f := &rankFlags{}
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Rank the snapshot for a task and print the pattern pack",
		Long: `Rank loads the pattern snapshot, scores it against the task signals and
prints the assembled pattern pack as JSON on stdout.

Signals come from --signals (a JSON or YAML file, "-" for stdin) and are
extended by the individual flags. Repo and org are filled from the git
origin remote of --repo-dir unless --no-repo is set.

Examples:
  # Rank for Go files under internal/
  patternd rank --snapshot patterns/ --path internal/retry/retry.go --lang go --intent fix

  # Signals from a file, 4 KiB budget, with explanations
  patternd rank --snapshot patterns.yaml --signals task.json --budget 4096 --debug`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRank(cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.snapshot, "snapshot", "", "snapshot file or directory (default snapshot.path)")
	fl.StringVar(&f.signalsFile, "signals", "", "signals file (JSON or YAML, - for stdin)")
	fl.StringVar(&f.task, "task", "", "task description echoed into the pack")
	fl.StringSliceVar(&f.paths, "path", nil, "file path touched by the task (repeatable)")
	fl.StringSliceVar(&f.languages, "lang", nil, "language of the task (repeatable)")
	fl.StringSliceVar(&f.frameworks, "framework", nil, "framework as name or name@version (repeatable)")
	fl.StringVar(&f.intent, "intent", "", "task intent (fix, debug, test, migrate, refactor, implement, design, review)")
	fl.StringVar(&f.phase, "phase", "", "workflow phase (design, build, validate, review, document)")
	fl.StringSliceVar(&f.failed, "failed", nil, "pattern id that already failed on this task (repeatable)")
	fl.StringVar(&f.repoDir, "repo-dir", ".", "directory used to detect repo and org")
	fl.BoolVar(&f.noRepo, "no-repo", false, "do not detect repo and org from git")
	fl.IntVar(&f.budget, "budget", 0, "pack budget in bytes (default pack.budget_bytes)")
	fl.BoolVar(&f.debug, "debug", false, "include per-candidate explanations")
	fl.BoolVar(&f.pretty, "pretty", false, "indent the JSON output")
	return cmd
}

func runRank(cmd *cobra.Command, f *rankFlags) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	sig, err := f.signals(cmd.InOrStdin())
	if err != nil {
		return err
	}
	if !f.noRepo && (sig.Repo == "" || sig.Org == "") {
		if info, err := repoinfo.Detect(f.repoDir); err == nil {
			info.Apply(sig)
		} else {
			a.logger.Debug(ctx, "repo detection skipped", zap.Error(err))
		}
	}

	path := f.snapshot
	if path == "" {
		path = cfg.Snapshot.Path
	}
	stats, err := a.loadSnapshot(ctx, path)
	if err != nil {
		return err
	}
	a.logger.Debug(ctx, "snapshot loaded",
		zap.Int("accepted", stats.Accepted),
		zap.Int("rejected", stats.Rejected))

	opts := cfg.Pack
	if f.budget > 0 {
		opts.BudgetBytes = f.budget
	}
	opts.Debug = opts.Debug || f.debug

	ctx = logging.WithRequestID(ctx, "")
	p, err := a.engine.Recommend(ctx, engine.RecommendRequest{
		Task:    f.task,
		Signals: sig,
		Options: &opts,
	})
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), p, f.pretty)
}

// signals merges the signals file with the individual flags.
func (f *rankFlags) signals(stdin io.Reader) (*pattern.Signals, error) {
	sig := &pattern.Signals{}
	if f.signalsFile != "" {
		var (
			data []byte
			err  error
		)
		if f.signalsFile == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(f.signalsFile)
		}
		if err != nil {
			return nil, fmt.Errorf("reading signals: %w", err)
		}
		if err := decodeSignals(data, sig); err != nil {
			return nil, fmt.Errorf("parsing signals: %w", err)
		}
	}

	sig.Paths = append(sig.Paths, f.paths...)
	sig.Languages = append(sig.Languages, f.languages...)
	sig.FailedPatterns = append(sig.FailedPatterns, f.failed...)
	for _, fw := range f.frameworks {
		name, ver, _ := strings.Cut(fw, "@")
		if name == "" {
			return nil, fmt.Errorf("invalid --framework %q", fw)
		}
		sig.Frameworks = append(sig.Frameworks, pattern.FrameworkSignal{Name: name, Version: ver})
	}
	if f.intent != "" {
		sig.TaskIntent = &pattern.TaskIntent{Type: strings.ToLower(f.intent), Confidence: 1}
	}
	if f.phase != "" {
		sig.WorkflowPhase = f.phase
	}
	return sig, nil
}

// decodeSignals accepts JSON or YAML. JSON is tried first so that its
// stricter errors surface for JSON input.
func decodeSignals(data []byte, sig *pattern.Signals) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		return dec.Decode(sig)
	}
	dec := yaml.NewDecoder(bytes.NewReader(trimmed))
	dec.KnownFields(true)
	return dec.Decode(sig)
}

func writeJSON(w io.Writer, v any, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
