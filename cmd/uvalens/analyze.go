package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/uvalang/uvalens/internal/domain/analysis"
)

type analyzeFlags struct {
	language string
	raw      bool
}

func (f *analyzeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.language, "language", "", "language id of the file (default: the configured analyzer language)")
}

func newAnalyzeCmd(c *cli) *cobra.Command {
	var f analyzeFlags
	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Analyze a file and print its decorations and diagnostics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
				doc, err := readDocument(args[0], f.language, rt)
				if err != nil {
					return err
				}
				res := rt.analyzer.Analyze(ctx, doc)
				if f.raw {
					return printJSON(cmd.OutOrStdout(), res)
				}
				return printJSON(cmd.OutOrStdout(), rt.projector.Project(res, doc))
			})
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&f.raw, "raw", false, "print the normalized analysis result instead of its projection")
	return cmd
}

func newTokensCmd(c *cli) *cobra.Command {
	var f analyzeFlags
	cmd := &cobra.Command{
		Use:   "tokens <file>",
		Short: "Print the highlighting tokens of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
				doc, err := readDocument(args[0], f.language, rt)
				if err != nil {
					return err
				}
				res, ok := rt.analyzer.Tokens(ctx, doc)
				if !ok {
					return errors.New("token request failed, see the log for details")
				}
				return printJSON(cmd.OutOrStdout(), res.Tokens)
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newDefinitionCmd(c *cli) *cobra.Command {
	var f analyzeFlags
	cmd := &cobra.Command{
		Use:   "definition <file> <offset>",
		Short: "Print the declaration location of the identifier at a byte offset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			offset, err := strconv.Atoi(args[1])
			if err != nil || offset < 0 {
				return fmt.Errorf("invalid offset %q", args[1])
			}
			return c.withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
				doc, err := readDocument(args[0], f.language, rt)
				if err != nil {
					return err
				}
				loc, err := rt.analyzer.Definition(ctx, doc, offset)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), loc)
			})
		},
	}
	f.register(cmd)
	return cmd
}

// withRuntime wires the analysis stack, starts the analyzer, runs fn and
// tears everything down.
func (c *cli) withRuntime(ctx context.Context, fn func(context.Context, *runtime) error) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := newRuntime(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := rt.startAnalyzer(ctx); err != nil {
		return err
	}
	return fn(ctx, rt)
}

// readDocument loads path as a document. Locations reported by the analyzer
// use the absolute path.
func readDocument(path, language string, rt *runtime) (analysis.Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return analysis.Document{}, fmt.Errorf("resolve %s: %w", path, err)
	}
	text, err := os.ReadFile(abs) //nolint:gosec // the user names the file to analyze
	if err != nil {
		return analysis.Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	if language == "" {
		language = rt.cfg.Analyzer.LanguageID
	}
	return analysis.Document{Path: abs, LanguageID: language, Text: string(text)}, nil
}
