package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"
	"github.com/zen-systems/stockbrief/pkg/config"
	"github.com/zen-systems/stockbrief/pkg/pipeline"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

type runFlags struct {
	manifest           string
	evidenceDir        string
	noEvidence         bool
	render             bool
	placeholderOnError bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.manifest, "manifest", "", "stage manifest YAML (default: built-in)")
	cmd.Flags().StringVar(&f.evidenceDir, "evidence-dir", "", "evidence bundle directory (default ~/.stockbrief/runs)")
	cmd.Flags().BoolVar(&f.noEvidence, "no-evidence", false, "do not write an evidence bundle")
	cmd.Flags().BoolVar(&f.render, "render", false, "render pages in a headless browser before extracting text")
	cmd.Flags().BoolVar(&f.placeholderOnError, "placeholder-on-error", false, "keep going when a stage fails, writing a placeholder")
}

// newRunner builds a Runner from the config and flags. The returned func
// releases tool resources.
func (f *runFlags) newRunner(ctx context.Context, cfg *config.Config) (*pipeline.Runner, func(), error) {
	adapters, err := createAdapters(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create adapters: %w", err)
	}
	impl, model, err := selectAdapter(cfg, adapters)
	if err != nil {
		return nil, nil, err
	}

	var manifest *pipeline.Pipeline
	if f.manifest != "" {
		manifest, err = pipeline.LoadManifest(f.manifest)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load manifest: %w", err)
		}
	}

	evidenceDir := f.evidenceDir
	if evidenceDir == "" && !f.noEvidence {
		evidenceDir = defaultEvidenceDir(cfg)
	}
	if f.noEvidence {
		evidenceDir = ""
	}

	policy := pipeline.StageFailureAbort
	if f.placeholderOnError {
		policy = pipeline.StageFailurePlaceholder
	}

	reg, closeTools := buildTools(cfg, f.render)
	runner, err := pipeline.NewRunner(pipeline.RunnerOptions{
		Adapter:       impl,
		Model:         model,
		Adapters:      adapters,
		Tools:         reg,
		Manifest:      manifest,
		Settings:      cfg.Settings,
		EvidenceDir:   evidenceDir,
		FailurePolicy: policy,
		Logger:        logger,
	})
	if err != nil {
		closeTools()
		return nil, nil, err
	}
	logger.Debug("runner ready", zap.String("adapter", impl.Name()), zap.String("model", model))
	return runner, closeTools, nil
}

func researchCmd() *cobra.Command {
	var (
		flags     runFlags
		company   string
		pages     []string
		documents []string
		outFile   string
	)

	cmd := &cobra.Command{
		Use:   "research",
		Short: "Research one company and write its report",
		Long: `Collects data from the given pages (--url) and documents (--pdf),
runs every analysis stage and prints the assembled report.

A run that ends early (collection exhausted, a stage failed under
--placeholder-on-error, or cancellation) still prints whatever report it
assembled and is marked incomplete.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			runner, closeTools, err := flags.newRunner(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeTools()

			res, runErr := runner.Run(cmd.Context(), pipeline.Subject{
				Company:   company,
				Pages:     pages,
				Documents: documents,
			})
			if res == nil {
				return runErr
			}

			out := cmd.OutOrStdout()
			if outFile != "" {
				f, err := os.Create(outFile)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			if err := writeReport(out, res); err != nil {
				return err
			}
			printRunSummary(cmd.ErrOrStderr(), company, res)
			return runErr
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&company, "company", "", "company name")
	cmd.Flags().StringSliceVar(&pages, "url", nil, "web page to crawl (repeatable)")
	cmd.Flags().StringSliceVar(&documents, "pdf", nil, "PDF document to parse (repeatable)")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "write the report to a file instead of stdout")
	_ = cmd.MarkFlagRequired("company")

	return cmd
}

// BatchFile lists independent research runs.
type BatchFile struct {
	Runs []BatchRun `yaml:"runs"`
}

// BatchRun is one entry of a batch file.
type BatchRun struct {
	Company   string   `yaml:"company"`
	Pages     []string `yaml:"pages"`
	Documents []string `yaml:"documents"`
	Out       string   `yaml:"out"`
}

func loadBatchFile(path string) (*BatchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var batch BatchFile
	if err := yaml.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(batch.Runs) == 0 {
		return nil, fmt.Errorf("%s lists no runs", path)
	}
	for i, run := range batch.Runs {
		if run.Company == "" {
			return nil, fmt.Errorf("run %d: company is required", i)
		}
	}
	return &batch, nil
}

func batchCmd() *cobra.Command {
	var (
		flags    runFlags
		parallel int
		outDir   string
	)

	cmd := &cobra.Command{
		Use:   "batch FILE",
		Short: "Research several companies concurrently",
		Long: `Runs every entry of a YAML batch file as an independent pipeline:

  runs:
    - company: Acme Industries
      pages: [https://acme.example/investors]
      documents: [https://acme.example/q3.pdf]
      out: acme.md

A failing run does not stop the others.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if parallel < 1 {
				return fmt.Errorf("--parallel must be at least 1, got %d", parallel)
			}
			batch, err := loadBatchFile(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			runner, closeTools, err := flags.newRunner(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeTools()

			if outDir != "" {
				if err := os.MkdirAll(outDir, 0755); err != nil {
					return err
				}
			}

			var (
				g      errgroup.Group
				mu     sync.Mutex
				failed []error
			)
			g.SetLimit(parallel)
			for _, run := range batch.Runs {
				g.Go(func() error {
					res, runErr := runner.Run(cmd.Context(), pipeline.Subject{
						Company:   run.Company,
						Pages:     run.Pages,
						Documents: run.Documents,
					})
					if res != nil {
						if err := saveBatchReport(outDir, run, res); err != nil {
							runErr = errors.Join(runErr, err)
						}
						mu.Lock()
						printRunSummary(cmd.ErrOrStderr(), run.Company, res)
						mu.Unlock()
					}
					if runErr != nil {
						mu.Lock()
						failed = append(failed, fmt.Errorf("%s: %w", run.Company, runErr))
						mu.Unlock()
					}
					return nil
				})
			}
			_ = g.Wait()
			return errors.Join(failed...)
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 2, "maximum concurrent runs")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "directory for reports without an explicit out path")

	return cmd
}

func saveBatchReport(outDir string, run BatchRun, res *pipeline.RunResult) error {
	path := run.Out
	if path == "" {
		if outDir == "" {
			return nil
		}
		path = res.RunID + ".md"
	}
	if outDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(outDir, path)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return writeReport(f, res)
}

func writeReport(w io.Writer, res *pipeline.RunResult) error {
	_, err := fmt.Fprintln(w, res.Report.Text())
	return err
}

func printRunSummary(w io.Writer, company string, res *pipeline.RunResult) {
	status := "complete"
	if !res.Report.Complete {
		status = "incomplete"
	}
	fmt.Fprintf(w, "%s: %s (run %s, %d tokens)\n", company, status, res.RunID, res.Usage.TotalTokens)
	for _, warning := range res.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
	if res.EvidenceDir != "" {
		fmt.Fprintf(w, "  evidence: %s\n", res.EvidenceDir)
	}
}
