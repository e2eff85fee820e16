package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/zen-systems/stockbrief/pkg/adapter"
	"github.com/zen-systems/stockbrief/pkg/config"
	"github.com/zen-systems/stockbrief/pkg/logging"
	"github.com/zen-systems/stockbrief/pkg/tools"
	"go.uber.org/zap"
)

var (
	configFile  string
	adapterFlag string
	modelFlag   string
	verbose     bool

	logger = zap.NewNop()
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stockbrief",
		Short: "Equity research reports from primary sources",
		Long: `stockbrief collects a company's web pages and documents with a
tool-using model, runs nine analyst stages over what it found and assembles
a sectioned investment report.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := logging.New(verbose)
			if err != nil {
				return err
			}
			logger = l
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (default ~/.stockbrief/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&adapterFlag, "adapter", "", "inference provider (bedrock, anthropic, openai, google, deepseek, mock)")
	rootCmd.PersistentFlags().StringVar(&modelFlag, "model", "", "model name, alias or provider ID")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(researchCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(toolCmd())
	rootCmd.AddCommand(stagesCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(sessionsCmd())

	return rootCmd
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadFrom(configFile)
	}
	return config.Load()
}

func createAdapters(ctx context.Context, cfg *config.Config) (map[string]adapter.Adapter, error) {
	adapters := make(map[string]adapter.Adapter)

	if cfg.AnthropicAPIKey != "" {
		a, err := adapter.NewAnthropicAdapter(cfg.AnthropicAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic adapter: %w", err)
		}
		adapters["anthropic"] = a
	}

	if cfg.OpenAIAPIKey != "" {
		a, err := adapter.NewOpenAIAdapter(cfg.OpenAIAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai adapter: %w", err)
		}
		adapters["openai"] = a
	}

	if cfg.GoogleAPIKey != "" {
		a, err := adapter.NewGoogleAdapter(ctx, cfg.GoogleAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create google adapter: %w", err)
		}
		adapters["google"] = a
	}

	if cfg.DeepSeekAPIKey != "" {
		a, err := adapter.NewDeepSeekAdapter(cfg.DeepSeekAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create deepseek adapter: %w", err)
		}
		adapters["deepseek"] = a
	}

	if a, err := adapter.NewBedrockAdapter(ctx, cfg.AWSRegion); err != nil {
		logger.Warn("bedrock adapter unavailable", zap.Error(err))
	} else {
		adapters["bedrock"] = a
	}

	adapters["mock"] = adapter.NewMockAdapter()

	return adapters, nil
}

// selectAdapter resolves --adapter and --model against the catalog and the
// configured defaults.
func selectAdapter(cfg *config.Config, adapters map[string]adapter.Adapter) (adapter.Adapter, string, error) {
	name, model := adapterFlag, modelFlag
	if model != "" {
		if entry, ok := cfg.Catalog.Resolve(model); ok {
			model = entry.ID
			if name == "" {
				name = entry.Provider
			}
		}
	}
	if name == "" {
		name = cfg.Settings.Defaults.Adapter
		if model == "" {
			model = cfg.Settings.Defaults.Model
		}
	}

	a, ok := adapters[name]
	if !ok {
		return nil, "", fmt.Errorf("adapter %q not available", name)
	}
	if model == "" {
		if entries := cfg.Catalog.ProviderModels(name); len(entries) > 0 {
			model = entries[0].ID
		} else if models := a.Models(); len(models) > 0 {
			model = models[0]
		}
	}
	return a, model, nil
}

// buildTools wires the tool registry. The returned func releases the
// headless browser when rendering is on.
func buildTools(cfg *config.Config, render bool) (*tools.Registry, func()) {
	webOpts := []tools.WebpageOption{tools.WithWebpageLogger(logger)}
	closeFn := func() {}
	if render {
		renderer := tools.NewRodRenderer(0, logger)
		webOpts = append(webOpts, tools.WithRenderer(renderer))
		closeFn = func() {
			if err := renderer.Close(); err != nil {
				logger.Warn("failed to close browser", zap.Error(err))
			}
		}
	}

	pdfOpts := []tools.PDFOption{tools.WithPDFLogger(logger)}
	if cfg.LlamaCloudAPIKey != "" {
		pdfOpts = append(pdfOpts, tools.WithParser(tools.NewLlamaParser(cfg.LlamaCloudAPIKey)))
	}

	reg := tools.DefaultRegistry(
		tools.NewWebpageTool(webOpts...),
		tools.NewPDFTool(pdfOpts...),
		tools.NewSearchTool(tools.WithSerpAPIKey(cfg.SerpAPIKey)),
		tools.WithTimeout(cfg.Settings.Timeouts.Tool()),
		tools.WithLogger(logger),
	)
	return reg, closeFn
}

func defaultEvidenceDir(cfg *config.Config) string {
	return filepath.Join(cfg.ConfigDir, "runs")
}
