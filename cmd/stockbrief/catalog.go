package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zen-systems/stockbrief/pkg/pipeline"
)

func toolCmd() *cobra.Command {
	var render bool

	cmd := &cobra.Command{
		Use:   "tool NAME ARG",
		Short: "Invoke a single tool",
		Long: `Runs one tool the way the collector would and prints its output.

Tools: fetch_webpage URL, parse_pdf URL, web_search QUERY, count_words TEXT.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			reg, closeTools := buildTools(cfg, render)
			defer closeTools()

			if _, ok := reg.Get(args[0]); !ok {
				return fmt.Errorf("unknown tool %q (available: %s)", args[0], strings.Join(reg.Names(), ", "))
			}
			out, err := reg.Invoke(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().BoolVar(&render, "render", false, "render pages in a headless browser")
	return cmd
}

func stagesCmd() *cobra.Command {
	var manifestFile string

	cmd := &cobra.Command{
		Use:   "stages",
		Short: "List and validate the analysis stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				manifest *pipeline.Pipeline
				err      error
			)
			if manifestFile != "" {
				manifest, err = pipeline.LoadManifest(manifestFile)
			} else {
				manifest, err = pipeline.DefaultManifest()
			}
			if err != nil {
				return fmt.Errorf("failed to load manifest: %w", err)
			}
			if err := manifest.Validate(); err != nil {
				return fmt.Errorf("invalid manifest: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s\n", manifest.Name, manifest.Description)
			fmt.Fprintf(out, "collector requires: %s\n\n", strings.Join(manifest.Collector.RequiredTools, ", "))

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "#\tFIELD\tHEADER\tADAPTER")
			for i, stage := range manifest.Stages {
				adapterName := stage.Adapter
				if adapterName == "" {
					adapterName = "(default)"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, stage.Name(), stage.Title, adapterName)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&manifestFile, "manifest", "", "stage manifest YAML to validate")
	return cmd
}

func modelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List providers and models",
		Long:  `Lists the model catalog by provider and whether credentials are configured.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tNAME\tID\tSTATUS")

			for _, provider := range cfg.Catalog.Providers() {
				status := "no key"
				if cfg.HasAdapter(provider) {
					status = "ready"
				}
				for _, entry := range cfg.Catalog.ProviderModels(provider) {
					name := entry.Name
					if entry.Default {
						name += " *"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", provider, name, entry.ID, status)
				}
			}

			return w.Flush()
		},
	}
	return cmd
}
