package pipeline

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed stages.yaml
var defaultManifest []byte

// DefaultManifest returns the built-in equity research stage catalog.
func DefaultManifest() (*Pipeline, error) {
	return ParseManifest(defaultManifest)
}

// LoadManifest reads a pipeline definition from a YAML file.
func LoadManifest(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseManifest(data)
}

// ParseManifest decodes a pipeline definition and fills in stage titles.
func ParseManifest(data []byte) (*Pipeline, error) {
	var pipeline Pipeline
	if err := yaml.Unmarshal(data, &pipeline); err != nil {
		return nil, err
	}
	for _, stage := range pipeline.Stages {
		if stage != nil && stage.Title == "" {
			stage.Title = stage.Field.Title()
		}
	}
	return &pipeline, nil
}

// Validate checks the pipeline configuration for errors. Every field must be
// written by exactly one stage, in pipeline order.
func (p *Pipeline) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("pipeline name is required")
	}
	if strings.TrimSpace(p.Collector.System) == "" {
		return fmt.Errorf("collector system prompt is required")
	}
	if strings.TrimSpace(p.Collector.Request) == "" {
		return fmt.Errorf("collector request is required")
	}
	if len(p.Collector.RequiredTools) == 0 {
		return fmt.Errorf("collector must require at least one tool")
	}
	offered := make(map[string]bool)
	for _, name := range p.Collector.AvailableTools() {
		offered[name] = true
	}
	for _, name := range p.Collector.RequiredTools {
		if !offered[name] {
			return fmt.Errorf("required tool %s is not offered to the collector", name)
		}
	}
	for _, text := range []string{p.Collector.System, p.Collector.Request, p.Collector.Nudge} {
		if _, err := template.New("collector").Parse(text); err != nil {
			return fmt.Errorf("collector template: %w", err)
		}
	}

	if len(p.Stages) != fieldCount {
		return fmt.Errorf("pipeline must define %d stages, got %d", fieldCount, len(p.Stages))
	}
	for i, stage := range p.Stages {
		if stage == nil {
			return fmt.Errorf("stage %d is empty", i)
		}
		want := Field(i)
		if stage.Field != want {
			return fmt.Errorf("stage %d writes %s, want %s", i, stage.Field, want)
		}
		if stage.Title != want.Title() {
			return fmt.Errorf("stage %s title %q does not match report header %q", stage.Name(), stage.Title, want.Title())
		}
		if strings.TrimSpace(stage.Instruction) == "" {
			return fmt.Errorf("stage %s must have an instruction", stage.Name())
		}
	}

	return nil
}

// collectorData is exposed to collector templates.
type collectorData struct {
	Company   string
	Pages     []string
	Documents []string
	Missing   []string
}

func renderTemplate(name, text string, data collectorData) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(sb.String()), nil
}
