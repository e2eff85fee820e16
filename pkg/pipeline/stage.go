package pipeline

// Stage is one analysis step: an instruction that turns the shared context
// into a single field.
type Stage struct {
	Field       Field  `yaml:"field"`
	Title       string `yaml:"title,omitempty"`
	Instruction string `yaml:"instruction"`
	Adapter     string `yaml:"adapter,omitempty"`
	Model       string `yaml:"model,omitempty"`
	MaxTokens   int    `yaml:"max_tokens,omitempty"`
}

// Name returns the stage identifier, which is the field it writes.
func (s *Stage) Name() string {
	return s.Field.String()
}

// CollectorSpec configures the data-collection stage.
type CollectorSpec struct {
	System        string   `yaml:"system"`
	Request       string   `yaml:"request"`
	Nudge         string   `yaml:"nudge,omitempty"`
	RequiredTools []string `yaml:"required_tools"`
	Tools         []string `yaml:"tools,omitempty"`
	Adapter       string   `yaml:"adapter,omitempty"`
	Model         string   `yaml:"model,omitempty"`
}

// AvailableTools returns the tools offered to the model while collecting.
func (c CollectorSpec) AvailableTools() []string {
	if len(c.Tools) > 0 {
		return c.Tools
	}
	return c.RequiredTools
}
