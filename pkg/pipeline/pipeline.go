// Package pipeline runs the equity research flow: a data-collection loop
// that drives tool calls, nine analysis stages that each add one field to
// the shared context, and assembly of the final report.
package pipeline

// Pipeline is the stage catalog for a research run.
type Pipeline struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Collector   CollectorSpec `yaml:"collector"`
	Stages      []*Stage      `yaml:"stages"`
}

// Stage returns the stage writing field, or nil.
func (p *Pipeline) Stage(field Field) *Stage {
	for _, s := range p.Stages {
		if s.Field == field {
			return s
		}
	}
	return nil
}
