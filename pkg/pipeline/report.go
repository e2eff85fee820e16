package pipeline

import (
	"strings"
)

// MissingPlaceholder stands in for an analysis field that was never written.
const MissingPlaceholder = "(not available)"

// Section is one titled block of the report.
type Section struct {
	Field   Field  `json:"field"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Missing bool   `json:"missing,omitempty"`
}

// Report is the assembled research output.
type Report struct {
	Company  string    `json:"company"`
	Sections []Section `json:"sections"`
	Complete bool      `json:"complete"`
	Warnings []string  `json:"warnings,omitempty"`
}

// Assemble builds the report from a context. It has no side effects and
// returns identical output for identical input.
func Assemble(pc Context) Report {
	report := Report{
		Company:  pc.subject.Company,
		Sections: make([]Section, 0, fieldCount),
		Complete: true,
	}
	for _, field := range Fields() {
		content, ok := pc.Get(field)
		section := Section{Field: field, Title: field.Title(), Content: content}
		if !ok {
			section.Content = MissingPlaceholder
			section.Missing = true
			report.Complete = false
		}
		report.Sections = append(report.Sections, section)
	}
	return report
}

// Text renders the report as "## TITLE" blocks separated by blank lines.
func (r Report) Text() string {
	blocks := make([]string, 0, len(r.Sections))
	for _, s := range r.Sections {
		blocks = append(blocks, "## "+s.Title+"\n\n"+s.Content)
	}
	return strings.Join(blocks, "\n\n")
}
