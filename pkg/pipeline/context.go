package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrFieldAlreadySet is returned when a context field would be overwritten.
var ErrFieldAlreadySet = errors.New("field already set")

// Field names one analysis output in the shared context.
type Field int

const (
	CompanyOverview Field = iota
	BusinessModel
	Revenue
	Financials
	Growth
	Capex
	MarketPosition
	Risk
	InvestmentRecommendation

	fieldCount int = iota
)

var fieldInfo = [fieldCount]struct {
	name  string
	title string
}{
	{"company_overview", "BASIC INFORMATION"},
	{"business_model", "BUSINESS MODEL"},
	{"revenue", "REVENUE SOURCES"},
	{"financials", "FINANCIAL ANALYSIS"},
	{"growth", "GROWTH TRIGGERS"},
	{"capex", "CAPEX AND ORDER BOOK ANALYSIS"},
	{"market_position", "MARKET POSITION AND TAILWINDS"},
	{"risk", "RISK ANALYSIS"},
	{"investment_recommendation", "INVESTMENT RECOMMENDATION"},
}

// Fields returns every analysis field in pipeline order.
func Fields() []Field {
	out := make([]Field, fieldCount)
	for i := range out {
		out[i] = Field(i)
	}
	return out
}

// ParseField resolves a field by its snake_case name.
func ParseField(name string) (Field, error) {
	for i, info := range fieldInfo {
		if info.name == name {
			return Field(i), nil
		}
	}
	return 0, fmt.Errorf("unknown field %q", name)
}

// Valid reports whether f is one of the known fields.
func (f Field) Valid() bool {
	return f >= 0 && int(f) < fieldCount
}

func (f Field) String() string {
	if !f.Valid() {
		return fmt.Sprintf("field(%d)", int(f))
	}
	return fieldInfo[f].name
}

// Title is the report header for the field.
func (f Field) Title() string {
	if !f.Valid() {
		return ""
	}
	return fieldInfo[f].title
}

// MarshalText implements encoding.TextMarshaler.
func (f Field) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("invalid field %d", int(f))
	}
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so manifests can name
// fields directly.
func (f *Field) UnmarshalText(text []byte) error {
	parsed, err := ParseField(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Subject is what a run researches.
type Subject struct {
	Company   string   `json:"company" yaml:"company"`
	Pages     []string `json:"pages,omitempty" yaml:"pages,omitempty"`
	Documents []string `json:"documents,omitempty" yaml:"documents,omitempty"`
}

// Sources returns page and document URLs in that order.
func (s Subject) Sources() []string {
	out := make([]string, 0, len(s.Pages)+len(s.Documents))
	out = append(out, s.Pages...)
	return append(out, s.Documents...)
}

func (s Subject) clone() Subject {
	return Subject{
		Company:   s.Company,
		Pages:     append([]string(nil), s.Pages...),
		Documents: append([]string(nil), s.Documents...),
	}
}

// ToolResponse is the retained output of one tool.
type ToolResponse struct {
	Tool     string `json:"tool"`
	Argument string `json:"argument"`
	Output   string `json:"output"`
	Failed   bool   `json:"failed,omitempty"`
}

// Context is the shared state threaded through the stages. It is a value:
// every With* method returns a new Context and leaves the receiver unchanged.
type Context struct {
	subject   Subject
	responses []ToolResponse
	summary   string
	collected bool
	fields    [fieldCount]string
	set       [fieldCount]bool
}

// NewContext starts a context for subject.
func NewContext(subject Subject) Context {
	return Context{subject: subject.clone()}
}

// Subject returns a copy of the research subject.
func (c Context) Subject() Subject {
	return c.subject.clone()
}

// Collected reports whether collection output has been recorded.
func (c Context) Collected() bool {
	return c.collected
}

// Summary returns the collection summary.
func (c Context) Summary() string {
	return c.summary
}

// ToolResponses returns a copy of the retained tool outputs.
func (c Context) ToolResponses() []ToolResponse {
	return append([]ToolResponse(nil), c.responses...)
}

// WithCollection records tool responses and the collection summary.
// It may be called once.
func (c Context) WithCollection(responses []ToolResponse, summary string) (Context, error) {
	if c.collected {
		return c, fmt.Errorf("collection: %w", ErrFieldAlreadySet)
	}
	next := c
	next.subject = c.subject.clone()
	next.responses = append([]ToolResponse(nil), responses...)
	next.summary = summary
	next.collected = true
	return next, nil
}

// With returns a context with field set to text.
func (c Context) With(field Field, text string) (Context, error) {
	if !field.Valid() {
		return c, fmt.Errorf("invalid field %d", int(field))
	}
	if c.set[field] {
		return c, fmt.Errorf("%s: %w", field, ErrFieldAlreadySet)
	}
	next := c
	next.subject = c.subject.clone()
	next.responses = append([]ToolResponse(nil), c.responses...)
	next.fields[field] = text
	next.set[field] = true
	return next, nil
}

// Get returns the text for field and whether it has been set.
func (c Context) Get(field Field) (string, bool) {
	if !field.Valid() {
		return "", false
	}
	return c.fields[field], c.set[field]
}

// Missing lists unset fields in pipeline order.
func (c Context) Missing() []Field {
	var out []Field
	for _, f := range Fields() {
		if !c.set[f] {
			out = append(out, f)
		}
	}
	return out
}

type contextJSON struct {
	Subject       Subject           `json:"subject"`
	ToolResponses map[string]string `json:"tool_responses"`
	Summary       string            `json:"summary"`
	Analyses      []analysisJSON    `json:"analyses,omitempty"`
}

type analysisJSON struct {
	Field   Field  `json:"field"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// MarshalJSON renders the context the way analysis stages receive it.
// Analyses appear in pipeline order and only once set.
func (c Context) MarshalJSON() ([]byte, error) {
	out := contextJSON{
		Subject:       c.subject,
		ToolResponses: make(map[string]string, len(c.responses)),
		Summary:       c.summary,
	}
	for _, r := range c.responses {
		out.ToolResponses[r.Tool] = r.Output
	}
	for _, f := range Fields() {
		if c.set[f] {
			out.Analyses = append(out.Analyses, analysisJSON{Field: f, Title: f.Title(), Content: c.fields[f]})
		}
	}
	return json.Marshal(out)
}
