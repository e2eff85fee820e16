package pipeline

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldsOrderAndTitles(t *testing.T) {
	fields := Fields()
	require.Len(t, fields, 9)

	want := []string{
		"BASIC INFORMATION",
		"BUSINESS MODEL",
		"REVENUE SOURCES",
		"FINANCIAL ANALYSIS",
		"GROWTH TRIGGERS",
		"CAPEX AND ORDER BOOK ANALYSIS",
		"MARKET POSITION AND TAILWINDS",
		"RISK ANALYSIS",
		"INVESTMENT RECOMMENDATION",
	}
	for i, f := range fields {
		assert.Equal(t, want[i], f.Title())
		parsed, err := ParseField(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, parsed)
	}

	_, err := ParseField("valuation")
	assert.Error(t, err)
	assert.False(t, Field(42).Valid())
}

func TestContextWithIsWriteOnce(t *testing.T) {
	base := NewContext(Subject{Company: "Acme"})

	first, err := base.With(Growth, "orders up")
	require.NoError(t, err)

	_, err = first.With(Growth, "rewrite")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFieldAlreadySet))

	got, ok := first.Get(Growth)
	assert.True(t, ok)
	assert.Equal(t, "orders up", got)

	_, ok = base.Get(Growth)
	assert.False(t, ok, "receiver must not change")
}

func TestContextWithCollectionOnce(t *testing.T) {
	base := NewContext(Subject{Company: "Acme"})
	responses := []ToolResponse{{Tool: "fetch_webpage", Argument: "u", Output: "page"}}

	next, err := base.WithCollection(responses, "summary")
	require.NoError(t, err)
	assert.True(t, next.Collected())
	assert.False(t, base.Collected())

	responses[0].Output = "mutated"
	assert.Equal(t, "page", next.ToolResponses()[0].Output, "context must hold its own copy")

	_, err = next.WithCollection(nil, "again")
	assert.ErrorIs(t, err, ErrFieldAlreadySet)
}

func TestContextReadersReturnCopies(t *testing.T) {
	pc := NewContext(Subject{Company: "Acme", Pages: []string{"https://a"}})
	s := pc.Subject()
	s.Pages[0] = "https://changed"
	assert.Equal(t, "https://a", pc.Subject().Pages[0])
}

func TestContextMissing(t *testing.T) {
	pc := NewContext(Subject{Company: "Acme"})
	pc, err := pc.With(CompanyOverview, "x")
	require.NoError(t, err)
	pc, err = pc.With(Risk, "y")
	require.NoError(t, err)

	missing := pc.Missing()
	assert.Len(t, missing, 7)
	assert.NotContains(t, missing, CompanyOverview)
	assert.NotContains(t, missing, Risk)
}

func TestContextMarshalJSON(t *testing.T) {
	pc := NewContext(Subject{Company: "Acme", Documents: []string{"https://a/q3.pdf"}})
	pc, err := pc.WithCollection([]ToolResponse{
		{Tool: "fetch_webpage", Output: "Revenue grew 20%"},
		{Tool: "parse_pdf", Output: "Q3 transcript"},
	}, "solid quarter")
	require.NoError(t, err)
	pc, err = pc.With(BusinessModel, "b2b")
	require.NoError(t, err)
	pc, err = pc.With(CompanyOverview, "founded 1992")
	require.NoError(t, err)

	data, err := json.Marshal(pc)
	require.NoError(t, err)

	var decoded struct {
		Subject       Subject           `json:"subject"`
		ToolResponses map[string]string `json:"tool_responses"`
		Summary       string            `json:"summary"`
		Analyses      []struct {
			Field   string `json:"field"`
			Title   string `json:"title"`
			Content string `json:"content"`
		} `json:"analyses"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "Acme", decoded.Subject.Company)
	assert.Equal(t, "Revenue grew 20%", decoded.ToolResponses["fetch_webpage"])
	assert.Equal(t, "solid quarter", decoded.Summary)
	require.Len(t, decoded.Analyses, 2)
	assert.Equal(t, "company_overview", decoded.Analyses[0].Field, "analyses follow pipeline order")
	assert.Equal(t, "BUSINESS MODEL", decoded.Analyses[1].Title)
}
