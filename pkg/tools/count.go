package tools

import (
	"context"
	"strconv"
	"strings"

	"github.com/zen-systems/stockbrief/pkg/adapter"
)

// WordCountTool reports how many whitespace-separated words a text has.
type WordCountTool struct{}

// Spec describes the tool to the model.
func (WordCountTool) Spec() adapter.ToolSpec {
	return adapter.ToolSpec{
		Name:        CountWords,
		Description: "Counts the words in a text. Use it to check a draft against a word limit.",
		Parameter:   "text",
		ParamDoc:    "Text to analyze",
	}
}

// Call returns the word count as a decimal string.
func (WordCountTool) Call(_ context.Context, text string) (string, error) {
	return strconv.Itoa(len(strings.Fields(text))), nil
}
