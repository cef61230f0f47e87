package contextbuilder

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/projectmemory/memcore/internal/store"
)

func sample(n int, content string, score float64) Item {
	return Item{Memory: &store.Memory{ID: content, Content: content, MemoryType: store.MemoryTypeSemantic}, Score: score}
}

func TestBuildPlainIncludesAllWithinBudget(t *testing.T) {
	ctx := MemoryContext{Items: []Item{
		sample(1, "we use postgres", 0.9),
		sample(2, "we prefer tabs", 0.8),
	}}
	out, included := Build(ctx, FormatPlain, 1000)
	require.Len(t, included, 2)
	require.Contains(t, out, "postgres")
	require.Contains(t, out, "tabs")
}

func TestBuildDropsLowestScoringItemsFirst(t *testing.T) {
	ctx := MemoryContext{Items: []Item{
		sample(1, "high score memory that should survive the budget cut", 0.95),
		sample(2, "low score memory that should be dropped", 0.1),
	}}
	_, included := Build(ctx, FormatPlain, 100)
	require.Len(t, included, 1)
	require.Equal(t, "high score memory that should survive the budget cut", included[0].Memory.Content)
	require.True(t, ctx.Items[1].Memory.Truncated)
}

func TestBuildJSONProducesStructuredPayload(t *testing.T) {
	ctx := MemoryContext{Items: []Item{sample(1, "x", 0.5)}, Prompt: "what did we decide?"}
	out, included := Build(ctx, FormatJSON, 1000)
	require.Len(t, included, 1)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Equal(t, "what did we decide?", decoded["original_prompt"])
	require.Contains(t, decoded["enhanced_prompt"], "x")
	require.Contains(t, decoded["enhanced_prompt"], "what did we decide?")

	memories, ok := decoded["memories"].([]any)
	require.True(t, ok)
	require.Len(t, memories, 1)
	require.Equal(t, "x", memories[0].(map[string]any)["content"])

	meta, ok := decoded["metadata"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, float64(1), meta["count"])
	require.Equal(t, false, meta["truncated"])
}

func TestBuildMarkdownBoldsMemoryType(t *testing.T) {
	ctx := MemoryContext{Items: []Item{sample(1, "we decided X", 0.5)}}
	out, _ := Build(ctx, FormatMarkdown, 1000)
	require.Contains(t, out, "**Fact**")
}

func TestBuildEmptyContextProducesEmptyOutput(t *testing.T) {
	out, included := Build(MemoryContext{}, FormatPlain, 1000)
	require.Empty(t, out)
	require.Empty(t, included)
}

func TestBuildPlainAppendsPromptAfterBlankLine(t *testing.T) {
	ctx := MemoryContext{
		Items:  []Item{sample(1, "we use postgres", 0.9)},
		Prompt: "how do we persist data?",
	}
	out, included := Build(ctx, FormatPlain, 1000)
	require.Len(t, included, 1)
	require.Equal(t, "- [semantic] we use postgres\n\nhow do we persist data?", out)
}

func TestBuildMarkdownEmitsContextThenQuestionSections(t *testing.T) {
	ctx := MemoryContext{
		Items:  []Item{sample(1, "we use postgres", 0.9)},
		Prompt: "how do we persist data?",
	}
	out, _ := Build(ctx, FormatMarkdown, 1000)
	ctxIdx := strings.Index(out, "## Relevant Context")
	qIdx := strings.Index(out, "## User Question")
	require.GreaterOrEqual(t, ctxIdx, 0)
	require.Greater(t, qIdx, ctxIdx)
	require.Contains(t, out, "how do we persist data?")
}

func TestBuildNeverDropsPromptForBudget(t *testing.T) {
	ctx := MemoryContext{
		Items:  []Item{sample(1, "a memory long enough to blow a tiny budget", 0.9)},
		Prompt: "short prompt",
	}
	out, included := Build(ctx, FormatPlain, 20)
	require.Empty(t, included)
	require.True(t, ctx.Items[0].Memory.Truncated)
	require.Equal(t, "short prompt", out)
}
