// Package contextbuilder renders a ranked set of recalled memories into
// the string an assistant actually injects into its prompt, in one of a
// few output formats, truncating to a character budget by dropping the
// lowest-scoring memories first — mirroring this codebase's pattern of
// projecting an internal model down to a slim, consumer-facing shape.
package contextbuilder

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/projectmemory/memcore/internal/store"
)

// Format selects the rendering of a MemoryContext.
type Format string

const (
	FormatPlain    Format = "plain"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// Item is one memory as it will be rendered into context, carrying the
// rank score that decides truncation order.
type Item struct {
	Memory *store.Memory
	Score  float64
}

// MemoryContext is the full candidate set handed to the builder, already
// sorted best-first by the ranker, alongside the prompt it is meant to
// augment. Build never drops Prompt for budget: the memory list is what
// gets trimmed, since a context with no prompt at all defeats the point
// of attaching memories to one.
type MemoryContext struct {
	Items  []Item
	Prompt string
}

// slimItem is the minimal per-memory shape serialized in the JSON format;
// it omits bookkeeping fields (content hash, session linkage) a consuming
// assistant has no use for.
type slimItem struct {
	Content    string  `json:"content"`
	MemoryType string  `json:"type"`
	Confidence float64 `json:"confidence"`
	Score      float64 `json:"score"`
	Truncated  bool    `json:"truncated,omitempty"`
}

// jsonMeta summarizes the memory list: how many memories were included
// and whether any were dropped for the budget. Per-memory relevance is
// each memory's score field; no timing information is recorded.
type jsonMeta struct {
	Count     int  `json:"count"`
	Truncated bool `json:"truncated"`
}

// jsonPayload is the structured object the JSON format marshals: the
// caller's original prompt, the prompt as it would read with memories
// prepended, the memory list itself, and summary metadata.
type jsonPayload struct {
	OriginalPrompt string     `json:"original_prompt"`
	EnhancedPrompt string     `json:"enhanced_prompt"`
	Memories       []slimItem `json:"memories"`
	Metadata       jsonMeta   `json:"metadata"`
}

// displayLabel renders a memory type the way a prompt section heading
// should read, falling back to a title-cased spelling of the raw type
// name for anything not in the table.
var displayLabel = map[store.MemoryType]string{
	store.MemoryTypeSemantic:   "Fact",
	store.MemoryTypeProcedural: "Procedure",
	store.MemoryTypePreference: "Preference",
	store.MemoryTypeEpisodic:   "Episode",
	store.MemoryTypeWorking:    "Task",
	store.MemoryTypeSensory:    "Sensory",
}

func labelFor(t store.MemoryType) string {
	if l, ok := displayLabel[t]; ok {
		return l
	}
	return strings.Title(string(t))
}

// Build renders ctx into the requested format, dropping items from the
// tail (lowest score, since Items is expected sorted best-first) once the
// rendered output would exceed charBudget. Dropped-but-partially-included
// content is never emitted half-written: a memory either makes the
// budget whole or is left out and marked truncated. The original prompt
// is never itself dropped to make room — it is the whole reason the
// memories are being attached.
func Build(ctx MemoryContext, format Format, charBudget int) (string, []Item) {
	switch format {
	case FormatJSON:
		return buildJSON(ctx, charBudget)
	case FormatMarkdown:
		return buildSectioned(ctx, charBudget, renderMarkdownItem, joinMarkdown)
	case FormatPlain:
		fallthrough
	default:
		return buildSectioned(ctx, charBudget, renderPlainItem, joinPlain)
	}
}

func renderPlainItem(it Item) string {
	return fmt.Sprintf("- [%s] %s", it.Memory.MemoryType, it.Memory.Content)
}

func renderMarkdownItem(it Item) string {
	return fmt.Sprintf("- **%s**: %s", labelFor(it.Memory.MemoryType), it.Memory.Content)
}

// joinPlain lays the memory list out as a dash list followed by a blank
// line and then the original prompt — §4.11's "plain" format.
func joinPlain(prompt string, lines []string) string {
	body := strings.Join(lines, "\n")
	if prompt == "" {
		return body
	}
	if body == "" {
		return prompt
	}
	return body + "\n\n" + prompt
}

// joinMarkdown renders a "## Relevant Context" section for the memory
// list followed by a "## User Question" section for the prompt — §4.11's
// "markdown" format. Either section is omitted entirely when it has
// nothing to show, rather than emitting an empty heading.
func joinMarkdown(prompt string, lines []string) string {
	var sb strings.Builder
	if len(lines) > 0 {
		sb.WriteString("## Relevant Context\n")
		sb.WriteString(strings.Join(lines, "\n"))
	}
	if prompt != "" {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("## User Question\n")
		sb.WriteString(prompt)
	}
	return sb.String()
}

// buildSectioned renders items one per line via render, greedily
// including best-scored items first until the next item would exceed the
// budget left over after reserving space for the prompt section that
// join appends, then hands the whole thing to join to lay out.
func buildSectioned(ctx MemoryContext, charBudget int, render func(Item) string, join func(string, []string) string) (string, []Item) {
	reserve := len(join(ctx.Prompt, nil))
	budget := charBudget - reserve
	if budget < 0 {
		budget = 0
	}

	included := make([]Item, 0, len(ctx.Items))
	lines := make([]string, 0, len(ctx.Items))
	used := 0

	dropping := false
	for _, it := range ctx.Items {
		line := render(it)
		extra := len(line) + 1 // separator
		if dropping || used+extra > budget {
			it.Memory.Truncated = true
			dropping = true
			continue
		}
		lines = append(lines, line)
		used += extra
		included = append(included, it)
	}
	return join(ctx.Prompt, lines), included
}

// buildJSON renders ctx as the structured jsonPayload, dropping memories
// from the tail once the marshaled size would exceed charBudget. The
// enhanced_prompt field always reflects the plain dash-list layout,
// independent of what format the caller actually requested, since it
// documents what text would actually get prepended to the prompt.
func buildJSON(ctx MemoryContext, charBudget int) (string, []Item) {
	slim := make([]slimItem, 0, len(ctx.Items))
	included := make([]Item, 0, len(ctx.Items))
	anyDropped := false

	for _, it := range ctx.Items {
		if anyDropped {
			it.Memory.Truncated = true
			continue
		}
		candidate := append(slim, slimItem{
			Content:    it.Memory.Content,
			MemoryType: string(it.Memory.MemoryType),
			Confidence: it.Memory.Confidence,
			Score:      it.Score,
		})
		payload := jsonPayload{OriginalPrompt: ctx.Prompt, Memories: candidate}
		encoded, err := json.Marshal(payload)
		if err != nil || len(encoded) > charBudget {
			it.Memory.Truncated = true
			anyDropped = true
			continue
		}
		slim = candidate
		included = append(included, it)
	}

	payload := jsonPayload{
		OriginalPrompt: ctx.Prompt,
		EnhancedPrompt: renderEnhancedPlain(ctx.Prompt, included),
		Memories:       slim,
		Metadata:       jsonMeta{Count: len(slim), Truncated: anyDropped},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "{}", included
	}
	return string(encoded), included
}

// renderEnhancedPlain lays out the final included memory set the same
// way the plain format would, for the JSON format's enhanced_prompt
// field. It reads items, never mutates them — buildJSON's own loop above
// already decided Truncated for everything that didn't make the cut.
func renderEnhancedPlain(prompt string, items []Item) string {
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = renderPlainItem(it)
	}
	return joinPlain(prompt, lines)
}
