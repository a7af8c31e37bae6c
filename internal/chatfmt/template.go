// Package chatfmt renders the bit-exact chat template described in §6:
// begin/end-of-text and header delimiters, numbered retrieved-context
// blocks, and tool-use/tool-result delimited blocks, through a pongo2
// template so a deployment can override the built-in grammar with a
// repo-local chat_template.jinja file.
package chatfmt

import (
	"os"

	pongo "github.com/flosch/pongo2/v6"

	"github.com/tensorloom/loom/internal/errs"
)

// Role is a chat message's speaker.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of chat history.
type Message struct {
	Role    Role
	Content string
}

// Source is one retrieved-context passage, numbered in rendering order.
type Source struct {
	Text string
}

// ToolUse describes the tool-use block offered to the model in the
// system message, when a tool executor is configured for the turn.
type ToolUse struct {
	Name string
	Args string
}

// ToolResult is the output of a completed or failed tool call, fed
// back to the model wrapped in a TOOL_RESULT block.
type ToolResult struct {
	Content string
}

// Template renders chat turns through a pongo2 template. The zero
// value is not usable; construct with Default or FromFile.
type Template struct {
	tpl *pongo.Template
}

// Default returns a Template using the built-in grammar.
func Default() (*Template, error) {
	return fromString(defaultTemplate)
}

// FromFile loads a repo-local chat_template.jinja override. A file that
// cannot be read (including a missing one) is a NotFound error; falling
// back to Default is left to the caller.
func FromFile(path string) (*Template, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, "read chat template file", err)
	}
	return fromString(string(raw))
}

func fromString(raw string) (*Template, error) {
	tpl, err := pongo.FromString(raw)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, "parse chat template", err)
	}
	return &Template{tpl: tpl}, nil
}

// SystemPrompt renders the first turn of a conversation: the system
// instruction, numbered retrieved context, an optional tool-use block,
// and the first user message, ending with the assistant header ready
// for generation to begin.
func (t *Template) SystemPrompt(instruction string, sources []Source, tool *ToolUse, userText string) (string, error) {
	return t.render(pongo.Context{
		"mode":        "system",
		"instruction": instruction,
		"sources":     toSourceMaps(sources),
		"tool":        toToolMap(tool),
		"user_text":   userText,
	})
}

// Turn renders a subsequent turn: the new user message plus any
// retrieved context for it, with no system instruction or history.
func (t *Template) Turn(sources []Source, userText string) (string, error) {
	return t.render(pongo.Context{
		"mode":      "turn",
		"sources":   toSourceMaps(sources),
		"user_text": userText,
	})
}

// ToolResultBlock renders a single tool result wrapped in the
// TOOL_RESULT grammar, to be fed back as the next step's input.
func (t *Template) ToolResultBlock(result ToolResult) (string, error) {
	return t.render(pongo.Context{
		"mode":        "tool_result",
		"tool_result": result.Content,
	})
}

func (t *Template) render(ctx pongo.Context) (string, error) {
	out, err := t.tpl.Execute(ctx)
	if err != nil {
		return "", errs.Wrap(errs.InvalidArgument, "render chat template", err)
	}
	return out, nil
}

func toSourceMaps(sources []Source) []map[string]any {
	out := make([]map[string]any, len(sources))
	for i, s := range sources {
		out[i] = map[string]any{"index": i + 1, "text": s.Text}
	}
	return out
}

func toToolMap(tool *ToolUse) map[string]any {
	if tool == nil {
		return nil
	}
	return map[string]any{"name": tool.Name, "args": tool.Args}
}

// defaultTemplate implements §6's grammar exactly: <|begin_of_text|>,
// <|start_header_id|>{role}<|end_header_id|>, <|eot_id|>, numbered
// **Source N:** blocks, and TOOL_CALL/TOOL_RESULT delimited blocks.
// Only system/user/assistant are ever used as header roles; TOOL_CALL
// is plain text nested inside the system turn, and TOOL_RESULT is
// plain text nested inside a user turn — neither gets a role of its
// own.
const defaultTemplate = `{% autoescape off %}<|begin_of_text|>` +
	`{% if mode == "system" %}` +
	`<|start_header_id|>system<|end_header_id|>
{{ instruction }}
{% if sources %}
{% for source in sources %}**Source {{ source.index }}:**
> {{ source.text }}
{% endfor %}{% endif %}` +
	`{% if tool %}
TOOL_CALL
name: {{ tool.name }}
args: {{ tool.args }}
END_TOOL_CALL{% endif %}` +
	`<|eot_id|>` +
	`<|start_header_id|>user<|end_header_id|>
{{ user_text }}<|eot_id|>` +
	`<|start_header_id|>assistant<|end_header_id|>
` +
	`{% elif mode == "turn" %}` +
	`<|start_header_id|>user<|end_header_id|>
{% if sources %}{% for source in sources %}**Source {{ source.index }}:**
> {{ source.text }}
{% endfor %}{% endif %}{{ user_text }}<|eot_id|>` +
	`<|start_header_id|>assistant<|end_header_id|>
` +
	`{% elif mode == "tool_result" %}` +
	`<|start_header_id|>user<|end_header_id|>
TOOL_RESULT
{{ tool_result }}
END_TOOL_RESULT<|eot_id|>` +
	`<|start_header_id|>assistant<|end_header_id|>
` +
	`{% endif %}{% endautoescape %}`
