package answer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harun/concierge/pkg/llm"
	"github.com/xeipuuv/gojsonschema"
)

// Operation is one step the model may propose. The set is closed: Retrieve,
// FinalizeAnswer and FinalizeCannotAnswer.
type Operation interface {
	operation()
}

// Retrieve asks for evidence from the knowledge base.
type Retrieve struct {
	Query string `json:"query"`
}

// FinalizeAnswer ends the loop with a grounded answer.
type FinalizeAnswer struct {
	Text string `json:"text"`
}

// FinalizeCannotAnswer ends the loop without an answer. Reason is shown to
// the participant ahead of the escalation offer.
type FinalizeCannotAnswer struct {
	Reason string `json:"reason"`
}

func (Retrieve) operation()             {}
func (FinalizeAnswer) operation()       {}
func (FinalizeCannotAnswer) operation() {}

const (
	ToolRetrieve     = "retrieve_docs"
	ToolFinalAnswer  = "final_answer"
	ToolCannotAnswer = "cannot_answer"
)

type tool struct {
	spec   llm.ToolSpec
	schema *gojsonschema.Schema
	decode func(json.RawMessage) (Operation, error)
}

var tools = mustTools()

func mustTools() map[string]tool {
	defs := []struct {
		spec   llm.ToolSpec
		decode func(json.RawMessage) (Operation, error)
	}{
		{
			spec: llm.ToolSpec{
				Name: ToolRetrieve,
				Description: "Search the event knowledge base. Call this before answering any question " +
					"that could be about the event, its schedule, rules, logistics, prizes or sponsors.",
				Schema: objectSchema(map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"minLength":   1,
						"description": "What to look up in the knowledge base.",
					},
				}, "query"),
			},
			decode: decodeRetrieve,
		},
		{
			spec: llm.ToolSpec{
				Name:        ToolFinalAnswer,
				Description: "Reply to the participant with an answer grounded in retrieved passages.",
				Schema: objectSchema(map[string]interface{}{
					"text": map[string]interface{}{
						"type":        "string",
						"minLength":   1,
						"description": "The reply shown to the participant.",
					},
				}, "text"),
			},
			decode: decodeInto[FinalizeAnswer],
		},
		{
			spec: llm.ToolSpec{
				Name: ToolCannotAnswer,
				Description: "Declare that you cannot answer: the knowledge base lacks the information, " +
					"the participant is in distress or reporting an urgent situation, or they need " +
					"real-time on-the-ground information. A human organizer will be offered.",
				Schema: objectSchema(map[string]interface{}{
					"reason": map[string]interface{}{
						"type":        "string",
						"description": "One short sentence for the participant explaining why.",
					},
				}, "reason"),
			},
			decode: decodeInto[FinalizeCannotAnswer],
		},
	}

	out := make(map[string]tool, len(defs))
	for _, d := range defs {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(d.spec.Schema))
		if err != nil {
			panic(fmt.Sprintf("answer: invalid schema for %s: %v", d.spec.Name, err))
		}
		out[d.spec.Name] = tool{spec: d.spec, schema: schema, decode: d.decode}
	}
	return out
}

func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	return map[string]interface{}{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}

func decodeInto[T Operation](args json.RawMessage) (Operation, error) {
	var op T
	if err := json.Unmarshal(args, &op); err != nil {
		return nil, err
	}
	return op, nil
}

func decodeRetrieve(args json.RawMessage) (Operation, error) {
	op, err := decodeInto[Retrieve](args)
	if err != nil {
		return nil, err
	}
	query := strings.TrimSpace(op.(Retrieve).Query)
	if query == "" {
		return nil, fmt.Errorf("invalid arguments for %s: query is blank", ToolRetrieve)
	}
	return Retrieve{Query: query}, nil
}

// toolSpecs returns the tool definitions in a stable order.
func toolSpecs() []llm.ToolSpec {
	return []llm.ToolSpec{
		tools[ToolRetrieve].spec,
		tools[ToolFinalAnswer].spec,
		tools[ToolCannotAnswer].spec,
	}
}

// Decode validates a tool call against its schema and returns the operation
// it proposes.
func Decode(call llm.ToolCall) (Operation, error) {
	t, ok := tools[call.Name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", call.Name)
	}

	args := call.Arguments
	if len(strings.TrimSpace(string(args))) == 0 {
		args = json.RawMessage("{}")
	}

	result, err := t.schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %w", call.Name, err)
	}
	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return nil, fmt.Errorf("invalid arguments for %s: %s", call.Name, strings.Join(errs, "; "))
	}

	return t.decode(args)
}
