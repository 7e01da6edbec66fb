// Package ollama implements nlu.Processor on the Ollama generate API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"homestack-control-plane/internal/conversation"
	"homestack-control-plane/internal/nlu"
)

// historyTurns is how many context turns are included in the prompt.
const historyTurns = 5

const fallbackResponse = "I didn't understand that command. Could you rephrase?"

const systemPrompt = `You interpret smart home voice commands for Home Assistant.
Reply ONLY with one JSON object, without markdown or explanation, of this shape:
{
  "intent": "turn_on|turn_off|toggle|get_status|set_brightness|set_temperature|get_info|unknown",
  "target": {"type": "entity|device|area|unknown", "name": "entity_id or empty string"},
  "action": "on|off|increase|decrease|set|unknown",
  "parameters": {},
  "confidence": 0.0-1.0,
  "response": "short sentence to speak back to the user"
}
If unsure, set confidence to 0.0 and ask for clarification in the response field.
Use earlier turns of the conversation to resolve references.`

// Client calls an Ollama server.
type Client struct {
	baseURL     string
	model       string
	temperature float64
	httpClient  *http.Client
	log         zerolog.Logger
}

// New returns a Client for the Ollama server at baseURL. httpClient may be nil; deadlines come from ctx.
func New(baseURL, model string, temperature float64, httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		temperature: temperature,
		httpClient:  httpClient,
		log:         logger.With().Str("component", "ollama").Logger(),
	}
}

var _ nlu.Processor = (*Client)(nil)

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// modelIntent is the JSON the model is asked to produce.
type modelIntent struct {
	Intent   string `json:"intent"`
	EntityID string `json:"entity_id"`
	Target   *struct {
		Type string `json:"type"`
		Name string `json:"name"`
	} `json:"target"`
	Action     string                 `json:"action"`
	Parameters map[string]interface{} `json:"parameters"`
	Confidence *float64               `json:"confidence"`
	Response   string                 `json:"response"`
}

// ProcessIntent asks the model to interpret text. Output that is not valid JSON yields the
// unknown intent with confidence 0; transport failures and non-200 answers return an error.
func (c *Client) ProcessIntent(ctx context.Context, text string, history []conversation.Turn) (*nlu.Intent, error) {
	body, err := json.Marshal(generateRequest{
		Model:   c.model,
		Prompt:  BuildPrompt(text, history),
		Stream:  false,
		Options: generateOptions{Temperature: c.temperature},
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", nlu.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: generate returned status %d", nlu.ErrUnavailable, resp.StatusCode)
	}
	var gen generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return nil, fmt.Errorf("%w: decode generate response: %w", nlu.ErrUnavailable, err)
	}

	intent, ok := ParseIntent(gen.Response)
	if !ok {
		c.log.Warn().Str("output", truncate(gen.Response, 100)).Msg("model output is not a valid intent")
	}
	intent.Tokens = gen.PromptEvalCount + gen.EvalCount
	return intent, nil
}

// Health checks that the server answers GET /api/tags.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", nlu.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: tags returned status %d", nlu.ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// BuildPrompt renders the system prompt, the last five history turns and text.
func BuildPrompt(text string, history []conversation.Turn) string {
	var b strings.Builder
	b.WriteString("[SYSTEM_PROMPT]")
	b.WriteString(systemPrompt)
	b.WriteString("[/SYSTEM_PROMPT]\n")
	if len(history) > historyTurns {
		history = history[len(history)-historyTurns:]
	}
	for _, t := range history {
		switch t.Role {
		case conversation.RoleUser:
			b.WriteString("[INST]" + t.Content + "[/INST]\n")
		case conversation.RoleAssistant:
			b.WriteString(t.Content + "\n")
		}
	}
	b.WriteString("[INST]" + text + "[/INST]")
	return b.String()
}

// ParseIntent extracts the intent JSON from model output, unwrapping markdown code fences.
// It reports false and returns the unknown intent when the output cannot be parsed.
func ParseIntent(output string) (*nlu.Intent, bool) {
	raw := stripFences(strings.TrimSpace(output))
	var m modelIntent
	if err := json.Unmarshal([]byte(raw), &m); err != nil || m.Intent == "" {
		return nlu.Unknown(fallbackResponse), false
	}
	in := &nlu.Intent{
		Intent:     m.Intent,
		EntityID:   m.EntityID,
		Action:     m.Action,
		Parameters: m.Parameters,
		Response:   m.Response,
	}
	if in.EntityID == "" && m.Target != nil {
		in.EntityID = m.Target.Name
	}
	if m.Confidence != nil {
		in.Confidence = clamp(*m.Confidence)
	}
	if in.Parameters == nil {
		in.Parameters = map[string]interface{}{}
	}
	return in, true
}

func stripFences(s string) string {
	if i := strings.Index(s, "```json"); i >= 0 {
		s = s[i+len("```json"):]
	} else if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+len("```"):]
	} else {
		return s
	}
	if j := strings.Index(s, "```"); j >= 0 {
		s = s[:j]
	}
	return strings.TrimSpace(s)
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
