// Package reasoning implements the external reasoning service on the
// Gemini API: content analysis during deep engagement, draft
// composition for the production pipeline, and repair-plan synthesis
// for the recovery subsystem.
package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"nightshift/internal/logging"
	"nightshift/internal/types"
)

// Client talks to Gemini. It implements types.Reasoner.
type Client struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// New creates a reasoning client.
func New(ctx context.Context, apiKey, model string, timeout time.Duration) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("reasoning: API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("reasoning: create client: %w", err)
	}
	return &Client{client: client, model: model, timeout: timeout}, nil
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	timer := logging.StartTimer(logging.CategoryAPI, "generate")
	defer timer.Stop()

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}
	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.2),
	})
	if err != nil {
		logging.APIError("generate failed: %v", err)
		return "", fmt.Errorf("reasoning: generate: %w", err)
	}
	text := result.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("reasoning: empty response")
	}
	return text, nil
}

const analyzePrompt = `You curate content for an account about practical AI tools.
Judge the post below.

Title: %s

Body:
%s

Reply with ONLY a JSON object, no markdown, with exactly these fields:
{
  "is_relevant": bool,      // is this about AI tools, plugins, or workflow automation?
  "is_high_quality": bool,  // concrete, specific, worth learning from?
  "should_comment": bool,   // would a short genuine comment add anything?
  "comment_text": string,   // the comment, casual tone, under 50 words, "" if none
  "style_hint": string      // one phrase describing the post's writing style
}`

// Analyze judges one piece of content.
func (c *Client) Analyze(ctx context.Context, title, body string) (types.Analysis, error) {
	raw, err := c.generate(ctx, fmt.Sprintf(analyzePrompt, title, body))
	if err != nil {
		return types.Analysis{}, err
	}
	var a types.Analysis
	if err := decodeJSON(raw, &a); err != nil {
		return types.Analysis{}, fmt.Errorf("reasoning: analyze response: %w", err)
	}
	logging.API("analyze: relevant=%v quality=%v comment=%v", a.IsRelevant, a.IsHighQuality, a.ShouldComment)
	return a, nil
}

const repairPrompt = `An automation agent driving a web UI hit an error and needs a short
corrective procedure.

Current URL: %s
Error: %s

Page snapshot (cleaned):
%s

Write a repair plan as plain text, one step per line, using ONLY these verbs:

  navigate <query>           issue a search for <query>
  locate <css-selector>      require at least one visible match
  click <css-selector>       click the first match
  extract <css-selector>     read the first match's text
  scroll <pixels>            scroll the page down
  wait <css-selector> <ms>   wait until the selector appears
  emit <token>               print a token

Rules:
- No other verbs. Plans containing anything else are rejected whole.
- At most 10 steps.
- The last line must be: emit REPAIR_OK
- If you decide the situation cannot be repaired with these verbs,
  output the single line: emit REPAIR_FAILED
- Output the plan only. No markdown, no commentary.`

// SynthesizeRepair asks for a corrective procedure in the restricted
// plan vocabulary. Validation happens in the recovery package; this
// just fetches the text.
func (c *Client) SynthesizeRepair(ctx context.Context, state types.EnvironmentState, errContext string) (string, error) {
	raw, err := c.generate(ctx, fmt.Sprintf(repairPrompt, state.URL, errContext, state.DOM))
	if err != nil {
		return "", err
	}
	return stripFences(raw), nil
}

const composePrompt = `Write an original social post inspired by (not copying) this material:

Title: %s

Body:
%s

Style hint: %s

Reply with ONLY a JSON object, no markdown:
{
  "title": string,        // catchy, under 20 words
  "body": string,         // 100-300 words, first person, practical
  "tags": [string],       // 3-6 topic tags
  "image_prompt": string  // one sentence describing a cover image
}`

// Compose writes a draft from one piece of collected material.
func (c *Client) Compose(ctx context.Context, material types.KnowledgeEntry) (types.Draft, error) {
	raw, err := c.generate(ctx, fmt.Sprintf(composePrompt,
		material.Title, material.Body, material.Analysis.StyleHint))
	if err != nil {
		return types.Draft{}, err
	}
	var out struct {
		Title       string   `json:"title"`
		Body        string   `json:"body"`
		Tags        []string `json:"tags"`
		ImagePrompt string   `json:"image_prompt"`
	}
	if err := decodeJSON(raw, &out); err != nil {
		return types.Draft{}, fmt.Errorf("reasoning: compose response: %w", err)
	}
	if out.Title == "" || out.Body == "" {
		return types.Draft{}, fmt.Errorf("reasoning: compose returned empty draft")
	}
	return types.Draft{
		Title:       out.Title,
		Body:        out.Body,
		Tags:        out.Tags,
		ImagePrompt: out.ImagePrompt,
		Status:      types.DraftComposed,
	}, nil
}

// stripFences removes markdown code fences the model sometimes wraps
// its output in despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// drop a language tag on the opening fence
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		first := strings.TrimSpace(s[:i])
		if first != "" && !strings.ContainsAny(first, " \t{[") {
			s = s[i+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// decodeJSON parses a model response that should be a bare JSON object,
// tolerating fences and leading prose up to the first brace.
func decodeJSON(raw string, v interface{}) error {
	s := stripFences(raw)
	if i := strings.IndexByte(s, '{'); i > 0 {
		s = s[i:]
	}
	if j := strings.LastIndexByte(s, '}'); j >= 0 {
		s = s[:j+1]
	}
	return json.Unmarshal([]byte(s), v)
}
