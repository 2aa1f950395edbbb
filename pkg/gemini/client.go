package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Samurai315/themis/internal/optimizer"
	"github.com/Samurai315/themis/pkg/config"
)

// Generation tunables sent with every request.
const (
	temperature     = 0.3
	topP            = 0.8
	topK            = 40
	maxOutputTokens = 4096
)

// Prompt size caps. The adapter already bounds the entity list; these
// additionally bound the resource lists and the per-prompt entity dump.
const (
	promptDayLimit    = 5
	promptSlotLimit   = 8
	promptRoomLimit   = 10
	promptEntityLimit = 30
)

// Client calls the Gemini generateContent REST API and parses schedule
// proposals out of the model's text response. It implements
// optimizer.Advisor.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ optimizer.Advisor = (*Client)(nil)

// NewClient builds a Gemini advisor client from service configuration.
func NewClient(cfg config.GeminiConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

type generateRequest struct {
	Contents         []content       `json:"contents"`
	GenerationConfig generationCfg   `json:"generationConfig"`
	SafetySettings   []safetySetting `json:"safetySettings"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationCfg struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type proposalRow struct {
	EntityID string `json:"entity_id"`
	Day      string `json:"day"`
	Time     string `json:"time"`
	Room     string `json:"room"`
}

// Suggest asks the model for a draft schedule. Any transport, blocking
// or parsing failure is returned as an error; the advisor adapter is
// responsible for the fallback.
func (c *Client) Suggest(ctx context.Context, entities []optimizer.Entity, constraints []optimizer.Constraint, cfg optimizer.Config) ([]optimizer.Assignment, error) {
	prompt := buildPrompt(entities, cfg)

	reqBody := generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationCfg{
			Temperature:     temperature,
			TopP:            topP,
			TopK:            topK,
			MaxOutputTokens: maxOutputTokens,
		},
		SafetySettings: []safetySetting{
			{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_NONE"},
			{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_NONE"},
			{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_NONE"},
			{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_NONE"},
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call gemini: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gemini returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(parsed.Candidates) == 0 {
		if reason := parsed.PromptFeedback.BlockReason; reason != "" {
			return nil, fmt.Errorf("prompt blocked: %s", reason)
		}
		return nil, fmt.Errorf("no candidates in response")
	}

	candidate := parsed.Candidates[0]
	switch candidate.FinishReason {
	case "", "STOP", "FINISH_REASON_UNSPECIFIED":
	case "SAFETY":
		return nil, fmt.Errorf("response filtered for safety")
	case "RECITATION":
		return nil, fmt.Errorf("response blocked for recitation")
	default:
		return nil, fmt.Errorf("unexpected finish reason %q", candidate.FinishReason)
	}

	var text string
	for _, p := range candidate.Content.Parts {
		text += p.Text
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("no text in response")
	}

	assignments, err := parseSchedule(text)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("gemini proposal parsed",
		zap.Int("assignments", len(assignments)),
		zap.String("model", c.model))
	return assignments, nil
}

// parseSchedule extracts the first JSON array from the model text,
// tolerating markdown fences around it.
func parseSchedule(text string) ([]optimizer.Assignment, error) {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")

	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in response")
	}

	var rows []proposalRow
	if err := json.Unmarshal([]byte(text[start:end+1]), &rows); err != nil {
		return nil, fmt.Errorf("parse schedule array: %w", err)
	}

	assignments := make([]optimizer.Assignment, 0, len(rows))
	for _, row := range rows {
		if row.EntityID == "" {
			continue
		}
		assignments = append(assignments, optimizer.Assignment{
			EntityID: row.EntityID,
			Day:      row.Day,
			Time:     row.Time,
			Room:     row.Room,
		})
	}
	if len(assignments) == 0 {
		return nil, fmt.Errorf("empty schedule in response")
	}
	return assignments, nil
}

type promptEntity struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Duration int    `json:"duration"`
	NeedsLab bool   `json:"needs_lab"`
}

func buildPrompt(entities []optimizer.Entity, cfg optimizer.Config) string {
	days := capList(cfg.Days, promptDayLimit)
	slots := capList(cfg.TimeSlots, promptSlotLimit)
	rooms := capList(cfg.Rooms, promptRoomLimit)

	simplified := make([]promptEntity, 0, promptEntityLimit)
	for _, ent := range entities {
		if len(simplified) >= promptEntityLimit {
			break
		}
		duration := ent.Duration
		if duration <= 0 {
			duration = 1
		}
		sessionType := ent.SessionType
		if sessionType == "" {
			sessionType = "unknown"
		}
		simplified = append(simplified, promptEntity{
			ID:       ent.ID,
			Name:     truncate(ent.Name, 50),
			Type:     sessionType,
			Duration: duration,
			NeedsLab: ent.RequiresLab,
		})
	}

	entityJSON, _ := json.MarshalIndent(simplified, "", " ")

	var b strings.Builder
	b.WriteString("Create a weekly timetable schedule.\n\n")
	b.WriteString("Resources available:\n")
	b.WriteString("- Days: " + strings.Join(days, ", ") + "\n")
	b.WriteString("- Times: " + strings.Join(slots, ", ") + "\n")
	b.WriteString("- Rooms: " + strings.Join(rooms, ", ") + "\n\n")
	b.WriteString("Schedule these classes (first 30 shown):\n")
	b.Write(entityJSON)
	b.WriteString("\n\nRules:\n")
	b.WriteString("1. No room can have two classes at same time\n")
	b.WriteString("2. Theory classes need regular rooms\n")
	b.WriteString("3. Lab classes need lab rooms\n")
	b.WriteString("4. Spread classes across the week\n\n")
	b.WriteString("Return ONLY a JSON array like this:\n")
	b.WriteString(`[` + "\n")
	b.WriteString(` {"entity_id": "theory_1_0", "day": "Monday", "time": "09:00", "room": "R101"},` + "\n")
	b.WriteString(` {"entity_id": "lab_2_0", "day": "Tuesday", "time": "14:00", "room": "LAB-CS1"}` + "\n")
	b.WriteString(`]` + "\n\n")
	b.WriteString("No markdown, no explanation, only the JSON array:\n")
	return b.String()
}

func capList(values []string, limit int) []string {
	if len(values) > limit {
		return values[:limit]
	}
	return values
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
