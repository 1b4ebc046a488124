// Package dietplan generates medication-aware diet suggestions through an
// OpenAI-compatible chat completion service, with a template fallback when the
// service is down or the circuit is open.
package dietplan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/careloop/go-medtrack/internal/domain/prescription"
	"github.com/careloop/go-medtrack/pkg/circuitbreaker"
)

// Config holds diet plan service configuration
type Config struct {
	// BaseURL is the chat completion endpoint base, e.g. https://api.openai.com/v1
	BaseURL string
	// APIKey is sent as a bearer token
	APIKey string
	// Model is the model identifier
	Model string
	// Timeout bounds a single generation request
	Timeout time.Duration
}

// DefaultConfig returns defaults for the diet plan client
func DefaultConfig() Config {
	return Config{
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
		Timeout: 20 * time.Second,
	}
}

// Plan is a generated diet plan
type Plan struct {
	UserID      string    `json:"user_id"`
	Summary     string    `json:"summary"`
	Meals       []string  `json:"meals"`
	Avoid       []string  `json:"avoid"`
	Hydration   string    `json:"hydration"`
	Source      string    `json:"source"` // "llm" or "template"
	GeneratedAt time.Time `json:"generated_at"`
}

// Client calls the LLM service behind a circuit breaker.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewClient creates a diet plan client. A nil breaker disables circuit
// breaking (requests go straight through).
func NewClient(cfg Config, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.Model == "" {
		cfg.Model = DefaultConfig().Model
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
	}
}

// Generate produces a diet plan for the user's active prescriptions. When the
// LLM call fails or the circuit is open, the template fallback is returned
// instead; the error return is reserved for programming errors, so callers
// always get a usable plan.
func (c *Client) Generate(ctx context.Context, userID string, prescriptions []*prescription.Prescription) (*Plan, error) {
	fallback := func(err error) (interface{}, error) {
		if err != nil {
			c.logger.Warn("diet plan falling back to template", zap.Error(err))
		}
		return c.templatePlan(userID, prescriptions), nil
	}

	call := func() (interface{}, error) {
		return c.generateLLM(ctx, userID, prescriptions)
	}

	var (
		result interface{}
		err    error
	)
	if c.breaker != nil {
		result, err = c.breaker.ExecuteWithFallback(ctx, call, fallback)
	} else {
		result, err = call()
	}
	if err != nil {
		// Non-breaker failures also fall back rather than surfacing an error.
		return c.templatePlan(userID, prescriptions), nil
	}
	return result.(*Plan), nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) generateLLM(ctx context.Context, userID string, prescriptions []*prescription.Prescription) (*Plan, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(prescriptions)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("llm request: status %d: %s", resp.StatusCode, string(b))
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("llm response had no choices")
	}

	plan, err := parsePlan(cr.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	plan.UserID = userID
	plan.Source = "llm"
	plan.GeneratedAt = time.Now().UTC()
	return plan, nil
}

const systemPrompt = `You are a dietitian assistant. Given a patient's current ` +
	`medications and their food-timing instructions, respond ONLY with a JSON ` +
	`object: {"summary": string, "meals": [string], "avoid": [string], ` +
	`"hydration": string}. Keep suggestions general; do not give medical advice.`

func buildPrompt(prescriptions []*prescription.Prescription) string {
	var sb strings.Builder
	sb.WriteString("Current medications:\n")
	for _, p := range prescriptions {
		if !p.Active {
			continue
		}
		fmt.Fprintf(&sb, "- %s %s, %s, take %s food", p.MedicineName, p.Dosage, p.Frequency, p.BeforeAfterFood)
		if p.WithWater {
			sb.WriteString(", with water")
		}
		if p.AvoidAlcohol {
			sb.WriteString(", avoid alcohol")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// parsePlan tolerates the model wrapping the JSON in a code fence.
func parsePlan(content string) (*Plan, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var plan Plan
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &plan); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	return &plan, nil
}

// templatePlan builds a static plan from the prescriptions alone. It honors
// the food-timing and alcohol flags so the fallback is still personalized.
func (c *Client) templatePlan(userID string, prescriptions []*prescription.Prescription) *Plan {
	plan := &Plan{
		UserID: userID,
		Summary: "Balanced meals timed around your medication schedule. " +
			"Generated from your prescription instructions.",
		Meals: []string{
			"Breakfast: oatmeal with fruit and a glass of water",
			"Lunch: grilled vegetables with lean protein and whole grains",
			"Dinner: light soup or salad with a protein source",
		},
		Hydration:   "Aim for 6-8 glasses of water through the day.",
		Source:      "template",
		GeneratedAt: time.Now().UTC(),
	}

	avoid := map[string]bool{}
	for _, p := range prescriptions {
		if !p.Active {
			continue
		}
		if p.AvoidAlcohol {
			avoid["alcohol while on "+p.MedicineName] = true
		}
		if p.BeforeAfterFood == prescription.FoodBefore {
			plan.Meals = append(plan.Meals,
				fmt.Sprintf("Take %s before eating; wait at least 30 minutes before your meal", p.MedicineName))
		}
	}
	for a := range avoid {
		plan.Avoid = append(plan.Avoid, a)
	}
	if len(plan.Avoid) == 0 {
		plan.Avoid = []string{"excessive caffeine close to bedtime doses"}
	}
	return plan
}
