package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const modelName = "gemini-2.0-flash-001"

type Client struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

func NewClient(ctx context.Context, apiKey string) (*Client, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	model := client.GenerativeModel(modelName)
	model.ResponseMIMEType = "application/json"

	return &Client{client: client, model: model}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

type MessageHistory struct {
	Sender  string // "Traveler" or "Guide"
	Content string
}

// NegotiationRequest is what the guide's assistant knows about a thread.
// Amounts are in the thread currency.
type NegotiationRequest struct {
	Currency      string
	InitialBudget int64
	LatestOffer   int64 // 0 when nobody has offered yet
	OfferedBy     string
	MinPrice      int64 // 0 when the guide has no floor
	History       []MessageHistory
}

type NegotiationResponse struct {
	Intent          string `json:"intent"`   // NEGOTIATION, AGREEMENT, QUESTION
	Decision        string `json:"decision"` // ACCEPT, REJECT, COUNTER, ANSWER
	DetectedPrice   int64  `json:"detected_price"`
	CounterPrice    int64  `json:"counter_price"`
	Reasoning       string `json:"reasoning"`
	ResponseContent string `json:"response_content"`
}

func buildPrompt(req NegotiationRequest) string {
	var history strings.Builder
	for _, msg := range req.History {
		fmt.Fprintf(&history, "- %s: %s\n", msg.Sender, msg.Content)
	}
	if history.Len() == 0 {
		history.WriteString("(no messages yet)\n")
	}

	offer := "none yet"
	if req.LatestOffer > 0 {
		offer = fmt.Sprintf("%d %s (proposed by the %s)", req.LatestOffer, req.Currency, req.OfferedBy)
	}
	floor := "not set"
	if req.MinPrice > 0 {
		floor = fmt.Sprintf("%d %s (you MUST NOT go below this)", req.MinPrice, req.Currency)
	}

	return fmt.Sprintf(`
You are an assistant helping a local tour **Guide** negotiate the price of a private tour with a **Traveler**.
Draft the guide's next reply. The guide reviews your draft; nothing is sent automatically.

**Negotiation Context:**
- Traveler's initial budget: %d %s
- Latest offer on the table: %s
- Guide's minimum price: %s

**Conversation History:**
%s
**Instructions:**
1. Determine the traveler's intent: "NEGOTIATION" (price talk), "AGREEMENT" (ready to book), or "QUESTION" (itinerary, logistics).
2. Decide: ACCEPT the latest offer, COUNTER with a price, REJECT politely, or ANSWER a question.
   - Never counter below the guide's minimum price.
3. Respond in **JSON** only, in the language the traveler uses.

JSON Schema:
{
  "intent": "NEGOTIATION" | "AGREEMENT" | "QUESTION",
  "decision": "ACCEPT" | "REJECT" | "COUNTER" | "ANSWER",
  "detected_price": 0,
  "counter_price": 0,
  "reasoning": "Short reasoning for the guide...",
  "response_content": "Reply to the traveler..."
}
`, req.InitialBudget, req.Currency, offer, floor, history.String())
}

func (c *Client) GenerateNegotiationResponse(ctx context.Context, req NegotiationRequest) (*NegotiationResponse, error) {
	resp, err := c.model.GenerateContent(ctx, genai.Text(buildPrompt(req)))
	if err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("empty response from Gemini")
	}

	txt, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return nil, fmt.Errorf("unexpected response type")
	}
	return ParseResponse(string(txt))
}

// ParseResponse decodes the model's JSON answer.
func ParseResponse(txt string) (*NegotiationResponse, error) {
	txt = strings.TrimSpace(txt)
	txt = strings.TrimPrefix(txt, "```json")
	txt = strings.TrimSuffix(strings.TrimPrefix(txt, "```"), "```")

	var parsed NegotiationResponse
	if err := json.Unmarshal([]byte(txt), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	parsed.Decision = strings.ToUpper(strings.TrimSpace(parsed.Decision))
	parsed.Intent = strings.ToUpper(strings.TrimSpace(parsed.Intent))
	return &parsed, nil
}
