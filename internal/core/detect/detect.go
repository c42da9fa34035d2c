package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Element is one classified page element. Selector is a CSS selector, Type is
// a coarse tag (cookie-banner, chat-widget, newsletter-modal, social-overlay,
// ad), Confidence is the classifier's certainty in [0,1].
type Element struct {
	Selector   string  `json:"selector"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// Detector classifies intrusive elements in a rendered page. Implementations
// are black boxes; the pipeline only filters their output.
type Detector interface {
	Detect(ctx context.Context, html string) ([]Element, error)
}

// Filter keeps elements whose type is in wanted (all types when wanted is
// empty) and whose confidence meets the threshold.
func Filter(elements []Element, wanted []string, threshold float64) []Element {
	wantedSet := make(map[string]struct{}, len(wanted))
	for _, t := range wanted {
		wantedSet[strings.ToLower(t)] = struct{}{}
	}
	var out []Element
	for _, e := range elements {
		if e.Confidence < threshold {
			continue
		}
		if len(wantedSet) > 0 {
			if _, ok := wantedSet[strings.ToLower(e.Type)]; !ok {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

// Client calls an OpenAI-compatible chat completion endpoint and asks for a
// JSON array of {selector, type, confidence} objects.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

const maxHTMLBytes = 48 << 10

func NewClient(httpClient *http.Client, baseURL, apiKey, model string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, model: model}
}

const systemPrompt = `You classify intrusive elements in an HTML document.
Return a JSON object {"elements": [{"selector": "...", "type": "...", "confidence": 0.0}]}.
Types: cookie-banner, chat-widget, newsletter-modal, social-overlay, ad.
Selectors must be valid CSS and as specific as possible. Confidence is in [0,1].
Return {"elements": []} when nothing matches.`

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) Detect(ctx context.Context, html string) ([]Element, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: pruneHTML(html)},
		},
		Temperature:    0,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detector request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read detector response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detector returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, fmt.Errorf("decode detector response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return nil, nil
	}

	var payload struct {
		Elements []Element `json:"elements"`
	}
	if err := json.Unmarshal([]byte(cr.Choices[0].Message.Content), &payload); err != nil {
		return nil, fmt.Errorf("decode element list: %w", err)
	}
	return payload.Elements, nil
}

// pruneHTML strips script/style/svg noise and truncates, keeping prompts
// inside the model's context window.
func pruneHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		if len(html) > maxHTMLBytes {
			return html[:maxHTMLBytes]
		}
		return html
	}
	doc.Find("script, style, svg, noscript, link, meta").Remove()
	out, err := doc.Html()
	if err != nil {
		out = html
	}
	if len(out) > maxHTMLBytes {
		out = out[:maxHTMLBytes]
	}
	return out
}
