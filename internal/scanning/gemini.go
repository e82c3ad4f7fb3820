package scanning

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements the Model interface using Google Gemini
type Gemini struct {
	client    *genai.Client
	modelName string
}

// NewGemini creates a new Gemini client
func NewGemini(ctx context.Context, apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client:    client,
		modelName: modelName,
	}, nil
}

// Name returns the configured model name
func (g *Gemini) Name() string {
	return "gemini/" + g.modelName
}

// Invoke sends the document and prompt to Gemini. PDFs are sent as-is since
// Gemini reads them natively.
func (g *Gemini) Invoke(ctx context.Context, req Request) (string, error) {
	doc, err := PrepareDocument(req.Document, req.ContentType, true)
	if err != nil {
		return "", err
	}

	// GenerationConfig lives on the handle, so each call gets its own
	model := g.client.GenerativeModel(g.modelName)
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: ptrFloat32(0),
	}
	if req.JSONMode {
		model.GenerationConfig.ResponseMIMEType = "application/json"
		model.GenerationConfig.ResponseSchema = receiptResponseSchema()
	}

	resp, err := model.GenerateContent(ctx,
		genai.Blob{MIMEType: doc.MIMEType, Data: doc.Data},
		genai.Text(req.Prompt),
	)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	text := responseText(resp)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("no response from gemini")
	}
	return text, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}

// responseText joins the text parts of the first candidate
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String()
}

// receiptResponseSchema mirrors the record requested by ExtractionPrompt.
// Every field is nullable because receipts routinely omit some of them.
func receiptResponseSchema() *genai.Schema {
	str := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Nullable: true, Description: desc}
	}
	num := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeNumber, Nullable: true, Description: desc}
	}
	party := func(desc string) *genai.Schema {
		return &genai.Schema{
			Type:        genai.TypeObject,
			Nullable:    true,
			Description: desc,
			Properties: map[string]*genai.Schema{
				"name":    str("name"),
				"address": str("street address"),
				"phone":   str("phone number"),
				"email":   str("email address"),
			},
		}
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"issuer":      party("merchant that issued the receipt"),
			"issued_to":   party("customer the receipt was issued to"),
			"date":        str("transaction date, YYYY-MM-DD"),
			"grand_total": num("total amount charged"),
			"currency":    str("currency code or symbol"),
			"line_items": {
				Type:     genai.TypeArray,
				Nullable: true,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"description": str("item description"),
						"qty":         num("quantity"),
						"price":       num("unit price"),
						"subtotal":    num("line total"),
					},
				},
			},
			"payment_method": str("payment method or bank name"),
			"note":           str("short description of the purchase"),
		},
	}
}

func ptrFloat32(v float32) *float32 { return &v }
