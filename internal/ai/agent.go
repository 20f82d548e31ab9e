package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
	"github.com/openai/openai-go/shared/constant"

	"github.com/magnus-im/CertificateManager/internal/core"
)

// ErrUnavailable is returned when no API key is configured.
var ErrUnavailable = errors.New("mapping suggestions are not configured")

// SupplierLine is the unmapped supplier line a suggestion is asked for.
type SupplierLine struct {
	SKU           string
	Description   string
	Unit          string
	NCM           string
	SupplierName  string
	SupplierTaxID string
}

// Suggester proposes a catalog product for an unmapped supplier line.
// Suggestions are advisory; callers never apply them without operator action.
type Suggester interface {
	SuggestProduct(ctx context.Context, line SupplierLine, catalog []core.Product) (*core.MappingSuggestion, error)
}

type Agent struct {
	client *openai.Client
	model  string
}

// NewAgent returns nil when apiKey is empty so callers can treat the tier as disabled.
func NewAgent(apiKey, model string) *Agent {
	if apiKey == "" {
		return nil
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &Agent{client: &client, model: model}
}

func (a *Agent) SuggestProduct(ctx context.Context, line SupplierLine, catalog []core.Product) (*core.MappingSuggestion, error) {
	if a == nil {
		return nil, ErrUnavailable
	}
	if len(catalog) == 0 {
		return nil, fmt.Errorf("catalog is empty: %w", core.ErrNotFound)
	}

	schemaMap, err := suggestionSchema()
	if err != nil {
		return nil, err
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(a.model),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: param.NewOpt(buildPrompt(line, catalog)),
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Type:        constant.JSONSchema("json_schema"),
					Name:        "product_mapping_suggestion",
					Strict:      param.NewOpt(true),
					Schema:      schemaMap,
					Description: param.NewOpt("The catalog product that matches a supplier invoice line"),
				},
			},
		},
	}

	resp, err := a.client.Responses.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai responses error: %w", err)
	}

	content := resp.OutputText()
	if content == "" {
		return nil, fmt.Errorf("empty response content")
	}
	return parseSuggestion(content, catalog)
}

func buildPrompt(line SupplierLine, catalog []core.Product) string {
	var b strings.Builder
	for _, p := range catalog {
		fmt.Fprintf(&b, "- id=%d code=%s name=%q unit=%s\n", p.ID, p.Code, p.Name, p.Unit)
	}
	return fmt.Sprintf(`You match supplier invoice lines to an internal product catalog.
Rules:
1. Choose ONLY a product id from the catalog below, or 0 when nothing matches.
2. Compare product names, units and codes; supplier descriptions are often abbreviated.
3. Provide a confidence score (0.0-1.0).
4. Explain your reasoning in one or two sentences.

Catalog:
%s
Supplier: %s (%s)
Supplier SKU: %s
Description: %s
Unit: %s
NCM: %s`, b.String(), line.SupplierName, line.SupplierTaxID, line.SKU, line.Description, line.Unit, line.NCM)
}

// parseSuggestion decodes the model output and rejects ids outside the catalog.
func parseSuggestion(content string, catalog []core.Product) (*core.MappingSuggestion, error) {
	var s core.MappingSuggestion
	if err := json.Unmarshal([]byte(content), &s); err != nil {
		return nil, fmt.Errorf("failed to parse suggestion: %w", err)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return nil, fmt.Errorf("suggestion confidence %v out of range", s.Confidence)
	}
	if s.ProductID == 0 {
		return nil, fmt.Errorf("no catalog product matches: %w", core.ErrNotFound)
	}
	for _, p := range catalog {
		if p.ID == s.ProductID {
			return &s, nil
		}
	}
	return nil, fmt.Errorf("suggested product %d is not in the catalog: %w", s.ProductID, core.ErrNotFound)
}

func suggestionSchema() (map[string]any, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schemaJSON, err := json.Marshal(reflector.Reflect(core.MappingSuggestion{}))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var schemaMap map[string]any
	if err := json.Unmarshal(schemaJSON, &schemaMap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema to map: %w", err)
	}
	return schemaMap, nil
}
