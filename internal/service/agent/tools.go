package agent

import (
	"encoding/json"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"pageforge/internal/domain/models"
	"pageforge/internal/domain/services"
)

// Tool names offered to the completion engine.
const (
	toolReadFile         = "read_file"
	toolEditFile         = "edit_file"
	toolSummary          = "summary"
	toolListImages       = "list_images"
	toolGenerateImage    = "generate_image"
	toolEditImage        = "edit_image"
	toolGenerateVariants = "generate_variants"
)

// Tool inputs are explicit tagged structs validated at the boundary; the
// loose maps the engine hands over never travel further than decodeInput.

type readFileInput struct {
	File string `json:"file"`
}

func (in readFileInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.File, validation.Required, validation.By(validFileKey)),
	)
}

type editFileInput struct {
	File      string `json:"file"`
	OldString string `json:"oldString"`
	NewString string `json:"newString"`
}

func (in editFileInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.File, validation.Required, validation.By(validFileKey)),
		validation.Field(&in.OldString, validation.Required),
	)
}

type summaryInput struct {
	Message string `json:"message"`
}

func (in summaryInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Message, validation.Required),
	)
}

type generateImageInput struct {
	Prompt string `json:"prompt"`
}

func (in generateImageInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Prompt, validation.Required),
	)
}

type editImageInput struct {
	ImageID string `json:"imageId"`
	Prompt  string `json:"prompt"`
}

func (in editImageInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.ImageID, validation.Required),
		validation.Field(&in.Prompt, validation.Required),
	)
}

type generateVariantsInput struct {
	Count        int      `json:"count"`
	Instructions []string `json:"instructions"`
}

func (in generateVariantsInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Count, validation.Required, validation.Min(2), validation.Max(4)),
		validation.Field(&in.Instructions,
			validation.Required,
			validation.Length(in.Count, in.Count).Error("must contain exactly one instruction per variant"),
			validation.Each(validation.Required),
		),
	)
}

func validFileKey(value any) error {
	name, _ := value.(string)
	_, err := models.ParseFileKey(name)
	return err
}

// decodeInput round-trips the engine's loose input map into a typed struct
// and validates it.
func decodeInput[T validation.Validatable](input map[string]any) (T, error) {
	var out T
	raw, err := json.Marshal(input)
	if err != nil {
		return out, fmt.Errorf("encode tool input: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode tool input: %w", err)
	}
	if err := out.Validate(); err != nil {
		return out, fmt.Errorf("invalid tool input: %w", err)
	}
	return out, nil
}

// catalog builds the tool definitions offered for one run. Image tools are
// gated by the session's image flag, variant generation by the caller.
func catalog(imageGenerationAllowed, allowVariants bool) []services.ToolDefinition {
	fileProperty := map[string]any{
		"type":        "string",
		"enum":        []string{string(models.FileMarkup), string(models.FileStyles), string(models.FileScript)},
		"description": "Which of the three page files to target.",
	}

	defs := []services.ToolDefinition{
		{
			Name:        toolReadFile,
			Description: "Read the current working-copy content of one page file.",
			Properties:  map[string]any{"file": fileProperty},
			Required:    []string{"file"},
		},
		{
			Name:        toolEditFile,
			Description: "Replace a single exact occurrence of oldString with newString in one page file. Provide enough surrounding context to make the match unique.",
			Properties: map[string]any{
				"file":      fileProperty,
				"oldString": map[string]any{"type": "string", "description": "Exact text to replace; must occur exactly once."},
				"newString": map[string]any{"type": "string", "description": "Replacement text. May be empty to delete."},
			},
			Required: []string{"file", "oldString"},
		},
		{
			Name:        toolSummary,
			Description: "Report a short human-readable summary of the changes and finish the turn. Call this exactly once, last.",
			Properties: map[string]any{
				"message": map[string]any{"type": "string", "description": "One or two sentences describing what changed."},
			},
			Required: []string{"message"},
		},
	}

	if imageGenerationAllowed {
		defs = append(defs,
			services.ToolDefinition{
				Name:        toolListImages,
				Description: "List the generated images available to this page.",
				Properties:  map[string]any{},
			},
			services.ToolDefinition{
				Name:        toolGenerateImage,
				Description: "Generate a new image from a prompt and make it available to the page.",
				Properties: map[string]any{
					"prompt": map[string]any{"type": "string", "description": "Description of the image to generate."},
				},
				Required: []string{"prompt"},
			},
			services.ToolDefinition{
				Name:        toolEditImage,
				Description: "Re-render an existing generated image with a new instruction.",
				Properties: map[string]any{
					"imageId": map[string]any{"type": "string", "description": "Id of the image to edit, from list_images."},
					"prompt":  map[string]any{"type": "string", "description": "How to change the image."},
				},
				Required: []string{"imageId", "prompt"},
			},
		)
	}

	if allowVariants {
		defs = append(defs, services.ToolDefinition{
			Name:        toolGenerateVariants,
			Description: "Propose several stylistic variants of the requested change instead of editing the files directly. Each variant gets its own independent session.",
			Properties: map[string]any{
				"count": map[string]any{"type": "integer", "minimum": 2, "maximum": 4},
				"instructions": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "One self-contained instruction per variant.",
				},
			},
			Required: []string{"count", "instructions"},
		})
	}

	return defs
}
