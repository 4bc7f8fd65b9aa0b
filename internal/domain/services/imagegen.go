package services

import (
	"context"

	"pageforge/internal/domain/models"
)

// ImageGenerator is the image-generation collaborator. Operations are scoped
// to one session version so generated assets land next to the snapshot that
// references them.
type ImageGenerator interface {
	// List returns the image metadata recorded for a version.
	List(ctx context.Context, sessionID string, version int) ([]models.ImageAsset, error)

	// Generate creates a new image from a prompt and records it.
	Generate(ctx context.Context, sessionID string, version int, prompt string) (models.ImageAsset, error)

	// Edit re-renders an existing image with a new instruction.
	Edit(ctx context.Context, sessionID string, version int, imageID, prompt string) (models.ImageAsset, error)
}
