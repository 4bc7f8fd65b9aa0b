package images

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"pageforge/internal/domain/models"
	"pageforge/internal/domain/services"
	"pageforge/internal/store"
)

const metadataFileName = "images.json"

// Renderer produces PNG bytes for a prompt. The real provider call lives
// behind this function; the registrar only owns metadata and asset files.
type Renderer func(ctx context.Context, prompt string) ([]byte, error)

// Registrar implements the ImageGenerator collaborator on the session tree:
// it keeps images.json per version directory and writes the rendered assets
// next to it, so version copies and clones carry them automatically.
type Registrar struct {
	fs     afero.Afero
	root   string
	render Renderer
	logger *slog.Logger
}

// New creates a registrar. render may be nil; Generate and Edit then fail
// with a configuration error the agent loop surfaces as a tool result.
func New(fs afero.Fs, root string, render Renderer, logger *slog.Logger) *Registrar {
	return &Registrar{
		fs:     afero.Afero{Fs: fs},
		root:   root,
		render: render,
		logger: logger,
	}
}

var _ services.ImageGenerator = (*Registrar)(nil)

// List implements services.ImageGenerator.
func (r *Registrar) List(ctx context.Context, sessionID string, version int) ([]models.ImageAsset, error) {
	return r.readMetadata(store.VersionDir(r.root, sessionID, version))
}

// Generate implements services.ImageGenerator.
func (r *Registrar) Generate(ctx context.Context, sessionID string, version int, prompt string) (models.ImageAsset, error) {
	if r.render == nil {
		return models.ImageAsset{}, fmt.Errorf("image generation is not configured")
	}

	raw, err := r.render(ctx, prompt)
	if err != nil {
		return models.ImageAsset{}, fmt.Errorf("render image: %w", err)
	}

	dir := store.VersionDir(r.root, sessionID, version)
	asset := models.ImageAsset{
		ID:     uuid.NewString(),
		Prompt: prompt,
	}
	asset.FileName = asset.ID + ".png"

	if err := r.fs.WriteFile(filepath.Join(dir, asset.FileName), raw, 0o644); err != nil {
		return models.ImageAsset{}, fmt.Errorf("write image asset: %w", err)
	}

	assets, err := r.readMetadata(dir)
	if err != nil {
		return models.ImageAsset{}, err
	}
	if err := r.writeMetadata(dir, append(assets, asset)); err != nil {
		return models.ImageAsset{}, err
	}

	r.logger.Info("image generated",
		"session_id", sessionID,
		"version", version,
		"image_id", asset.ID,
	)
	return asset, nil
}

// Edit implements services.ImageGenerator. The asset keeps its id and file
// name; only the bytes and the recorded prompt change.
func (r *Registrar) Edit(ctx context.Context, sessionID string, version int, imageID, prompt string) (models.ImageAsset, error) {
	if r.render == nil {
		return models.ImageAsset{}, fmt.Errorf("image generation is not configured")
	}

	dir := store.VersionDir(r.root, sessionID, version)
	assets, err := r.readMetadata(dir)
	if err != nil {
		return models.ImageAsset{}, err
	}

	idx := -1
	for i, asset := range assets {
		if asset.ID == imageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return models.ImageAsset{}, fmt.Errorf("image not found: %s", imageID)
	}

	raw, err := r.render(ctx, prompt)
	if err != nil {
		return models.ImageAsset{}, fmt.Errorf("render image: %w", err)
	}
	if err := r.fs.WriteFile(filepath.Join(dir, assets[idx].FileName), raw, 0o644); err != nil {
		return models.ImageAsset{}, fmt.Errorf("write image asset: %w", err)
	}

	assets[idx].Prompt = prompt
	if err := r.writeMetadata(dir, assets); err != nil {
		return models.ImageAsset{}, err
	}
	return assets[idx], nil
}

func (r *Registrar) readMetadata(dir string) ([]models.ImageAsset, error) {
	raw, err := r.fs.ReadFile(filepath.Join(dir, metadataFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read image metadata: %w", err)
	}
	var assets []models.ImageAsset
	if err := json.Unmarshal(raw, &assets); err != nil {
		return nil, fmt.Errorf("decode image metadata: %w", err)
	}
	return assets, nil
}

func (r *Registrar) writeMetadata(dir string, assets []models.ImageAsset) error {
	raw, err := json.MarshalIndent(assets, "", "  ")
	if err != nil {
		return fmt.Errorf("encode image metadata: %w", err)
	}
	if err := r.fs.WriteFile(filepath.Join(dir, metadataFileName), raw, 0o644); err != nil {
		return fmt.Errorf("write image metadata: %w", err)
	}
	return nil
}
