package images

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"pageforge/internal/store"
)

func newTestRegistrar(render Renderer) (*Registrar, afero.Fs) {
	fs := afero.NewMemMapFs()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(fs, "data", render, logger), fs
}

func stubRenderer(result string) Renderer {
	return func(ctx context.Context, prompt string) ([]byte, error) {
		return []byte(result), nil
	}
}

func TestGenerateAndList(t *testing.T) {
	registrar, fs := newTestRegistrar(stubRenderer("png-bytes"))
	ctx := context.Background()

	asset, err := registrar.Generate(ctx, "s1", 1, "a sunset")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if asset.ID == "" || !strings.HasSuffix(asset.FileName, ".png") {
		t.Errorf("unexpected asset: %+v", asset)
	}

	assets, err := registrar.List(ctx, "s1", 1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(assets) != 1 || assets[0].Prompt != "a sunset" {
		t.Errorf("listed assets: %+v", assets)
	}

	// The asset and its metadata live inside the version directory, so the
	// store's version copy carries them.
	dir := store.VersionDir("data", "s1", 1)
	raw, err := afero.ReadFile(fs, filepath.Join(dir, asset.FileName))
	if err != nil {
		t.Fatalf("asset file missing: %v", err)
	}
	if string(raw) != "png-bytes" {
		t.Errorf("asset bytes = %q", raw)
	}
}

func TestEdit(t *testing.T) {
	registrar, _ := newTestRegistrar(stubRenderer("v1"))
	ctx := context.Background()

	asset, err := registrar.Generate(ctx, "s1", 1, "a sunset")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	edited, err := registrar.Edit(ctx, "s1", 1, asset.ID, "a sunrise")
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if edited.ID != asset.ID || edited.FileName != asset.FileName {
		t.Error("edit changed the asset identity")
	}
	if edited.Prompt != "a sunrise" {
		t.Errorf("prompt = %q", edited.Prompt)
	}

	if _, err := registrar.Edit(ctx, "s1", 1, "missing", "x"); err == nil {
		t.Error("expected error editing an unknown image")
	}
}

func TestNotConfigured(t *testing.T) {
	registrar, _ := newTestRegistrar(nil)
	ctx := context.Background()

	if _, err := registrar.Generate(ctx, "s1", 1, "a sunset"); err == nil {
		t.Error("expected error without a renderer")
	}
	if _, err := registrar.Edit(ctx, "s1", 1, "id", "x"); err == nil {
		t.Error("expected error without a renderer")
	}

	// Listing still works; there is just nothing there.
	assets, err := registrar.List(ctx, "s1", 1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(assets) != 0 {
		t.Errorf("assets = %+v", assets)
	}
}
