package catalog

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openprovision/provd/internal/catalog/model"
)

// libraryFile is the on-disk YAML shape of one task and its implementations.
type libraryFile struct {
	Name        string            `yaml:"name"`
	Slug        string            `yaml:"slug"`
	Category    string            `yaml:"category"`
	Description string            `yaml:"description"`
	Inputs      []libraryInput    `yaml:"inputs"`
	Outputs     []libraryInput    `yaml:"outputs"`
	Enabled     *bool             `yaml:"enabled"`
	Strategies  []libraryStrategy `yaml:"implementations"`
}

type libraryInput struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Required bool   `yaml:"required"`
	Default  any    `yaml:"default"`
}

type libraryStrategy struct {
	Name              string `yaml:"name"`
	Manufacturer      string `yaml:"manufacturer"`
	Platform          string `yaml:"platform"`
	VersionConstraint string `yaml:"version_constraint"`
	Priority          int    `yaml:"priority"`
	Kind              string `yaml:"kind"`
	Template          string `yaml:"template"`
	Enabled           *bool  `yaml:"enabled"`
}

// LoadResult summarizes one library sync pass.
type LoadResult struct {
	TasksLoaded           int
	ImplementationsLoaded int
	Errors                map[string]error // keyed by file path
}

// LoadLibrary walks dir for task YAML files and upserts them into the store.
// A bad file is recorded and skipped; it never aborts the rest of the sync.
func LoadLibrary(ctx context.Context, store Store, dir string) (*LoadResult, error) {
	result := &LoadResult{Errors: make(map[string]error)}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isYAML(path) {
			return nil
		}
		if err := loadFile(ctx, store, path, result); err != nil {
			slog.Warn("skipping task library file", "path", path, "error", err)
			result.Errors[path] = err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk task library %s: %w", dir, err)
	}
	return result, nil
}

func loadFile(ctx context.Context, store Store, path string, result *LoadResult) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	var file libraryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if file.Slug == "" {
		return fmt.Errorf("%s: task slug is required", path)
	}
	if file.Name == "" {
		file.Name = file.Slug
	}

	task := &model.TaskDefinition{
		Name:         file.Name,
		Slug:         file.Slug,
		Category:     file.Category,
		Description:  file.Description,
		InputSchema:  toInputSpecs(file.Inputs),
		OutputSchema: toInputSpecs(file.Outputs),
		Enabled:      file.Enabled == nil || *file.Enabled,
	}
	if err := store.UpsertTask(ctx, task); err != nil {
		return err
	}
	// Re-read so implementations attach to the persisted row id, not a
	// freshly generated one the upsert may have discarded.
	persisted, err := store.GetTaskBySlug(ctx, file.Slug)
	if err != nil {
		return err
	}
	result.TasksLoaded++

	impls := make([]model.TaskImplementation, 0, len(file.Strategies))
	for _, strategy := range file.Strategies {
		if strategy.Manufacturer == "" {
			return fmt.Errorf("%s: implementation %q: manufacturer is required", path, strategy.Name)
		}
		impl := model.TaskImplementation{
			TaskID:            persisted.ID,
			Name:              strategy.Name,
			Manufacturer:      strategy.Manufacturer,
			VersionConstraint: strategy.VersionConstraint,
			Priority:          strategy.Priority,
			Kind:              implementationKind(strategy.Kind),
			TemplateBody:      strategy.Template,
			Enabled:           strategy.Enabled == nil || *strategy.Enabled,
		}
		if strategy.Platform != "" {
			platform := strategy.Platform
			impl.Platform = &platform
		}
		if impl.Priority == 0 {
			impl.Priority = 100
		}
		if err := store.UpsertImplementation(ctx, &impl); err != nil {
			return err
		}
		impls = append(impls, impl)
		result.ImplementationsLoaded++
	}

	if err := CheckUnique(persisted.ID, impls); err != nil {
		slog.Warn("task library contains a priority tie; selection will fall back to id order",
			"task", file.Slug, "error", err)
	}
	return nil
}

func toInputSpecs(inputs []libraryInput) []model.InputSpec {
	specs := make([]model.InputSpec, 0, len(inputs))
	for _, in := range inputs {
		specs = append(specs, model.InputSpec{
			Name:     in.Name,
			Type:     in.Type,
			Required: in.Required,
			Default:  in.Default,
		})
	}
	return specs
}

func implementationKind(kind string) model.ImplementationKind {
	switch model.ImplementationKind(kind) {
	case model.KindStructuredPayload, model.KindExternalCall:
		return model.ImplementationKind(kind)
	default:
		return model.KindTemplateRender
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
