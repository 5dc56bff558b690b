package routes

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/generation"
	"github.com/any-hub/offline-hub/internal/worker"
)

// Lifecycle 由 *worker.Worker 实现。
type Lifecycle interface {
	State() worker.State
	Current() []generation.Generation
}

// RegisterDiagnosticsRoutes 暴露 /-/status 与 /-/generations/:name 诊断接口，供运维查看缓存状态。
func RegisterDiagnosticsRoutes(app *fiber.App, lifecycle Lifecycle, storage cache.Storage) {
	if app == nil || lifecycle == nil || storage == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		ctx := c.Context()
		names, err := storage.Names(ctx)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "storage_unavailable"})
		}
		set, err := generation.NewSet(lifecycle.Current()...)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		visible, err := encodeGenerations(ctx, storage, set, names)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "storage_unavailable"})
		}
		return c.JSON(statusPayload{
			State:       string(lifecycle.State()),
			Current:     set.Names(),
			Generations: visible,
		})
	})

	app.Get("/-/generations/:name", func(c fiber.Ctx) error {
		name := strings.TrimSpace(c.Params("name"))
		if name == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "generation_name_required"})
		}
		ctx := c.Context()
		ok, err := storage.Has(ctx, name)
		switch {
		case errors.Is(err, cache.ErrInvalidName):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "generation_name_invalid"})
		case err != nil:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "storage_unavailable"})
		case !ok:
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "generation_not_found"})
		}
		detail, err := describeGeneration(ctx, storage, name)
		if errors.Is(err, cache.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "generation_not_found"})
		}
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "storage_unavailable"})
		}
		return c.JSON(detail)
	})
}

type statusPayload struct {
	State       string              `json:"state"`
	Current     []string            `json:"current"`
	Generations []generationPayload `json:"generations"`
}

type generationPayload struct {
	Name    string `json:"name"`
	Family  string `json:"family,omitempty"`
	Version int    `json:"version,omitempty"`
	Owned   bool   `json:"owned"`
	Current bool   `json:"current"`
	Entries int    `json:"entries"`
}

type generationDetailPayload struct {
	Name       string   `json:"name"`
	Keys       []string `json:"keys"`
	Entries    int      `json:"entries"`
	Bytes      int64    `json:"bytes"`
	BytesHuman string   `json:"bytes_human"`
}

func encodeGenerations(ctx context.Context, storage cache.Storage, set *generation.Set, names []string) ([]generationPayload, error) {
	sort.Strings(names)
	result := make([]generationPayload, 0, len(names))
	for _, name := range names {
		item := generationPayload{Name: name}
		if g, err := generation.Parse(name); err == nil {
			item.Family = g.Family
			item.Version = g.Version
			item.Owned = set.Owns(g.Family)
			item.Current = set.IsCurrentName(name)
		}
		// 列举与读取之间可能被 reconcile 删除，跳过即可。
		c, err := storage.Lookup(ctx, name)
		if errors.Is(err, cache.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		keys, err := c.Keys(ctx)
		if err != nil {
			return nil, err
		}
		item.Entries = len(keys)
		result = append(result, item)
	}
	return result, nil
}

func describeGeneration(ctx context.Context, storage cache.Storage, name string) (generationDetailPayload, error) {
	c, err := storage.Lookup(ctx, name)
	if err != nil {
		return generationDetailPayload{}, err
	}
	keys, err := c.Keys(ctx)
	if err != nil {
		return generationDetailPayload{}, err
	}
	sort.Strings(keys)

	var total int64
	for _, key := range keys {
		resp, err := c.Match(ctx, key)
		if err != nil {
			return generationDetailPayload{}, err
		}
		total += resp.Size()
	}
	return generationDetailPayload{
		Name:       name,
		Keys:       keys,
		Entries:    len(keys),
		Bytes:      total,
		BytesHuman: humanize.Bytes(uint64(total)),
	}, nil
}
