package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"script-rpc/codec"
	"script-rpc/server"
)

// Demo is the receiver served by `scriptrpc serve`.
type Demo struct{}

func (d *Demo) Echo(v any) (any, error) {
	return v, nil
}

func (d *Demo) Add(a, b float64) (float64, error) {
	return a + b, nil
}

const maxItems = 10_000

// GetItems returns 1..limit.
func (d *Demo) GetItems(limit int) (map[string][]int, error) {
	if limit < 0 || limit > maxItems {
		return nil, fmt.Errorf("%w: limit must be within [0, %d], got %d", server.ErrInvalidArgument, maxItems, limit)
	}
	items := make([]int, limit)
	for i := range items {
		items[i] = i + 1
	}
	return map[string][]int{"items": items}, nil
}

// dirImages serves files of dir by base name. Paths are not allowed.
func dirImages(dir string) server.ImageSource {
	return func(ctx context.Context, id string) (any, error) {
		if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
			return nil, fmt.Errorf("%w: image %q", server.ErrNotFound, id)
		}
		data, err := os.ReadFile(filepath.Join(dir, id))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: image %q", server.ErrNotFound, id)
			}
			return nil, err
		}
		return codec.EncodeImage(id, http.DetectContentType(data), data), nil
	}
}
