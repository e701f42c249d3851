package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/deepnoodle-ai/flowgraph/retry"
)

type fileParams struct {
	Operation   string `json:"operation"`
	Path        string `json:"path"`
	Content     string `json:"content"`
	Permissions string `json:"permissions"`
	CreateDirs  bool   `json:"create_dirs"`
}

// NewFileTool performs file operations confined to the directory dir.
// Supported operations are read, write, append, delete, exists, mkdir and
// list. Paths that escape dir are rejected.
func NewFileTool(dir string) Tool {
	return Typed("file", "Reads, writes and lists files in the workspace directory.", func(ctx context.Context, params fileParams) (any, error) {
		if params.Path == "" {
			return nil, retry.Permanent(errors.New("file requires a 'path' parameter"))
		}
		root, err := os.OpenRoot(dir)
		if err != nil {
			return nil, fmt.Errorf("open workspace: %w", err)
		}
		defer root.Close()

		result, err := fileOperation(root, params)
		if err != nil && (errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrExist) || errors.Is(err, fs.ErrPermission)) {
			return nil, retry.Permanent(err)
		}
		return result, err
	})
}

func fileOperation(root *os.Root, params fileParams) (any, error) {
	name := path.Clean(strings.TrimPrefix(params.Path, "/"))
	switch strings.ToLower(params.Operation) {
	case "", "read":
		content, err := root.ReadFile(name)
		if err != nil {
			return nil, err
		}
		return string(content), nil
	case "write", "append":
		if params.CreateDirs {
			if err := root.MkdirAll(path.Dir(name), 0o755); err != nil {
				return nil, err
			}
		}
		perm, err := parsePermissions(params.Permissions, 0o644)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if strings.EqualFold(params.Operation, "append") {
			flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
		}
		f, err := root.OpenFile(name, flags, perm)
		if err != nil {
			return nil, err
		}
		if _, err := f.WriteString(params.Content); err != nil {
			f.Close()
			return nil, err
		}
		return true, f.Close()
	case "delete":
		return true, root.Remove(name)
	case "exists":
		_, err := root.Stat(name)
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return err == nil, err
	case "mkdir":
		perm, err := parsePermissions(params.Permissions, 0o755)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		if params.CreateDirs {
			return true, root.MkdirAll(name, perm)
		}
		return true, root.Mkdir(name, perm)
	case "list":
		d, err := root.Open(name)
		if err != nil {
			return nil, err
		}
		defer d.Close()
		entries, err := d.ReadDir(-1)
		if err != nil {
			return nil, err
		}
		names := make([]any, len(entries))
		for i, entry := range entries {
			names[i] = entry.Name()
			if entry.IsDir() {
				names[i] = entry.Name() + "/"
			}
		}
		return names, nil
	}
	return nil, retry.Permanent(fmt.Errorf("unsupported file operation %q", params.Operation))
}

func parsePermissions(value string, fallback fs.FileMode) (fs.FileMode, error) {
	if value == "" {
		return fallback, nil
	}
	mode, err := strconv.ParseUint(value, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid permissions %q", value)
	}
	return fs.FileMode(mode), nil
}
