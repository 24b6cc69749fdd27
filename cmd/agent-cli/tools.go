package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kschuler/agentrt/part"
)

// fsRootKey scopes every filesystem tool's reads and writes to one root
// directory passed in on the context, the way the teacher's fstools package
// scopes tool calls to an fs.FS rather than trusting raw paths from a model.
type fsRootKey struct{}

func withFSRoot(ctx context.Context, root string) context.Context {
	return context.WithValue(ctx, fsRootKey{}, root)
}

func fsRoot(ctx context.Context) (string, error) {
	root, ok := ctx.Value(fsRootKey{}).(string)
	if !ok || root == "" {
		return "", fmt.Errorf("no filesystem root bound to context")
	}
	return root, nil
}

// resolveUnderRoot joins root and rel, rejecting any path that escapes root
// (a traversal like "../../etc/passwd" is refused rather than silently
// clamped, since the caller is a model acting on untrusted tool arguments).
func resolveUnderRoot(root, rel string) (string, error) {
	full := filepath.Join(root, rel)
	relToRoot, err := filepath.Rel(root, full)
	if err != nil || relToRoot == ".." || strings.HasPrefix(relToRoot, "../") {
		return "", fmt.Errorf("path %q escapes the allowed root", rel)
	}
	return full, nil
}

func readFileTool() part.Tool {
	return part.Tool{
		ToolDef: part.ToolDef{
			Name:        "read_file",
			Description: "Read the contents of a text file relative to the working directory.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string", "description": "File path, relative to the working directory."},
				},
				"required": []any{"path"},
			},
		},
		OnCall: func(ctx context.Context, arguments map[string]any) (any, error) {
			root, err := fsRoot(ctx)
			if err != nil {
				return nil, err
			}
			rel, _ := arguments["path"].(string)
			if rel == "" {
				return nil, fmt.Errorf("read_file: missing required argument %q", "path")
			}
			full, err := resolveUnderRoot(root, rel)
			if err != nil {
				return nil, err
			}
			data, err := os.ReadFile(full)
			if err != nil {
				return nil, fmt.Errorf("read_file: %w", err)
			}
			return map[string]any{"content": string(data)}, nil
		},
	}
}

func writeFileTool() part.Tool {
	return part.Tool{
		ToolDef: part.ToolDef{
			Name:        "write_file",
			Description: "Write text content to a file relative to the working directory, creating it if necessary.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":    map[string]any{"type": "string", "description": "File path, relative to the working directory."},
					"content": map[string]any{"type": "string", "description": "Text to write."},
				},
				"required": []any{"path", "content"},
			},
		},
		OnCall: func(ctx context.Context, arguments map[string]any) (any, error) {
			root, err := fsRoot(ctx)
			if err != nil {
				return nil, err
			}
			rel, _ := arguments["path"].(string)
			content, _ := arguments["content"].(string)
			if rel == "" {
				return nil, fmt.Errorf("write_file: missing required argument %q", "path")
			}
			full, err := resolveUnderRoot(root, rel)
			if err != nil {
				return nil, err
			}
			if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
				return nil, fmt.Errorf("write_file: %w", err)
			}
			if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
				return nil, fmt.Errorf("write_file: %w", err)
			}
			return map[string]any{"bytesWritten": len(content)}, nil
		},
	}
}

func listDirTool() part.Tool {
	return part.Tool{
		ToolDef: part.ToolDef{
			Name:        "list_dir",
			Description: "List the files and subdirectories of a directory relative to the working directory.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string", "description": "Directory path, relative to the working directory. Defaults to \".\"."},
				},
			},
		},
		OnCall: func(ctx context.Context, arguments map[string]any) (any, error) {
			root, err := fsRoot(ctx)
			if err != nil {
				return nil, err
			}
			rel, _ := arguments["path"].(string)
			if rel == "" {
				rel = "."
			}
			full, err := resolveUnderRoot(root, rel)
			if err != nil {
				return nil, err
			}
			entries, err := os.ReadDir(full)
			if err != nil {
				return nil, fmt.Errorf("list_dir: %w", err)
			}
			files := make([]map[string]any, 0, len(entries))
			for _, e := range entries {
				info, err := e.Info()
				size := int64(0)
				if err == nil {
					size = info.Size()
				}
				files = append(files, map[string]any{
					"name":  e.Name(),
					"isDir": e.IsDir(),
					"size":  size,
				})
			}
			return map[string]any{"files": files}, nil
		},
	}
}
