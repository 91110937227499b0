package main

import (
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const modulePrefix = "kickdl/internal/"

// allowed lists, per package, the internal packages it may import.
// kick and discovery stay unaware of each other; cli wires them together.
var allowed = map[string]map[string]bool{
	"cmd": {
		"cli": true,
	},
	"cli": {
		"archive":   true,
		"config":    true,
		"discovery": true,
		"kick":      true,
		"model":     true,
		"runstore":  true,
	},
	"discovery": {
		"ffmpeg":   true,
		"model":    true,
		"runstore": true,
	},
	"archive": {
		"ffmpeg":   true,
		"model":    true,
		"runstore": true,
	},
	"kick": {
		"model": true,
	},
	"config":   {},
	"ffmpeg":   {},
	"model":    {},
	"runstore": {},
}

func main() {
	var violations []string
	for _, root := range []string{"cmd", "internal"} {
		found, err := checkTree(root)
		if err != nil {
			fmt.Fprintf(os.Stderr, "boundary walk failed: %v\n", err)
			os.Exit(1)
		}
		violations = append(violations, found...)
	}

	if len(violations) > 0 {
		fmt.Fprintln(os.Stderr, "architecture boundary violations detected:")
		for _, v := range violations {
			fmt.Fprintf(os.Stderr, "- %s\n", v)
		}
		os.Exit(1)
	}
	fmt.Println("architecture boundary check: OK")
}

func checkTree(root string) ([]string, error) {
	var violations []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}

		src := sourcePackage(path)
		allow, ok := allowed[src]
		if !ok {
			violations = append(violations, fmt.Sprintf("%s: unknown source package %q", path, src))
			return nil
		}

		file, err := parser.ParseFile(token.NewFileSet(), path, nil, parser.ImportsOnly)
		if err != nil {
			return err
		}
		for _, imp := range file.Imports {
			tgt, ok := targetPackage(strings.Trim(imp.Path.Value, `"`))
			if !ok || tgt == src {
				continue
			}
			if !allow[tgt] {
				violations = append(violations, fmt.Sprintf("%s: %s -> %s is forbidden", path, src, tgt))
			}
		}
		return nil
	})
	return violations, err
}

// sourcePackage maps internal/<pkg>/... to <pkg> and anything under cmd/
// to "cmd".
func sourcePackage(path string) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	switch {
	case len(parts) >= 2 && parts[0] == "cmd":
		return "cmd"
	case len(parts) >= 3 && parts[0] == "internal":
		return parts[1]
	}
	return ""
}

func targetPackage(importPath string) (string, bool) {
	rest, ok := strings.CutPrefix(importPath, modulePrefix)
	if !ok || rest == "" {
		return "", false
	}
	pkg, _, _ := strings.Cut(rest, "/")
	return pkg, true
}
