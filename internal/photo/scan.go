package photo

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	mapset "github.com/deckarep/golang-set/v2"
	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName holds gitignore style rules for a scanned directory.
const IgnoreFileName = ".photoqueueignore"

var defaultIgnoreLines = []string{
	IgnoreFileName,
	".git",
	"@eaDir/",
	".thumbnails/",
	"*.tmp",
	"*.part",
	// OS-specific
	".DS_Store",
	"._*",
	"Thumbs.db",
	"desktop.ini",
}

type ScanResult struct {
	Assets []*Asset
	// Skipped lists files found under directories or globs that are not images.
	Skipped []string
}

// Scan expands inputs into assets. An input is a file, a directory (walked
// recursively with ignore rules applied) or a doublestar glob such as
// "trip/**/*.jpg". Input order is kept and each file is returned once. A file
// named explicitly must be an image.
func Scan(inputs ...string) (*ScanResult, error) {
	res := &ScanResult{}
	seen := mapset.NewThreadUnsafeSet[string]()

	add := func(path string, explicit bool) error {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		if !seen.Add(abs) {
			return nil
		}
		asset, err := NewAsset(abs)
		if errors.Is(err, ErrNotImage) && !explicit {
			res.Skipped = append(res.Skipped, abs)
			return nil
		}
		if err != nil {
			return err
		}
		res.Assets = append(res.Assets, asset)
		return nil
	}

	for _, input := range inputs {
		var paths []string
		explicit := false

		switch {
		case isGlob(input):
			matches, err := doublestar.FilepathGlob(input, doublestar.WithFilesOnly())
			if err != nil {
				return nil, fmt.Errorf("glob %q: %w", input, err)
			}
			paths = matches
		default:
			info, err := os.Stat(input)
			if err != nil {
				return nil, err
			}
			if info.IsDir() {
				if paths, err = walkDir(input); err != nil {
					return nil, err
				}
			} else {
				paths = []string{input}
				explicit = true
			}
		}

		slices.Sort(paths)
		for _, path := range paths {
			if err := add(path, explicit); err != nil {
				return nil, err
			}
		}
	}

	if len(res.Skipped) > 0 {
		slog.Debug("photo scan skipped non images", "count", len(res.Skipped))
	}
	return res, nil
}

func isGlob(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

func walkDir(root string) ([]string, error) {
	ignore := loadIgnore(root)

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if ignore.MatchesPath(rel + "/") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || ignore.MatchesPath(rel) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

func loadIgnore(root string) *gitignore.GitIgnore {
	lines := slices.Clone(defaultIgnoreLines)

	ignorePath := filepath.Join(root, IgnoreFileName)
	if file, err := os.Open(ignorePath); err == nil {
		defer file.Close()
		rules := 0
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" && !strings.HasPrefix(line, "#") {
				lines = append(lines, line)
				rules++
			}
		}
		if err := scanner.Err(); err != nil {
			slog.Warn("photo scan ignore file", "path", ignorePath, "error", err)
		} else {
			slog.Debug("photo scan ignore file", "path", ignorePath, "rules", rules)
		}
	}

	return gitignore.CompileIgnoreLines(lines...)
}
