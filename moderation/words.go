package moderation

import (
	"bufio"
	"bytes"
	"embed"
	"io/fs"
	"path"
	"sort"
	"strings"

	"voice-room/errors"
)

//go:embed censored/*.txt
var censored embed.FS

// Dictionary is the merged content of the censored word lists.
type Dictionary struct {
	Words     []string
	Languages []string
}

// DefaultDictionary loads the word lists shipped with the binary.
func DefaultDictionary() (Dictionary, error) {
	return LoadDictionary(censored, "censored")
}

// LoadDictionary reads every .txt file of dir, one word or phrase per line.
// The file name is the language ("fr.txt" -> "fr"). Duplicates are merged.
func LoadDictionary(fsys fs.FS, dir string) (Dictionary, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return Dictionary{}, err
	}

	var languages []string
	unique := make(map[string]struct{})
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".txt" {
			continue
		}
		languages = append(languages, strings.TrimSuffix(entry.Name(), ".txt"))

		data, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return Dictionary{}, err
		}
		// Scanner copes with \r\n endings.
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				unique[line] = struct{}{}
			}
		}
		if err := scanner.Err(); err != nil {
			return Dictionary{}, err
		}
	}
	if len(unique) == 0 {
		return Dictionary{}, errors.ErrEmptyWords
	}

	words := make([]string, 0, len(unique))
	for w := range unique {
		words = append(words, w)
	}
	sort.Strings(words)
	return Dictionary{Words: words, Languages: languages}, nil
}
