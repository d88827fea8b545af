package moderation

import (
	"bufio"
	"embed"
	"strings"

	"deal-chat/errors"

	"github.com/samber/lo"
)

//go:embed words/*.txt
var wordsFolder embed.FS

// LoadBannedWords merges all embedded word list files (one file per
// language, one word per line, '#' comments) into a unique word set.
func LoadBannedWords() ([]string, error) {
	entries, err := wordsFolder.ReadDir("words")
	if err != nil {
		return nil, err
	}

	var words []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		file, err := wordsFolder.Open("words/" + entry.Name())
		if err != nil {
			return nil, err
		}
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			words = append(words, strings.ToLower(line))
		}
		if err = scanner.Err(); err != nil {
			_ = file.Close()
			return nil, err
		}
		_ = file.Close()
	}

	words = lo.Uniq(words)
	if len(words) == 0 {
		return nil, errors.ErrEmptyWordList
	}
	return words, nil
}
