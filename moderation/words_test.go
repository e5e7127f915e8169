package moderation

import (
	"log/slog"
	"testing"
	"testing/fstest"

	"voice-room/errors"

	"github.com/stretchr/testify/require"
)

func TestLoadDictionary(t *testing.T) {
	req := require.New(t)
	fsys := fstest.MapFS{
		"lists/en.txt":    {Data: []byte("idiot\r\nmoron\n\n  loser  \n")},
		"lists/fr.txt":    {Data: []byte("abruti\nidiot\n")},
		"lists/README.md": {Data: []byte("not a list")},
	}

	dict, err := LoadDictionary(fsys, "lists")
	req.NoError(err)
	req.Equal([]string{"abruti", "idiot", "loser", "moron"}, dict.Words)
	req.Equal([]string{"en", "fr"}, dict.Languages)
}

func TestLoadDictionary_Empty(t *testing.T) {
	req := require.New(t)
	fsys := fstest.MapFS{"lists/en.txt": {Data: []byte("\n \n")}}

	_, err := LoadDictionary(fsys, "lists")
	req.ErrorIs(err, errors.ErrEmptyWords)
}

func TestDefaultDictionary(t *testing.T) {
	req := require.New(t)
	dict, err := DefaultDictionary()
	req.NoError(err)
	req.Contains(dict.Languages, "en")

	mod, err := NewModerator(dict.Words, '*', slog.Default())
	req.NoError(err)
	content, words := mod.Censor("you m0r0n")
	req.Equal("you *****", content)
	req.Equal([]string{"moron"}, words)
}
