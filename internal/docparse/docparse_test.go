package docparse

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizforge/quizforge/internal/llmerrors"
)

func TestRegistry_UnsupportedExtension(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Parse(context.Background(), "slides.pptx", strings.NewReader("x"))
	require.Error(t, err)
	assert.Equal(t, llmerrors.KindInvalidInput, llmerrors.Categorize(err))
	assert.Contains(t, err.Error(), ".pptx")
}

func TestRegistry_SupportedExtensions(t *testing.T) {
	reg := NewRegistry()
	assert.ElementsMatch(t, []string{".txt", ".md"}, reg.Supported())
}

func TestTextParser_SinglePage(t *testing.T) {
	reg := NewRegistry()
	pages, err := reg.Parse(context.Background(), "notes.txt", strings.NewReader("  hello world  "))
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, 1, pages[0].Number)
	assert.Equal(t, "hello world", pages[0].Text)
	assert.Empty(t, pages[0].Images)
}

func TestTextParser_SplitsLongInput(t *testing.T) {
	reg := NewRegistry()
	input := strings.Repeat("a", textPageSize+100)
	pages, err := reg.Parse(context.Background(), "long.txt", strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Len(t, pages[0].Text, textPageSize)
	assert.Len(t, pages[1].Text, 100)
	assert.Equal(t, 2, pages[1].Number)
	assert.Equal(t, input, JoinText(pages[:1])+JoinText(pages[1:]))
}

func TestTextParser_RejectsEmptyAndBinary(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Parse(context.Background(), "empty.txt", strings.NewReader("   \n\t "))
	require.Error(t, err)
	assert.Equal(t, llmerrors.KindInvalidInput, llmerrors.Categorize(err))

	_, err = reg.Parse(context.Background(), "binary.txt", strings.NewReader("\xff\xfe\x00"))
	require.Error(t, err)
	assert.Equal(t, llmerrors.KindInvalidInput, llmerrors.Categorize(err))
}

func TestJoinText(t *testing.T) {
	pages := []Page{{Number: 1, Text: "one"}, {Number: 2, Text: "two"}}
	assert.Equal(t, "one\n\ntwo", JoinText(pages))
}
