package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// runeCounter counts one token per rune.
type runeCounter struct{}

func (runeCounter) Name() string { return "runes" }

func (runeCounter) CountString(input string) (int, error) { return len([]rune(input)), nil }

func TestCountBytes(t *testing.T) {
	testCases := []struct {
		name            string
		data            []byte
		expectedTokens  int
		expectedCounted bool
	}{
		{name: "text", data: []byte("héllo"), expectedTokens: 5, expectedCounted: true},
		{name: "empty", data: nil, expectedTokens: 0, expectedCounted: true},
		{name: "binary", data: []byte{0x00, 0x01, 0x02}, expectedCounted: false},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			result, err := CountBytes(runeCounter{}, testCase.data)
			require.NoError(t, err)
			require.Equal(t, testCase.expectedCounted, result.Counted)
			require.Equal(t, testCase.expectedTokens, result.Tokens)
		})
	}
}

func TestCountRequiresCounter(t *testing.T) {
	_, err := CountBytes(nil, []byte("x"))
	require.Error(t, err)
	_, err = CountText(nil, "x")
	require.Error(t, err)
}

func TestIsOpenAIModel(t *testing.T) {
	for model, expected := range map[string]bool{
		"gpt-4o":                 true,
		"o4-mini":                true,
		"text-embedding-3-small": true,
		"claude-3-5-sonnet":      false,
		"llama-3":                false,
	} {
		require.Equal(t, expected, isOpenAIModel(model), model)
	}
}

func TestEncodingCounterWithoutEncoding(t *testing.T) {
	_, err := encodingCounter{name: "empty"}.CountString("text")
	require.Error(t, err)
}

func TestNewCounter(t *testing.T) {
	counter, model, err := NewCounter(Config{Model: "gpt-4"})
	require.NoError(t, err)
	require.Equal(t, "gpt-4", model)
	tokens, err := counter.CountString("hello world")
	require.NoError(t, err)
	require.Equal(t, 2, tokens)

	fallback, fallbackModel, err := NewCounter(Config{Model: "claude-3-5-sonnet"})
	require.NoError(t, err)
	require.Equal(t, fallbackEncoding, fallbackModel)
	require.Equal(t, fallbackEncoding, fallback.Name())
}
