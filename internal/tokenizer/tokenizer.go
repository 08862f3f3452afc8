// Package tokenizer estimates token counts of assembled bundles with tiktoken encodings.
package tokenizer

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktokenloader "github.com/pkoukk/tiktoken-go-loader"
)

// Counter estimates token counts for text content.
type Counter interface {
	Name() string
	CountString(input string) (int, error)
}

// Config captures tokenizer selection parameters.
type Config struct {
	Model string
}

const (
	defaultModel        = "gpt-4o"
	fallbackEncoding    = "cl100k_base"
	errorEncodingFormat = "load %s encoding: %w"
)

// Model name prefixes tiktoken knows how to map to an encoding.
var tiktokenModelPrefixes = []string{"gpt-", "o1", "o3", "o4", "text-embedding", "davinci", "curie", "babbage", "ada", "code-"}

// BPE ranks are served from files embedded in the binary, so counting never downloads.
var installOfflineLoader = sync.OnceFunc(func() {
	tiktoken.SetBpeLoader(tiktokenloader.NewOfflineLoader())
})

// NewCounter returns a Counter for the requested model and the name it reports under.
// Models without a tiktoken encoding are estimated with cl100k_base.
func NewCounter(cfg Config) (Counter, string, error) {
	installOfflineLoader()
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	if isOpenAIModel(strings.ToLower(model)) {
		if encoding, err := tiktoken.EncodingForModel(strings.ToLower(model)); err == nil && encoding != nil {
			return encodingCounter{encoding: encoding, name: model}, model, nil
		}
	}
	encoding, err := tiktoken.GetEncoding(fallbackEncoding)
	if err != nil {
		return nil, "", fmt.Errorf(errorEncodingFormat, fallbackEncoding, err)
	}
	return encodingCounter{encoding: encoding, name: fallbackEncoding}, fallbackEncoding, nil
}

func isOpenAIModel(model string) bool {
	for _, prefix := range tiktokenModelPrefixes {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

// encodingCounter counts tokens with a single tiktoken encoding.
type encodingCounter struct {
	encoding *tiktoken.Tiktoken
	name     string
}

func (counter encodingCounter) Name() string {
	return counter.name
}

func (counter encodingCounter) CountString(input string) (int, error) {
	if counter.encoding == nil {
		return 0, errors.New("tokenizer encoding is not initialized")
	}
	return len(counter.encoding.Encode(input, nil, nil)), nil
}
