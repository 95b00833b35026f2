package bots

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Classify(t *testing.T) {
	m := Default()
	require.Greater(t, m.Len(), 0)

	tests := []struct {
		name         string
		ua           string
		wantBot      bool
		wantName     string
		wantCategory string
	}{
		{
			name:         "googlebot",
			ua:           "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
			wantBot:      true,
			wantName:     "Googlebot",
			wantCategory: "search_engine",
		},
		{
			name:         "bingbot",
			ua:           "Mozilla/5.0 (compatible; bingbot/2.0; +http://www.bing.com/bingbot.htm)",
			wantBot:      true,
			wantName:     "Bingbot",
			wantCategory: "search_engine",
		},
		{
			name:         "headless chrome",
			ua:           "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) HeadlessChrome/120.0.0.0 Safari/537.36",
			wantBot:      true,
			wantName:     "HeadlessChrome",
			wantCategory: "headless",
		},
		{
			name:         "curl",
			ua:           "curl/8.4.0",
			wantBot:      true,
			wantName:     "curl",
			wantCategory: "library",
		},
		{
			name:         "gptbot",
			ua:           "Mozilla/5.0 AppleWebKit/537.36 (KHTML, like Gecko; compatible; GPTBot/1.2; +https://openai.com/gptbot)",
			wantBot:      true,
			wantName:     "GPTBot",
			wantCategory: "ai_crawler",
		},
		{
			name:         "generic crawler",
			ua:           "SomeCompanyCrawler/1.0",
			wantBot:      true,
			wantName:     "Generic bot",
			wantCategory: "generic",
		},
		{
			name:    "chrome desktop",
			ua:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			wantBot: false,
		},
		{
			name:    "safari iphone",
			ua:      "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
			wantBot: false,
		},
		{
			name:    "empty",
			ua:      "",
			wantBot: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Classify(tt.ua)
			assert.Equal(t, tt.wantBot, got.IsBot)
			assert.Equal(t, tt.wantName, got.Name)
			assert.Equal(t, tt.wantCategory, got.Category)
		})
	}
}

func TestClassify_FirstMatchWins(t *testing.T) {
	m, err := New([]Signature{
		{Name: "specific", Category: "a", Pattern: "examplebot"},
		{Name: "generic", Category: "b", Pattern: "bot"},
	})
	require.NoError(t, err)

	got := m.Classify("ExampleBot/1.0")
	assert.Equal(t, "specific", got.Name)

	got = m.Classify("OtherBot/1.0")
	assert.Equal(t, "generic", got.Name)
}

func TestLoad(t *testing.T) {
	m, err := Load(strings.NewReader(`
signatures:
  - name: Internal
    category: monitoring
    pattern: 'internal-probe'
`))
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())
	assert.True(t, m.Classify("internal-probe/2").IsBot)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"invalid regexp", "signatures:\n  - name: x\n    pattern: '(['\n"},
		{"missing pattern", "signatures:\n  - name: x\n"},
		{"unknown field", "signatures:\n  - name: x\n    pattern: y\n    weight: 2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func BenchmarkClassify_Human(b *testing.B) {
	m := Default()
	ua := "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Classify(ua)
	}
}
