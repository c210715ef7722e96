package selectorgen

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "api key")
}

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	gen, err := New(Config{APIKey: "test-key"}, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, defaultModel, gen.model)
	require.Equal(t, int64(defaultMaxTokens), gen.maxTokens)
}

func TestStripCodeFences(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `[{"selector": ".price"}]`, `[{"selector": ".price"}]`},
		{"json fence", "```json\n[{\"selector\": \".price\"}]\n```", `[{"selector": ".price"}]`},
		{"plain fence", "```\n.price\n```", ".price"},
		{"surrounding whitespace", "  .price  ", ".price"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, stripCodeFences(tc.in))
		})
	}
}

func TestTruncateHTML(t *testing.T) {
	t.Parallel()

	short := "<html></html>"
	require.Equal(t, short, truncateHTML(short))

	long := make([]byte, maxPromptHTML+100)
	for i := range long {
		long[i] = 'a'
	}
	require.Len(t, truncateHTML(string(long)), maxPromptHTML)
}
