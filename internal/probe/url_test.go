package probe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeStreamURL_PassesThroughPlainHost(t *testing.T) {
	got, err := normalizeStreamURL("http://streams.example.com:8080/ch1.ts")
	require.NoError(t, err)
	assert.Equal(t, "http://streams.example.com:8080/ch1.ts", got)
}

func TestNormalizeStreamURL_ConvertsUnicodeHostToASCII(t *testing.T) {
	got, err := normalizeStreamURL("http://bücher.example/stream")
	require.NoError(t, err)
	assert.Contains(t, got, "xn--")
}

func TestNormalizeStreamURL_RejectsEmpty(t *testing.T) {
	_, err := normalizeStreamURL("   ")
	assert.Error(t, err)
}

func TestNormalizeStreamURL_RejectsMissingScheme(t *testing.T) {
	_, err := normalizeStreamURL("streams.example.com/ch1.ts")
	assert.Error(t, err)
}

func TestNormalizeStreamURL_AllowsBareIP(t *testing.T) {
	got, err := normalizeStreamURL("http://192.0.2.10:8080/ch1.ts")
	require.NoError(t, err)
	assert.Equal(t, "http://192.0.2.10:8080/ch1.ts", got)
}
