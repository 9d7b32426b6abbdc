package internal

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateRightWithSuffix(t *testing.T) {
	tests := []struct {
		text   string
		n      int
		suffix string
		want   string
	}{
		{text: "0.txt", n: 30, suffix: "...", want: "0.txt"},
		{text: "abcdef", n: 6, suffix: "...", want: "abcdef"},
		{text: "abcdefg", n: 6, suffix: "...", want: "abcdef..."},
		{text: "héllo wörld", n: 5, suffix: "~", want: "héllo~"},
		{text: "abc", n: 0, suffix: "...", want: "..."},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, TruncateRightWithSuffix(tt.text, tt.n, tt.suffix))
		})
	}
}

func TestPrefix(t *testing.T) {
	assert.Equal(t, `[1/2] "test.zip" - `, Prefix(1, 2, "archives/test.zip"))
	assert.Equal(t, `[2/2] "`+strings.Repeat("a", 30)+`..." - `, Prefix(2, 2, strings.Repeat("a", 40)+".zip"))

	ctx := WithPrefixLogger(context.Background(), Prefix(1, 1, "test.zip"))
	assert.Equal(t, `[1/1] "test.zip" - `, MustPrefix(ctx))
	assert.NotNil(t, MustLogger(ctx))
}

func TestNewSlogLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	NewSlogLogger(buf, false).Debug("hidden")
	assert.Empty(t, buf.String())

	NewSlogLogger(buf, true).Debug("shown", "name", "0.txt")
	assert.Contains(t, buf.String(), "msg=shown name=0.txt")
}
