package lang

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForFile(t *testing.T) {
	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{"main.go", "go", true},
		{"src/App.TSX", "typescript", true},
		{"lib/util.py", "python", true},
		{"include/x.hpp", "cpp", true},
		{"Assets/Player.prefab", "", false},
		{"README", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := ForFile(tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGrammar(t *testing.T) {
	for _, name := range []string{"go", "python", "javascript", "typescript", "c", "cpp", "java", "rust", "php", "ruby"} {
		g, ok := Grammar(name)
		assert.True(t, ok, name)
		assert.NotNil(t, g, name)
	}
	_, ok := Grammar("cobol")
	assert.False(t, ok)
}
