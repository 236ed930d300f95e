package scripts_test

import (
	"context"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/reftrace/internal/runtime"
	"github.com/jward/reftrace/scripts"
)

func newRuntime() *runtime.Runtime {
	return runtime.NewRuntime("", runtime.WithRuntimeFS(scripts.FS))
}

func TestEmbeddedScripts(t *testing.T) {
	names, err := fs.Glob(scripts.FS, "classify/*.risor")
	require.NoError(t, err)
	assert.Contains(t, names, runtime.DefaultClassifyScript)
	assert.Contains(t, names, "classify/go.risor")
}

func TestDefaultClassification(t *testing.T) {
	rt := newRuntime()
	ctx := context.Background()

	tests := []struct {
		path string
		want string
	}{
		{"Assets/Player.prefab", "prefab"},
		{"Assets/Scenes/Main.unity", "scene"},
		{"Assets/Skin.MAT", "material"},
		{"config/app.yaml", "data"},
		{"docs/notes.md", "text"},
		{"bin/blob.bin", "other"},
		{"Makefile", "file"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := rt.Classify(ctx, runtime.Match{Path: tt.path, Content: []byte("guid: T"), Target: "T"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGoClassification(t *testing.T) {
	rt := newRuntime()
	ctx := context.Background()

	tests := []struct {
		name   string
		src    string
		target string
		want   string
	}{
		{
			name:   "import",
			src:    "package main\n\nimport \"example.com/proj/assets\"\n\nfunc main() {}\n",
			target: "proj/assets",
			want:   "import",
		},
		{
			name:   "comment only",
			src:    "package main\n\n// see Assets/hero.png\nfunc main() {}\n",
			target: "Assets/hero.png",
			want:   "comment",
		},
		{
			name:   "code",
			src:    "package main\n\n// loads Assets/hero.png\nvar hero = \"Assets/hero.png\"\n",
			target: "Assets/hero.png",
			want:   "code",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rt.Classify(ctx, runtime.Match{Path: "cmd/main.go", Content: []byte(tt.src), Target: tt.target})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
