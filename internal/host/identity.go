package host

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// IdentitySource says where an identity came from.
type IdentitySource string

const (
	// SourceMeta is a guid read from the artifact's .meta sidecar.
	SourceMeta IdentitySource = "meta"
	// SourcePath is the root-relative path, used when no sidecar exists.
	SourcePath IdentitySource = "path"
)

// Identity returns the canonical identifier of the artifact at p: the guid
// from its .meta sidecar, or its root-relative path.
func (h *FSHost) Identity(p string) (string, error) {
	id, _, err := h.IdentityWithSource(p)
	return id, err
}

// IdentityWithSource is Identity plus the identity's origin.
func (h *FSHost) IdentityWithSource(p string) (string, IdentitySource, error) {
	rel, err := h.Rel(p)
	if err != nil {
		return "", "", err
	}
	if cached, ok := h.identities.Get(rel); ok {
		return decodeCached(cached)
	}

	abs := filepath.Join(h.root, filepath.FromSlash(rel))
	if _, err := os.Stat(abs); err != nil {
		return "", "", fmt.Errorf("identity of %s: %w", rel, err)
	}

	id, src := rel, SourcePath
	guid, err := readMetaGUID(abs + MetaSuffix)
	switch {
	case err == nil && guid != "":
		id, src = guid, SourceMeta
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		h.logger.Warn("unreadable meta sidecar", "path", rel, "error", err)
	}

	h.identities.Add(rel, string(src)+":"+id)
	return id, src, nil
}

func decodeCached(v string) (string, IdentitySource, error) {
	src, id, _ := strings.Cut(v, ":")
	return id, IdentitySource(src), nil
}

type metaFile struct {
	GUID string `yaml:"guid"`
}

// readMetaGUID extracts the guid field from a sidecar. Sidecars are YAML, but
// some carry tags or directives yaml.v3 rejects, so a line scan is the
// fallback.
func readMetaGUID(metaPath string) (string, error) {
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return "", err
	}

	var m metaFile
	if err := yaml.Unmarshal(data, &m); err == nil && m.GUID != "" {
		return strings.TrimSpace(m.GUID), nil
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if v, ok := strings.CutPrefix(line, "guid:"); ok {
			return strings.TrimSpace(v), nil
		}
	}
	return "", sc.Err()
}
