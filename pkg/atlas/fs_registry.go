package atlas

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/govatlas/core/pkg/govern"
)

// LoadManifestFile reads and parses a manifest.json at path, setting
// BaseDir to its containing directory so context-pack files resolve
// relative to it (SPEC_FULL §3 SUPPLEMENT).
func LoadManifestFile(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, govern.Wrap(govern.KindValidation, govern.CodeManifestInvalid, err).WithDetail("path", path)
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, govern.Wrap(govern.KindValidation, govern.CodeManifestInvalid, err).WithDetail("path", path)
	}
	m.BaseDir = filepath.Dir(path)
	return &m, nil
}

// FileContextLoader resolves a ContextPack's declared files to their
// on-disk content, relative to the owning manifest's BaseDir.
//
// Grounded on core/pkg/capabilities/blob_store.go's filesystem-backed
// content addressing, simplified here to plain relative-path reads since
// context-pack files are not content-addressed artifacts.
type FileContextLoader struct{}

// NewFileContextLoader constructs a FileContextLoader.
func NewFileContextLoader() *FileContextLoader { return &FileContextLoader{} }

// Load reads the content of a single context file belonging to pack cp,
// whose owning manifest has the given baseDir.
func (l *FileContextLoader) Load(baseDir string, cp ContextPack, file string) (string, error) {
	if baseDir == "" {
		return "", govern.Newf(govern.KindValidation, govern.CodeManifestInvalid, "context pack %q has no base directory to resolve files against", cp.PackID)
	}
	full := filepath.Join(baseDir, file)
	rel, err := filepath.Rel(baseDir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", govern.Newf(govern.KindValidation, govern.CodeManifestInvalid, "context file %q escapes atlas base directory", file)
	}
	b, err := os.ReadFile(full)
	if err != nil {
		return "", govern.Wrap(govern.KindStorage, govern.CodeStorageUnavailable, err).WithDetail("path", full)
	}
	return string(b), nil
}
