package plugin

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/int3rceptor/interceptor/errs"
)

var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d}

// Validator enforces the path and file-shape policy a plugin must satisfy
// before it is ever handed to the WASM runtime.
type Validator struct {
	allowedDirs []string
}

// NewValidator returns a Validator that only accepts plugins resolving
// into one of allowedDirs.
func NewValidator(allowedDirs ...string) *Validator {
	return &Validator{allowedDirs: allowedDirs}
}

// ValidatePath rejects any path containing a ".." component, resolves the
// path to its canonical form, and requires that form to live under one of
// the validator's allowed directories and under the file-size ceiling. It
// returns the canonical path on success.
func (v *Validator) ValidatePath(path string) (string, error) {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return "", errs.New(errs.KindConfigInvalid, "plugin path contains '..': path traversal not allowed", nil)
		}
	}

	canonical, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", errs.New(errs.KindConfigInvalid, "resolving plugin path", err)
	}
	canonical, err = filepath.Abs(canonical)
	if err != nil {
		return "", errs.New(errs.KindConfigInvalid, "resolving plugin path", err)
	}

	allowed := false
	for _, dir := range v.allowedDirs {
		resolvedDir, err := filepath.EvalSymlinks(dir)
		if err != nil {
			continue
		}
		resolvedDir, err = filepath.Abs(resolvedDir)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(resolvedDir, canonical)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", errs.New(errs.KindConfigInvalid, "plugin path is outside allowed directories: "+canonical, nil)
	}

	info, err := os.Stat(canonical)
	if err != nil {
		return "", errs.New(errs.KindConfigInvalid, "reading plugin file metadata", err)
	}
	if info.Size() > MaxFileSize {
		return "", errs.New(errs.KindConfigInvalid, "plugin file exceeds the size limit", nil)
	}
	return canonical, nil
}

// ValidateWasm confirms the file at path begins with the WebAssembly magic
// number, rejecting anything else before it reaches the compiler.
func (v *Validator) ValidateWasm(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errs.New(errs.KindConfigInvalid, "reading plugin file", err)
	}
	defer f.Close()

	buf := make([]byte, 4)
	n, err := f.Read(buf)
	if err != nil || n < 4 || !bytes.Equal(buf, wasmMagic) {
		return errs.New(errs.KindConfigInvalid, "file is not a valid WebAssembly module", nil)
	}
	return nil
}
