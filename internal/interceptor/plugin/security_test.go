package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePathRejectsDotDotComponent(t *testing.T) {
	dir := t.TempDir()
	v := NewValidator(dir)

	malicious := dir + string(filepath.Separator) + ".." + string(filepath.Separator) + "etc" + string(filepath.Separator) + "passwd"
	_, err := v.ValidatePath(malicious)
	assert.Error(t, err)
}

func TestValidatePathAcceptsFileInsideAllowedDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plugin.wasm")
	require.NoError(t, os.WriteFile(path, miniModule(0, true), 0o644))

	v := NewValidator(dir)
	canonical, err := v.ValidatePath(path)
	require.NoError(t, err)
	assert.NotEmpty(t, canonical)
}

func TestValidatePathRejectsFileOutsideAllowedDir(t *testing.T) {
	allowed := t.TempDir()
	other := t.TempDir()
	path := filepath.Join(other, "plugin.wasm")
	require.NoError(t, os.WriteFile(path, miniModule(0, true), 0o644))

	v := NewValidator(allowed)
	_, err := v.ValidatePath(path)
	assert.Error(t, err)
}

func TestValidateWasmAcceptsMagicBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plugin.wasm")
	require.NoError(t, os.WriteFile(path, miniModule(0, true), 0o644))

	v := NewValidator(dir)
	assert.NoError(t, v.ValidateWasm(path))
}

func TestValidateWasmRejectsNonWasmFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("not wasm"), 0o644))

	v := NewValidator(dir)
	assert.Error(t, v.ValidateWasm(path))
}

func TestValidateWasmRejectsTruncatedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiny.wasm")
	require.NoError(t, os.WriteFile(path, []byte{0x00, 0x61}, 0o644))

	v := NewValidator(dir)
	assert.Error(t, v.ValidateWasm(path))
}
