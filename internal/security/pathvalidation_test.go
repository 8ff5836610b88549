package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateFileName(t *testing.T) {
	for _, ok := range []string{"temperature.tsv", "chart.html", "hivemind.db", "amplitude_plot.png", ".hidden"} {
		assert.NoError(t, ValidateFileName(ok), ok)
	}
	for _, bad := range []string{"", "  ", ".", "..", "a/b.tsv", `a\b.tsv`, "../x", "bad\nname", "nul\x00"} {
		err := ValidateFileName(bad)
		assert.ErrorIs(t, err, ErrUnsafePath, "%q", bad)
	}
}

func TestValidatePathWithinDirectory(t *testing.T) {
	root := t.TempDir()
	reports := filepath.Join(root, "static")
	private := filepath.Join(root, "private")
	require.NoError(t, os.MkdirAll(reports, 0o755))
	require.NoError(t, os.MkdirAll(private, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(private, "hivemind.db"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(reports, "temperature.tsv"), []byte("x"), 0o644))

	dirLink := filepath.Join(reports, "escape")
	require.NoError(t, os.Symlink(private, dirLink))
	fileLink := filepath.Join(reports, "db.tsv")
	require.NoError(t, os.Symlink(filepath.Join(private, "hivemind.db"), fileLink))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"existing report", filepath.Join(reports, "temperature.tsv"), false},
		{"not yet written", filepath.Join(reports, "humidity.tsv"), false},
		{"missing nested", filepath.Join(reports, "a", "b", "c.tsv"), false},
		{"dot dot", filepath.Join(reports, "..", "private", "hivemind.db"), true},
		{"relative escape", "../../../etc/passwd", true},
		{"absolute outside", "/etc/passwd", true},
		{"through dir symlink", filepath.Join(dirLink, "hivemind.db"), true},
		{"new file under dir symlink", filepath.Join(dirLink, "new.tsv"), true},
		{"file symlink", fileLink, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, reports)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePathWithinDirectory_MissingDir(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	err := ValidatePathWithinDirectory(filepath.Join(missing, "x.tsv"), missing)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnsafePath)
}
