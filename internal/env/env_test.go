package env

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge(t *testing.T) {
	e := FromList([]string{"HOST=localhost", "PATH=/bin", "=junk", "NOEQ"})
	out := e.Merge([]string{
		"BASE_URL=http://${HOST}:3000",
		"PATH=/opt/bin",
		"KEEP=${MISSING}",
		"bad",
	})
	assert.Equal(t, []string{
		"BASE_URL=http://localhost:3000",
		"HOST=localhost",
		"KEEP=${MISSING}",
		"PATH=/opt/bin",
	}, out)
}

func TestMerge_SinglePass(t *testing.T) {
	out := FromList(nil).Merge([]string{"A=${B}", "B=${A}"})
	assert.Equal(t, []string{"A=${A}", "B=${B}"}, out)
}

func TestNew_SeesProcessEnv(t *testing.T) {
	t.Setenv("PWSTUDIO_ENV_PROBE", "yes")
	assert.Contains(t, New().Merge(nil), "PWSTUDIO_ENV_PROBE=yes")
}

func TestLoadFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), ".env")
	body := "# comment\nA=1\n\nexport B=\"two words\"\nC='x'\nBROKEN\n =nokey\nD = spaced \n"
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))

	pairs, err := LoadFile(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"A=1", "B=two words", "C=x", "D=spaced"}, pairs)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
