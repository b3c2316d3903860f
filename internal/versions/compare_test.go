package versions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVercmp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want int
	}{
		{"1.0", "1.0", 0},
		{"1.0", "2.0", -1},
		{"2.0", "1.0", 1},
		{"2.0.1", "2.0.1", 0},
		{"2.0", "2.0.1", -1},
		{"2.0.1a", "2.0.1a", 0},
		{"2.0.1a", "2.0.1", 1},
		{"5.5p1", "5.5p2", -1},
		{"5.5p10", "5.5p1", 1},
		{"10xyz", "10.1xyz", -1},
		{"xyz10", "xyz10.1", -1},
		{"1.0", "1.0.", 0},
		{"1.0a", "1.0.a", 0},
		{"10", "9", 1},
		{"010", "10", 0},
		{"1.0aa", "1.0a", 1},
		{"a", "1", -1},
		{"1", "a", 1},
		{"1.0~rc1", "1.0", -1},
		{"1.0~rc1", "1.0~rc2", -1},
		{"1.0~rc1~git123", "1.0~rc1", -1},
		{"1.0^", "1.0", 1},
		{"1.0^git1", "1.0", 1},
		{"1.0^git1", "1.01", -1},
		{"1.0^git1", "1.0~rc1", 1},
		{"1.0^git1~pre", "1.0^git1", -1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Vercmp(tt.a, tt.b))
		})
	}
}

func TestParseNVR(t *testing.T) {
	t.Parallel()

	nvr, err := ParseNVR("python-requests-2.31.0-3.fc40")
	require.NoError(t, err)
	assert.Equal(t, "python-requests", nvr.Name)
	assert.Equal(t, "2.31.0", nvr.Version)
	assert.Equal(t, "3.fc40", nvr.Release)

	nvr, err = ParseNVR("bind-32:9.18.20-1.fc40")
	require.NoError(t, err)
	assert.Equal(t, "bind", nvr.Name)
	assert.Equal(t, "32", nvr.Epoch)
	assert.Equal(t, "9.18.20", nvr.Version)

	for _, bad := range []string{"", "bash", "bash-5.2", "-5.2-1", "bash-5.2-", "bash--1"} {
		_, err := ParseNVR(bad)
		assert.Error(t, err, bad)
	}
}

func TestLabelCompare(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, LabelCompare(EVR{Epoch: "1", Version: "1.0", Release: "1"}, EVR{Version: "2.0", Release: "1"}))
	assert.Equal(t, -1, LabelCompare(EVR{Version: "1.0", Release: "1.fc40"}, EVR{Version: "1.0", Release: "2.fc40"}))
	assert.Equal(t, 0, LabelCompare(EVR{Epoch: "0", Version: "1.0", Release: "1"}, EVR{Version: "1.0", Release: "1"}))
}

func TestIsNewerBuild(t *testing.T) {
	t.Parallel()

	assert.True(t, IsNewerBuild("bash-5.2.26-3.fc40", "bash-5.2.26-1.fc40"))
	assert.False(t, IsNewerBuild("bash-5.2.9-1.fc40", "bash-5.2.26-1.fc40"))
	assert.False(t, IsNewerBuild("bash-5.2.26-1.fc40", "bash-5.2.26-1.fc40"))
	assert.True(t, IsNewerBuild("zzz", "aaa"))
}
