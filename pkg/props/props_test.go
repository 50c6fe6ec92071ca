package props

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bstoi/apptest/pkg/logging"
)

func newTestSystem(env map[string]string) *System {
	s := NewSystem()
	s.lookupEnv = func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	return s
}

// =============================================================================
// Resolver
// =============================================================================

func TestResolverPrecedence(t *testing.T) {
	sys := newTestSystem(nil)
	r := NewResolver(sys)

	r.ForceSet("p", "a")
	r.Set("p", "b")
	restore := sys.Set("p", "c")
	defer restore()

	v, ok := r.Property("p")
	require.True(t, ok)
	assert.Equal(t, "a", v, "forced wins over system and normal")

	t.Run("system wins over normal", func(t *testing.T) {
		r := NewResolver(sys)
		r.Set("p", "b")
		v, _ := r.Property("p")
		assert.Equal(t, "c", v)
	})

	t.Run("normal used when nothing else", func(t *testing.T) {
		r := NewResolver(newTestSystem(nil))
		r.Set("p", "b")
		v, _ := r.Property("p")
		assert.Equal(t, "b", v)
	})

	t.Run("absent", func(t *testing.T) {
		_, ok := NewResolver(newTestSystem(nil)).Property("missing")
		assert.False(t, ok)
	})
}

func TestResolverFlags(t *testing.T) {
	sys := newTestSystem(nil)
	r := NewResolver(sys)

	assert.False(t, r.IsEnabled(LogTraffic))

	r.Enable(LogTraffic)
	assert.True(t, r.IsEnabled(LogTraffic))

	restore := sys.Set(LogTraffic, "false")
	assert.False(t, r.IsEnabled(LogTraffic), "system property overrides enable")

	r.ForceEnable(LogTraffic)
	assert.True(t, r.IsEnabled(LogTraffic), "force enable ignores system property")
	restore()

	r.ForceDisable(LogTraffic)
	assert.False(t, r.IsEnabled(LogTraffic))

	r.Disable(DumpEntity)
	assert.False(t, r.IsEnabled(DumpEntity))

	r.Set("odd", "yes please")
	assert.False(t, r.IsEnabled("odd"))
}

func TestResolverPort(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		set      bool
		expected int
	}{
		{"absent", "", false, DefaultContainerPort},
		{"explicit", "8081", true, 8081},
		{"ephemeral", "0", true, 0},
		{"padded", " 9000 ", true, 9000},
		{"negative", "-1", true, DefaultContainerPort},
		{"too large", "70000", true, DefaultContainerPort},
		{"malformed", "eighty", true, DefaultContainerPort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(newTestSystem(nil))
			if tt.set {
				r.Set(ContainerPort, tt.value)
			}
			assert.Equal(t, tt.expected, r.Port())
		})
	}
}

func TestResolverPortLogsMalformedValue(t *testing.T) {
	var buf bytes.Buffer
	prev := logging.SetRoot(logging.NewHandler(logging.Config{Level: logging.LevelTrace, Output: &buf}))
	prevLevel := logging.SetRootLevel(logging.LevelConfig)
	t.Cleanup(func() {
		logging.SetRoot(prev)
		logging.SetRootLevel(prevLevel)
	})

	r := NewResolver(newTestSystem(nil))
	r.Set(ContainerPort, "abc")
	assert.Equal(t, DefaultContainerPort, r.Port())
	assert.Contains(t, buf.String(), "level=CONFIG")
	assert.Contains(t, buf.String(), "invalid container port")
}

func TestResolverRecordLevel(t *testing.T) {
	r := NewResolver(newTestSystem(nil))

	_, ok, err := r.RecordLevel()
	require.NoError(t, err)
	assert.False(t, ok)

	r.Set(RecordLogLevel, "-4")
	level, ok, err := r.RecordLevel()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, logging.LevelDebug, level)

	r.Set(RecordLogLevel, "config")
	level, _, err = r.RecordLevel()
	require.NoError(t, err)
	assert.Equal(t, logging.LevelConfig, level)

	r.Set(RecordLogLevel, "very loud")
	_, _, err = r.RecordLevel()
	assert.Error(t, err)
}

// =============================================================================
// System
// =============================================================================

func TestSystemLookup(t *testing.T) {
	sys := newTestSystem(map[string]string{
		"exact.name":                         "exact",
		"APPTEST_CONFIG_TEST_CONTAINER_PORT": "1234",
	})

	v, ok := sys.Lookup("exact.name")
	require.True(t, ok)
	assert.Equal(t, "exact", v)

	v, ok = sys.Lookup(ContainerPort)
	require.True(t, ok)
	assert.Equal(t, "1234", v)

	restore := sys.Set(ContainerPort, "5678")
	v, _ = sys.Lookup(ContainerPort)
	assert.Equal(t, "5678", v, "override wins over environment")
	restore()

	v, _ = sys.Lookup(ContainerPort)
	assert.Equal(t, "1234", v)
}

func TestSystemSetRestoresPrevious(t *testing.T) {
	sys := newTestSystem(nil)
	outer := sys.Set("k", "1")
	inner := sys.Set("k", "2")

	v, _ := sys.Lookup("k")
	assert.Equal(t, "2", v)

	inner()
	v, _ = sys.Lookup("k")
	assert.Equal(t, "1", v)

	outer()
	_, ok := sys.Lookup("k")
	assert.False(t, ok)
}

func TestSystemLoad(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.env")
	second := filepath.Join(dir, "b.env")
	require.NoError(t, os.WriteFile(first, []byte("apptest.config.test.logging.enable=true\nshared=first\n"), 0o600))
	require.NoError(t, os.WriteFile(second, []byte("shared=second\n"), 0o600))

	sys := newTestSystem(nil)
	require.NoError(t, sys.Load(first, second))

	assert.Equal(t, []string{LogTraffic, "shared"}, sys.Names())
	v, _ := sys.Lookup("shared")
	assert.Equal(t, "second", v)

	r := NewResolver(sys)
	assert.True(t, r.IsEnabled(LogTraffic))

	sys.Unset("shared")
	_, ok := sys.Lookup("shared")
	assert.False(t, ok)

	err := sys.Load(filepath.Join(dir, "missing.env"))
	assert.Error(t, err)
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "APPTEST_CONFIG_TEST_LOGGING_DUMPENTITY", EnvName(DumpEntity))
	assert.Equal(t, "A_B_C", EnvName("a-b.c"))
}
