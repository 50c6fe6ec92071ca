package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var moduleFilter = Filter{
	Include: []string{"github.com/bstoi/apptest/**"},
	Exclude: []string{"github.com/bstoi/apptest/pkg/harness", "github.com/bstoi/apptest/pkg/harness/**"},
}

func TestFilterMatch(t *testing.T) {
	tests := []struct {
		name   string
		logger string
		want   bool
	}{
		{"framework logger", "github.com/bstoi/apptest/pkg/dispatch", true},
		{"nested framework logger", "github.com/bstoi/apptest/pkg/container/writer", true},
		{"harness logger", "github.com/bstoi/apptest/pkg/harness", false},
		{"harness child", "github.com/bstoi/apptest/pkg/harness/suite", false},
		{"foreign logger", "example.com/other", false},
		{"unnamed", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, moduleFilter.Match(tt.logger))
		})
	}

	t.Run("empty filter accepts everything", func(t *testing.T) {
		assert.True(t, Filter{}.Match(""))
		assert.True(t, Filter{}.Match("anything"))
	})
}

func TestCaptureScoping(t *testing.T) {
	var out bytes.Buffer
	prev := SetRoot(NewHandler(Config{Level: LevelInfo, Output: &out}))
	prevLevel := SetRootLevel(LevelInfo)
	t.Cleanup(func() {
		SetRoot(prev)
		SetRootLevel(prevLevel)
	})

	framework := Named("github.com/bstoi/apptest/pkg/dispatch")
	harness := Named("github.com/bstoi/apptest/pkg/harness")

	c := StartCapture(LevelDebug, moduleFilter)
	assert.Equal(t, LevelDebug, RootLevel(), "root level lowered to the record level")

	framework.Debug("matched route", "path", "/a")
	framework.Log(context.Background(), LevelTrace, "below record level")
	harness.Warn("harness noise")
	framework.With("id", 7).WithGroup("req").Info("grouped", "method", "GET")

	records := c.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "matched route", records[0].Message)
	assert.Equal(t, "github.com/bstoi/apptest/pkg/dispatch", records[0].Logger)
	assert.Equal(t, "/a", records[0].Attrs["path"])
	assert.Equal(t, "grouped", records[1].Message)
	assert.Equal(t, int64(7), records[1].Attrs["id"])
	assert.Equal(t, "GET", records[1].Attrs["req.method"])

	// the original root still receives records at its own level
	assert.Contains(t, out.String(), "harness noise")
	assert.NotContains(t, out.String(), "matched route")

	c.Release()
	c.Release()
	assert.Equal(t, LevelInfo, RootLevel())

	framework.Warn("after release")
	assert.Len(t, c.Records(), 2)
}

func TestWithCaptureReleasesOnPanic(t *testing.T) {
	prevLevel := SetRootLevel(LevelWarn)
	t.Cleanup(func() { SetRootLevel(prevLevel) })
	root := Root()

	assert.Panics(t, func() {
		_, _ = WithCapture(LevelDebug, Filter{}, func() error {
			panic("boom")
		})
	})

	assert.Equal(t, LevelWarn, RootLevel())
	assert.Same(t, root, Root())
}

func TestWithCaptureReturnsRecords(t *testing.T) {
	prevLevel := SetRootLevel(LevelInfo)
	t.Cleanup(func() { SetRootLevel(prevLevel) })

	records, err := WithCapture(LevelInfo, moduleFilter, func() error {
		Named("github.com/bstoi/apptest/pkg/listener").Info("bound", "port", 1234)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(1234), records[0].Attrs["port"])
}
