package helpers

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kode4food/wireflow/internal/config"
	"github.com/kode4food/wireflow/pkg/api"
	"github.com/kode4food/wireflow/pkg/log"
)

// NewTestSettings creates default settings rooted in a temporary user
// directory, with the flow file kept in memory
func NewTestSettings(t *testing.T) *config.Settings {
	t.Helper()
	s := config.NewDefaultSettings()
	s.UserDir = t.TempDir()
	s.Storage.BucketURL = "mem://"
	s.Logging.Console.Level = "debug"
	s.Runtime.NodeCloseTimeout = 2 * time.Second
	return s
}

// NewTestLogger creates a logger that discards its output
func NewTestLogger() *log.Logger {
	return log.NewWithOptions("wireflow", "test", "dev", log.Options{
		Output: io.Discard,
		Level:  log.LevelTrace,
		Audit:  true,
	})
}

// ParseDefinition parses a flow document and fails the test when it is
// invalid
func ParseDefinition(t *testing.T, data string) *api.Definition {
	t.Helper()
	def, err := api.ParseDefinition([]byte(data))
	require.NoError(t, err)
	return def
}
