// File: cmd/main_test.go
package cmd

import (
	"os"
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/observability"
)

// TestMain installs a quiet logger so command output is all the tests see.
func TestMain(m *testing.M) {
	logConfig := config.NewDefaultConfig().Logger()
	logConfig.Level = "fatal"
	logConfig.ServiceName = "test"
	logConfig.LogFile = ""
	observability.Initialize(logConfig, zapcore.Lock(os.Stderr))

	exitCode := m.Run()

	observability.Sync()
	observability.ResetForTest()
	os.Exit(exitCode)
}
