package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestBuildLogger(t *testing.T) {
	cases := []struct {
		level     string
		format    string
		wantLevel zapcore.Level
		wantErr   string
	}{
		{level: "debug", format: "console", wantLevel: zapcore.DebugLevel},
		{level: "warn", format: "console", wantLevel: zapcore.WarnLevel},
		{level: "error", format: "json", wantLevel: zapcore.ErrorLevel},
		{level: "loud", format: "console", wantErr: "parsing log level"},
		{level: "info", format: "xml", wantErr: "unsupported log format"},
	}
	for _, c := range cases {
		t.Run(c.level+"/"+c.format, func(t *testing.T) {
			logger, level, err := buildLogger(c.level, c.format)
			if c.wantErr != "" {
				require.ErrorContains(t, err, c.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.wantLevel, level)
			assert.True(t, logger.Core().Enabled(c.wantLevel))
			assert.False(t, logger.Core().Enabled(c.wantLevel-1))
		})
	}
}
