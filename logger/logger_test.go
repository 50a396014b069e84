package logger

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestGetLogLevel(t *testing.T) {
	os.Unsetenv("LOG_LEVEL")
	os.Setenv("PRICEWORKER_ENVIRONMENT", "production")
	assert.Equal(t, zerolog.InfoLevel, getLogLevel())

	os.Setenv("PRICEWORKER_ENVIRONMENT", "development")
	assert.Equal(t, zerolog.DebugLevel, getLogLevel())

	os.Setenv("LOG_LEVEL", "warn")
	assert.Equal(t, zerolog.WarnLevel, getLogLevel())

	os.Setenv("LOG_LEVEL", "not-a-level")
	assert.Equal(t, zerolog.InfoLevel, getLogLevel())

	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("PRICEWORKER_ENVIRONMENT")
}

func TestComponentLoggers(t *testing.T) {
	Init()
	assert.NotNil(t, Default)
	assert.NotNil(t, ForWorker())
	assert.NotNil(t, ForDiscovery())
	assert.NotNil(t, ForStore())

	withField := Default.WithField("job_id", 42)
	assert.NotNil(t, withField)

	withFields := Default.WithFields(Fields{"a": 1, "b": "two"})
	assert.NotNil(t, withFields)
}
