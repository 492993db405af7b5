package logger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/crewshift/pinlock/pkg/logger"
)

func TestSanitizeQueryString(t *testing.T) {
	assert.True(t, logger.SanitizeQueryString("code=123456"))
	assert.True(t, logger.SanitizeQueryString("window_ms=500&token=abc"))
	assert.True(t, logger.SanitizeQueryString("PROOF=eyJhbGci"))
	assert.False(t, logger.SanitizeQueryString("window_ms=500"))
	assert.False(t, logger.SanitizeQueryString(""))
}

func TestSanitizedPrincipal(t *testing.T) {
	assert.Equal(t, "emp-******", logger.SanitizedPrincipal("emp-004512"))
	assert.Equal(t, "***", logger.SanitizedPrincipal("abc"))
	assert.Equal(t, "", logger.SanitizedPrincipal(""))
}
