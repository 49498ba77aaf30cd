package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSensitive(t *testing.T) {
	assert.Equal(t, "<not set>", MaskSensitive(""))
	assert.Equal(t, "<set>", MaskSensitive("abcd"))

	masked := MaskSensitive("glpat-supersecret")
	assert.Equal(t, "glpa...***", masked)
	assert.NotContains(t, masked, "supersecret")
}

func TestSetupLevels(t *testing.T) {
	var buf bytes.Buffer
	Setup(&buf, "warn")
	defer Setup(&buf, "info")

	Info("should be filtered")
	Warn("should appear")

	out := buf.String()
	assert.NotContains(t, out, "should be filtered")
	assert.Contains(t, out, "should appear")
}
