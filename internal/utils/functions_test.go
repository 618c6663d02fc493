package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.00 KB", FormatBytes(1024))
	assert.Equal(t, "1.50 MB", FormatBytes(1536*1024))
	assert.Equal(t, "2.00 GB", FormatBytes(2*1024*1024*1024))
}

func TestFormatSpeed(t *testing.T) {
	assert.Equal(t, "0 B/s", FormatSpeed(0))
	assert.Equal(t, "0 B/s", FormatSpeed(-10))
	assert.Equal(t, "1.00 KB/s", FormatSpeed(1024))
}

func TestFormatETA(t *testing.T) {
	assert.Equal(t, "--:--", FormatETA(-1))
	assert.Equal(t, "00:45", FormatETA(45))
	assert.Equal(t, "02:05", FormatETA(125))
	assert.Equal(t, "1:01:05", FormatETA(3665))
}

func TestParseHeaderArgs(t *testing.T) {
	headers := ParseHeaderArgs([]string{
		"Authorization: Bearer tok",
		"X-Custom:value",
		"malformed-header",
	})
	assert.Equal(t, map[string]string{
		"Authorization": "Bearer tok",
		"X-Custom":      "value",
	}, headers)
}

func TestGetRandomUserAgent(t *testing.T) {
	ua := GetRandomUserAgent()
	assert.NotEmpty(t, ua)
}
