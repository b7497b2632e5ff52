package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDefaults() *Defaults {
	return &Defaults{
		SQLiToolPath: "sqlmap",
		XSSToolPath:  "xsstool",
		TempDir:      "/tmp",
		OutputDir:    "/tmp",
	}
}

func TestValidate_MissingURL(t *testing.T) {
	_, err := Validate(RawScanConfig{SQLi: true}, testDefaults())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "targetURL")
}

func TestValidate_UnparseableURL(t *testing.T) {
	_, err := Validate(RawScanConfig{TargetURL: "not a url", SQLi: true}, testDefaults())
	require.Error(t, err)
}

func TestValidate_RequiresAtLeastOneScanner(t *testing.T) {
	_, err := Validate(RawScanConfig{TargetURL: "http://example.com"}, testDefaults())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flags")
}

func TestValidate_ClampsOutOfRangeFields(t *testing.T) {
	cfg, err := Validate(RawScanConfig{
		TargetURL:          "http://example.com",
		SQLi:               true,
		CrawlDepth:         99,
		Level:              0,
		Risk:               10,
		ThreadCount:        0,
		ToolTimeoutSeconds: -5,
		XSSWorkerCount:     -1,
		XSSDelayMillis:     -1,
	}, testDefaults())
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.CrawlDepth)
	assert.Equal(t, 1, cfg.Level)
	assert.Equal(t, 3, cfg.Risk)
	assert.Equal(t, 1, cfg.ThreadCount)
	assert.Equal(t, 1, cfg.ToolTimeoutSeconds)
	assert.Equal(t, 1, cfg.XSSWorkerCount)
	assert.Equal(t, 0, cfg.XSSDelayMillis)
}

func TestValidate_DefaultsFillMissingToolPaths(t *testing.T) {
	cfg, err := Validate(RawScanConfig{TargetURL: "https://example.com", XSS: true}, testDefaults())
	require.NoError(t, err)
	assert.Equal(t, "sqlmap", cfg.SQLiToolPath)
	assert.Equal(t, "xsstool", cfg.XSSToolPath)
}

func TestValidate_ParsesCustomHeaders(t *testing.T) {
	cfg, err := Validate(RawScanConfig{
		TargetURL:     "https://example.com",
		SQLi:          true,
		CustomHeaders: "Cookie: a=b\n\nX-Custom: value",
	}, testDefaults())
	require.NoError(t, err)
	require.Len(t, cfg.CustomHeaders, 2)
	assert.Equal(t, "Cookie", cfg.CustomHeaders[0].Name)
	assert.Equal(t, "a=b", cfg.CustomHeaders[0].Value)
	assert.Equal(t, "X-Custom", cfg.CustomHeaders[1].Name)
}

func TestValidate_RejectsMalformedHeaderLine(t *testing.T) {
	_, err := Validate(RawScanConfig{
		TargetURL:     "https://example.com",
		SQLi:          true,
		CustomHeaders: "not-a-header-line",
	}, testDefaults())
	require.Error(t, err)
}
