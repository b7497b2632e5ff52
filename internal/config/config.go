// Package config normaliza y valida la configuración de un scan (§4.1),
// y provee los valores por defecto del entorno del proceso (rutas de
// herramientas, directorios temporales) como hace el resto del stack.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/BetterCallFirewall/Hackerecon/internal/model"
)

// ConfigError se produce cuando la entrada es estructuralmente inválida
// y no puede normalizarse (URL ausente/no parseable, ambos scanners
// desactivados, línea de cabecera personalizada sin la forma
// "Name: Value"). Los campos numéricos fuera de rango no producen
// ConfigError: se acotan a su límite válido.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Defaults son los valores de proceso cargados una vez al arrancar,
// usados para rellenar RawScanConfig cuando el caller omite rutas.
type Defaults struct {
	SQLiToolPath string
	XSSToolPath  string
	TempDir      string
	OutputDir    string
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// LoadDefaults lee un archivo .env opcional (si existe) y construye los
// valores por defecto del proceso. A diferencia del Load original del
// profesor, un .env ausente no es un error: sólo se usan los defaults.
func LoadDefaults() *Defaults {
	_ = godotenv.Load()

	return &Defaults{
		SQLiToolPath: getEnvOrDefault("SQLI_TOOL_PATH", "sqlmap"),
		XSSToolPath:  getEnvOrDefault("XSS_TOOL_PATH", "xsstool"),
		TempDir:      getEnvOrDefault("SCAN_TEMP_DIR", os.TempDir()),
		OutputDir:    getEnvOrDefault("SCAN_OUTPUT_DIR", os.TempDir()),
	}
}

// RawScanConfig es la entrada sin validar tal como llega del
// colaborador HTTP externo (fuera de alcance de este paquete).
type RawScanConfig struct {
	TargetURL          string
	SQLi               bool
	XSS                bool
	DBMSHint           string
	CrawlDepth         int
	Level              int
	Risk               int
	ThreadCount        int
	ToolTimeoutSeconds int
	XSSWorkerCount     int
	XSSDelayMillis     int
	EnableExploitation bool
	CustomHeaders      string // lista delimitada por '\n', "Name: Value"
	SQLiToolPath       string
	XSSToolPath        string
	TempDir            string
	OutputDir          string
}

type bound struct {
	min, max int
}

var (
	crawlDepthBound = bound{1, 5}
	levelBound      = bound{1, 5}
	riskBound       = bound{1, 3}
)

func clamp(v int, b bound) int {
	if v < b.min {
		return b.min
	}
	if v > b.max {
		return b.max
	}
	return v
}

func clampMin(v, min int) int {
	if v < min {
		return min
	}
	return v
}

// Validate normaliza raw en un model.ScanConfig, aplicando los rangos
// de §3. Falla sólo por las condiciones estructurales de §4.1 y por
// cabeceras personalizadas mal formadas.
func Validate(raw RawScanConfig, defaults *Defaults) (*model.ScanConfig, error) {
	if defaults == nil {
		defaults = LoadDefaults()
	}

	target := strings.TrimSpace(raw.TargetURL)
	if target == "" {
		return nil, &ConfigError{Field: "targetURL", Reason: "missing"}
	}
	parsed, err := url.Parse(target)
	if err != nil || !parsed.IsAbs() || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, &ConfigError{Field: "targetURL", Reason: "must parse as absolute http/https URL"}
	}

	if !raw.SQLi && !raw.XSS {
		return nil, &ConfigError{Field: "flags", Reason: "at least one of sqli/xss must be true"}
	}

	headers, err := parseHeaders(raw.CustomHeaders)
	if err != nil {
		return nil, err
	}

	sqliPath := raw.SQLiToolPath
	if sqliPath == "" {
		sqliPath = defaults.SQLiToolPath
	}
	xssPath := raw.XSSToolPath
	if xssPath == "" {
		xssPath = defaults.XSSToolPath
	}
	tempDir := raw.TempDir
	if tempDir == "" {
		tempDir = defaults.TempDir
	}
	outputDir := raw.OutputDir
	if outputDir == "" {
		outputDir = defaults.OutputDir
	}

	cfg := &model.ScanConfig{
		TargetURL:          parsed.String(),
		SQLi:               raw.SQLi,
		XSS:                raw.XSS,
		DBMSHint:           strings.TrimSpace(raw.DBMSHint),
		CrawlDepth:         clamp(raw.CrawlDepth, crawlDepthBound),
		Level:              clamp(raw.Level, levelBound),
		Risk:               clamp(raw.Risk, riskBound),
		ThreadCount:        clampMin(raw.ThreadCount, 1),
		ToolTimeoutSeconds: clampMin(raw.ToolTimeoutSeconds, 1),
		XSSWorkerCount:     clampMin(raw.XSSWorkerCount, 1),
		XSSDelayMillis:     clampMin(raw.XSSDelayMillis, 0),
		EnableExploitation: raw.EnableExploitation,
		CustomHeaders:      headers,
		SQLiToolPath:       sqliPath,
		XSSToolPath:        xssPath,
		TempDir:            tempDir,
		OutputDir:          outputDir,
	}

	return cfg, nil
}

// parseHeaders valida la sintaxis "Name: Value" por línea, ignorando
// líneas en blanco.
func parseHeaders(raw string) ([]model.HeaderKV, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []model.HeaderKV
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		idx := strings.Index(line, ":")
		if idx <= 0 {
			return nil, &ConfigError{Field: "customHeaders", Reason: fmt.Sprintf("malformed header line: %q", line)}
		}
		name := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if name == "" {
			return nil, &ConfigError{Field: "customHeaders", Reason: fmt.Sprintf("empty header name: %q", line)}
		}
		out = append(out, model.HeaderKV{Name: name, Value: value})
	}
	return out, nil
}
