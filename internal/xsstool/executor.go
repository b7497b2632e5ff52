// Package xsstool implementa el XSS-Tool Executor (§4.6): invocación
// del escáner, un parser de stream por profundidad de llaves (el
// stdout de XSS-Tool concatena objetos JSON top-level sin
// separadores), extracción de hallazgos, y filtrado de stderr. El
// monitoreo de stdout/stderr en goroutines separadas sigue la forma de
// bae7f965_cyber0s-wepoc's NucleiScanner, generalizada aquí a un buffer
// por profundidad en lugar de JSONL línea por línea.
package xsstool

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/buger/jsonparser"
	"github.com/tidwall/gjson"

	"github.com/BetterCallFirewall/Hackerecon/internal/logx"
	"github.com/BetterCallFirewall/Hackerecon/internal/model"
	"github.com/BetterCallFirewall/Hackerecon/internal/procreg"
	"github.com/BetterCallFirewall/Hackerecon/internal/procspawn"
)

var (
	urlFallbackPattern = regexp.MustCompile(`https?://[^\s"]+`)
	benignStderrPattern = regexp.MustCompile(`(?i)loopback|ipaddressspace|could not unmarshal event`)
)

const maxDescriptionPayload = 120

// OnFinding recibe cada hallazgo nuevo (deduplicado por (param, payload)
// dentro de una invocación) emitido por scanUrl.
type OnFinding func(model.Vulnerability)

// Executor supervisa el ciclo de vida del proceso XSS-Tool.
type Executor struct {
	Spawner  procspawn.Spawner
	Logger   *logx.Logger
	Registry procreg.Registry
	Config   *model.ScanConfig
}

// New crea un Executor con las dependencias dadas.
func New(spawner procspawn.Spawner, logger *logx.Logger, registry procreg.Registry, cfg *model.ScanConfig) *Executor {
	if registry == nil {
		registry = procreg.Noop{}
	}
	return &Executor{Spawner: spawner, Logger: logger, Registry: registry, Config: cfg}
}

// CheckAvailability ejecuta `<tool> --version` con un timeout corto.
func (e *Executor) CheckAvailability(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := e.Spawner.Command(ctx, e.Config.XSSToolPath, "--version")
	if err := cmd.Run(); err != nil {
		e.Logger.Warnf("XSS-Tool unavailable: %v", err)
		return false
	}
	e.Logger.Successf("XSS-Tool available")
	return true
}

// ScanURL invoca XSS-Tool sobre endpoint, despachando cada hallazgo
// nuevo a onFinding conforme el parser de stream lo extrae (§4.6).
func (e *Executor) ScanURL(ctx context.Context, endpoint model.Endpoint, onFinding OnFinding) error {
	args := []string{
		"url", endpoint.URL,
		"--format", "json",
		"--silence",
		"--no-color",
		"--skip-bav",
		"--worker", fmt.Sprint(e.Config.XSSWorkerCount),
	}
	if e.Config.XSSDelayMillis > 0 {
		args = append(args, "--delay", fmt.Sprint(e.Config.XSSDelayMillis))
	}
	for _, h := range e.Config.CustomHeaders {
		args = append(args, "--header", fmt.Sprintf("%s: %s", h.Name, h.Value))
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(e.Config.ToolTimeoutSeconds)*time.Second)
	defer cancel()

	cmd := e.Spawner.Command(timeoutCtx, e.Config.XSSToolPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("xsstool: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("xsstool: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("xsstool: start: %w", err)
	}
	trackName := "xss-scan-" + endpoint.Key()
	e.Registry.Track(trackName, cmd.Process)
	defer e.Registry.Untrack(trackName)

	seen := make(map[string]bool)
	parser := newStreamParser()
	go e.consumeStdout(stdout, endpoint, parser, seen, onFinding)
	go e.consumeStderr(stderr)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			e.Logger.Warnf("XSS-Tool exited: %v", err)
		}
		return nil
	case <-timeoutCtx.Done():
		e.Logger.Warnf("XSS-Tool timed out for %s", endpoint.URL)
		if cmd.Process != nil {
			_ = cmd.Process.Signal(syscall.SIGTERM)
			time.AfterFunc(300*time.Millisecond, func() { _ = cmd.Process.Kill() })
		}
		<-done
		return nil
	}
}

func (e *Executor) consumeStdout(r io.Reader, endpoint model.Endpoint, parser *streamParser, seen map[string]bool, onFinding OnFinding) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			objects := parser.Feed(buf[:n])
			for _, raw := range objects {
				v, ok := parseFinding(raw, endpoint)
				if !ok {
					continue
				}
				key := v.Parameter + "|" + gjson.GetBytes(raw, "payload").String()
				if seen[key] {
					continue
				}
				seen[key] = true
				if onFinding != nil {
					onFinding(v)
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func (e *Executor) consumeStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if benignStderrPattern.MatchString(line) {
			e.Logger.Log("xsstool: "+line, model.LogDebug, "", false)
			continue
		}
		if strings.Contains(line, "ERROR:") || strings.Contains(line, "FATAL:") {
			e.Logger.Warnf("xsstool: %s", line)
			continue
		}
		e.Logger.Log("xsstool: "+line, model.LogDebug, "", false)
	}
}

// streamParser acumula bytes y extrae objetos JSON top-level completos
// de un stream que los concatena sin separadores (§4.6, §8: debe ser
// invariante a los límites de los chunks). Cadenas y escapes se tienen
// en cuenta para no contar llaves dentro de valores de texto.
type streamParser struct {
	buf       []byte
	depth     int
	start     int
	inString  bool
	escaped   bool
	haveStart bool
}

func newStreamParser() *streamParser {
	return &streamParser{}
}

// Feed añade bytes al buffer y devuelve los objetos JSON completos
// extraídos, dejando cualquier resto parcial para la próxima llamada.
func (p *streamParser) Feed(chunk []byte) [][]byte {
	var objects [][]byte
	for _, b := range chunk {
		p.buf = append(p.buf, b)

		if p.inString {
			if p.escaped {
				p.escaped = false
			} else if b == '\\' {
				p.escaped = true
			} else if b == '"' {
				p.inString = false
			}
			continue
		}

		switch b {
		case '"':
			p.inString = true
		case '{':
			if p.depth == 0 {
				p.start = len(p.buf) - 1
				p.haveStart = true
			}
			p.depth++
		case '}':
			if p.depth > 0 {
				p.depth--
				if p.depth == 0 && p.haveStart {
					obj := make([]byte, len(p.buf)-p.start)
					copy(obj, p.buf[p.start:])
					objects = append(objects, obj)
					p.haveStart = false
				}
			}
		}
	}

	if p.depth == 0 && !p.haveStart {
		p.buf = p.buf[:0]
	}

	return objects
}

// parseFinding construye una Vulnerability a partir de un objeto JSON
// crudo, o devuelve ok=false si el tipo no es de interés (§4.6).
func parseFinding(raw []byte, endpoint model.Endpoint) (model.Vulnerability, bool) {
	result := gjson.ParseBytes(raw)
	if !result.Exists() {
		return model.Vulnerability{}, false
	}

	typeField := result.Get("type").String()
	switch typeField {
	case "V", "POC", "VULN":
	default:
		return model.Vulnerability{}, false
	}

	param := result.Get("param").String()
	if param == "" {
		param = result.Get("parameter").String()
	}
	if param == "" {
		param = "unknown"
	}

	payload := result.Get("payload").String()
	if payload == "" {
		payload = "detected"
	}

	method := result.Get("method").String()
	injectType := result.Get("inject_type").String()
	if injectType == "" {
		injectType = typeField
	}

	foundURL := extractURL(raw, result)
	ep := endpoint
	if foundURL != "" {
		ep.URL = foundURL
	}

	severity := severityFromField(result.Get("severity").String())

	truncated := payload
	if len(truncated) > maxDescriptionPayload {
		truncated = truncated[:maxDescriptionPayload] + "..."
	}
	description := fmt.Sprintf("%s %s %s: %s", method, param, injectType, truncated)

	return model.Vulnerability{
		Type:        model.VulnXSS,
		Severity:    severity,
		Endpoint:    ep,
		Parameter:   param,
		Description: strings.TrimSpace(description),
		FoundAt:     time.Now(),
	}, true
}

// extractURL intenta, en orden: data (string), data.url, data.target,
// url, cualquier clave de nivel superior cuyo nombre contenga "url"
// (para formas de objeto no anticipadas, p.ej. "affected_url" o
// "source_url"), y finalmente una búsqueda regex sobre el objeto
// serializado completo (§4.6).
func extractURL(raw []byte, result gjson.Result) string {
	if data := result.Get("data"); data.Exists() {
		if data.Type == gjson.String && strings.HasPrefix(data.String(), "http") {
			return data.String()
		}
		if u := data.Get("url").String(); u != "" {
			return u
		}
		if t := data.Get("target").String(); t != "" {
			return t
		}
	}
	if u := result.Get("url").String(); u != "" {
		return u
	}
	if u := findURLLikeKey(raw); u != "" {
		return u
	}
	if m := urlFallbackPattern.FindString(string(raw)); m != "" {
		return m
	}
	return ""
}

// findURLLikeKey recorre las claves de nivel superior del objeto
// buscando una cuyo nombre contenga "url" (sin distinguir
// mayúsculas/minúsculas) con un valor que parezca una URL absoluta —
// a diferencia de los caminos fijos de gjson arriba, esto cubre
// nombres de campo que el formato documentado no enumera.
func findURLLikeKey(raw []byte) string {
	var found string
	_ = jsonparser.ObjectEach(raw, func(key []byte, value []byte, dataType jsonparser.ValueType, _ int) error {
		if found != "" || dataType != jsonparser.String {
			return nil
		}
		if strings.Contains(strings.ToLower(string(key)), "url") && strings.HasPrefix(string(value), "http") {
			found = string(value)
		}
		return nil
	})
	return found
}

func severityFromField(s string) model.Severity {
	switch strings.ToLower(s) {
	case "critical", "high":
		return model.SeverityHigh
	case "medium":
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}
