// Package sqlitool implementa el SQLi-Tool Executor (§4.5): crawl,
// parseo de CSV, y pruebas de detección/fingerprint/exploit por
// endpoint o parámetro, con streaming de la salida del proceso hijo.
// La forma del monitoreo stdout/stderr con goroutines + select sobre
// cmd.Wait()/ctx.Done()/timeout está tomada de
// bae7f965_cyber0s-wepoc's NucleiScanner.Start.
package sqlitool

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/BetterCallFirewall/Hackerecon/internal/logx"
	"github.com/BetterCallFirewall/Hackerecon/internal/model"
	"github.com/BetterCallFirewall/Hackerecon/internal/procreg"
	"github.com/BetterCallFirewall/Hackerecon/internal/procspawn"
)

// Phase de prueba dentro de la fase SQLi (§4.5/§4.7).
type Phase string

const (
	PhaseDetection  Phase = "detection"
	PhaseFingerprint Phase = "fingerprint"
	PhaseExploit    Phase = "exploit"
)

var (
	crawlDonePattern = regexp.MustCompile(`(?i)\[?\d{2}:\d{2}:\d{2}\]?.*\[INFO\]\s+found a total of \d+ targets`)
	vulnPattern      = regexp.MustCompile(`(?i)vulnerable|injectable|injection point`)
	paramHeaderPattern = regexp.MustCompile(`(?i)Parameter:\s*'?([A-Za-z0-9_\[\]]+)'?`)
	timeBasedPattern = regexp.MustCompile(`(?i)time-based|stacked`)
	unionErrorPattern = regexp.MustCompile(`(?i)union|error-based`)

	noisyLinePattern = regexp.MustCompile(
		`(?i)^\s*$|legal disclaimer|\[y/n|\(y/n\)|^\s*\[\*\]|^\s*___|sqlmap resumed|sqlmap identified|Thread \d+:`,
	)
)

// Finding es una notificación emitida durante testEndpoint/testParameter.
type Finding = model.Vulnerability

// OnFinding recibe cada hallazgo nuevo (no duplicado) de la invocación.
type OnFinding func(Finding)

// Executor supervisa el ciclo de vida del proceso SQLi-Tool.
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

	cmd := e.Spawner.Command(ctx, e.Config.SQLiToolPath, "--version")
	if err := cmd.Run(); err != nil {
		e.Logger.Warnf("SQLi-Tool unavailable: %v", err)
		return false
	}
	e.Logger.Successf("SQLi-Tool available")
	return true
}

// CrawlResult es el resultado de runCrawl: la ruta al CSV producido.
type CrawlResult struct {
	CSVPath string
	Failed  bool
}

func (e *Executor) baseArgs() []string {
	args := []string{
		"--batch", "--random-agent",
		"--level", fmt.Sprint(e.Config.Level),
		"--risk", fmt.Sprint(e.Config.Risk),
		"--threads", fmt.Sprint(e.Config.ThreadCount),
		"-v", "1",
		"--tmp-dir", e.Config.TempDir,
	}
	if e.Config.DBMSHint != "" {
		args = append(args, "--dbms", e.Config.DBMSHint)
	}
	for _, h := range e.Config.CustomHeaders {
		args = append(args, "--header", fmt.Sprintf("%s: %s", h.Name, h.Value))
	}
	return args
}

// RunCrawl lanza SQLi-Tool en modo crawl, observa stdout buscando el
// patrón de finalización, y recupera el CSV de resultados (§4.5).
func (e *Executor) RunCrawl(ctx context.Context) (*CrawlResult, error) {
	args := append([]string{"-u", e.Config.TargetURL, "--crawl", fmt.Sprint(e.Config.CrawlDepth), "--forms"}, e.baseArgs()...)

	timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(e.Config.ToolTimeoutSeconds)*time.Second)
	defer cancel()

	cmd := e.Spawner.Command(timeoutCtx, e.Config.SQLiToolPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("sqlitool: crawl stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("sqlitool: crawl stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("sqlitool: crawl start: %w", err)
	}
	e.Registry.Track("sqli-crawl", cmd.Process)
	defer e.Registry.Untrack("sqli-crawl")

	matched := make(chan struct{}, 1)
	go e.streamLines(stdout, "spawn: crawl", func(line string) {
		if crawlDonePattern.MatchString(line) {
			select {
			case matched <- struct{}{}:
			default:
			}
		}
	})
	go e.drainStderr(stderr)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-matched:
		gracefulStop(cmd)
	case err := <-done:
		if err != nil {
			e.Logger.Warnf("SQLi-Tool crawl exited: %v", err)
		}
	case <-timeoutCtx.Done():
		e.Logger.Warnf("SQLi-Tool crawl timed out after %ds", e.Config.ToolTimeoutSeconds)
		gracefulStop(cmd)
	}
	<-done

	csvPath, found := e.pollForCSV()
	if !found {
		return &CrawlResult{Failed: true}, nil
	}
	return &CrawlResult{CSVPath: csvPath}, nil
}

func gracefulStop(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	time.AfterFunc(300*time.Millisecond, func() {
		_ = cmd.Process.Kill()
	})
}

// pollForCSV busca el CSV de resultados hasta 3 intentos separados por
// 2s (§4.5, §9: único reintento acotado además del spawn fallback).
func (e *Executor) pollForCSV() (string, bool) {
	for attempt := 0; attempt < 3; attempt++ {
		if path, ok := e.findRecentCSV(); ok {
			return path, true
		}
		if attempt < 2 {
			time.Sleep(2 * time.Second)
		}
	}
	return "", false
}

func (e *Executor) findRecentCSV() (string, bool) {
	entries, err := os.ReadDir(e.Config.TempDir)
	if err != nil {
		return "", false
	}
	cutoff := time.Now().Add(-1 * time.Hour)
	var best string
	var bestTime time.Time
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().Before(cutoff) {
			continue
		}
		if info.ModTime().After(bestTime) {
			bestTime = info.ModTime()
			best = filepath.Join(e.Config.TempDir, entry.Name())
		}
	}
	if best == "" {
		return "", false
	}
	return best, true
}

func (e *Executor) streamLines(r io.Reader, debugTag string, onLine func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !noisyLinePattern.MatchString(line) {
			e.Logger.Log(line, model.LogDebug, "", false)
		}
		onLine(line)
	}
}

func (e *Executor) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		e.Logger.Log("sqlmap: "+line, model.LogDebug, "", false)
	}
}

// CrawlParseResult son los endpoints y parámetros descubiertos.
type CrawlParseResult struct {
	Endpoints []*model.Endpoint
}

// ParseCrawlCSV parsea el CSV `<url>[,<postData>]` generado por el
// crawler. La coma que separa la URL del cuerpo POST es la primera
// coma de la línea; su ausencia implica GET (§4.5).
func ParseCrawlCSV(path string) (*CrawlParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sqlitool: read CSV: %w", err)
	}

	byKey := make(map[string]*model.Endpoint)
	var order []string

	for _, rawLine := range strings.Split(string(data), "\n") {
		line := strings.TrimRight(rawLine, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		var rawURL, postData string
		var method model.Method = model.MethodGET
		if idx := strings.Index(line, ","); idx >= 0 {
			rawURL = line[:idx]
			postData = line[idx+1:]
			method = model.MethodPOST
		} else {
			rawURL = line
		}

		ep := model.NewEndpoint(method, rawURL, postData)
		key := ep.Key()
		existing, ok := byKey[key]
		if !ok {
			byKey[key] = ep
			order = append(order, key)
			existing = ep
		}

		existing.MergeParams(queryParamNames(rawURL)...)
		if postData != "" {
			existing.MergeParams(bodyParamNames(postData)...)
		}
	}

	out := make([]*model.Endpoint, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return &CrawlParseResult{Endpoints: out}, nil
}

func queryParamNames(rawURL string) []string {
	idx := strings.Index(rawURL, "?")
	if idx < 0 {
		return nil
	}
	return bodyParamNames(rawURL[idx+1:])
}

// bodyParamNames parsea `key=value&key2=value2`, descartando claves
// vacías.
func bodyParamNames(body string) []string {
	if body == "" {
		return nil
	}
	var names []string
	for _, pair := range strings.Split(body, "&") {
		if pair == "" {
			continue
		}
		key := pair
		if eq := strings.Index(pair, "="); eq >= 0 {
			key = pair[:eq]
		}
		if key == "" {
			continue
		}
		names = append(names, key)
	}
	return names
}

// TargetFiles son las rutas sidecar escritas por WriteTargetFiles.
type TargetFiles struct {
	GetTargetsPath  string
	PostTargetsPath string
	GetCount        int
	PostCount       int
}

// WriteTargetFiles escribe get_targets.txt y post_targets.txt bajo dir
// (§4.5, §6: filesystem layout per scan).
func WriteTargetFiles(dir string, result *CrawlParseResult) (*TargetFiles, error) {
	var getLines, postLines []string
	for _, ep := range result.Endpoints {
		if ep.Method == model.MethodGET {
			getLines = append(getLines, ep.URL)
		} else {
			postLines = append(postLines, ep.URL+"|||"+ep.PostData)
		}
	}

	getPath := filepath.Join(dir, "get_targets.txt")
	postPath := filepath.Join(dir, "post_targets.txt")

	if err := os.WriteFile(getPath, []byte(strings.Join(getLines, "\n")), 0o644); err != nil {
		return nil, fmt.Errorf("sqlitool: write get targets: %w", err)
	}
	if err := os.WriteFile(postPath, []byte(strings.Join(postLines, "\n")), 0o644); err != nil {
		return nil, fmt.Errorf("sqlitool: write post targets: %w", err)
	}

	return &TargetFiles{
		GetTargetsPath:  getPath,
		PostTargetsPath: postPath,
		GetCount:        len(getLines),
		PostCount:       len(postLines),
	}, nil
}

// phaseArgs añade los flags propios de cada sub-fase de prueba (§4.5).
func phaseArgs(phase Phase) []string {
	switch phase {
	case PhaseFingerprint:
		return []string{"--fingerprint"}
	case PhaseExploit:
		return []string{"--current-db", "--banner"}
	default:
		return nil
	}
}

func severityFor(line string) model.Severity {
	_ = timeBasedPattern
	_ = unionErrorPattern
	return model.SeverityCritical
}

// TestEndpoint ejecuta SQLi-Tool contra un endpoint con uno o más
// parámetros objetivo, en la sub-fase phase, invocando onFinding por
// cada hallazgo nuevo (§4.5).
func (e *Executor) TestEndpoint(ctx context.Context, endpoint *model.Endpoint, params []string, phase Phase, onFinding OnFinding) error {
	args := []string{"-u", endpoint.URL}
	if endpoint.Method == model.MethodPOST && endpoint.PostData != "" {
		args = append(args, "--data", endpoint.PostData)
	}
	if len(params) > 0 {
		args = append(args, "-p", strings.Join(params, ","))
	}
	args = append(args, e.baseArgs()...)
	args = append(args, phaseArgs(phase)...)

	return e.runTest(ctx, *endpoint, args, onFinding)
}

// TestParameter ejecuta SQLi-Tool contra un único parámetro (usado en
// fingerprint/exploit, §4.7).
func (e *Executor) TestParameter(ctx context.Context, param model.Parameter, phase Phase, onFinding OnFinding) error {
	return e.TestEndpoint(ctx, &param.Endpoint, []string{param.Name}, phase, onFinding)
}

func (e *Executor) runTest(ctx context.Context, endpoint model.Endpoint, args []string, onFinding OnFinding) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(e.Config.ToolTimeoutSeconds)*time.Second)
	defer cancel()

	cmd := e.Spawner.Command(timeoutCtx, e.Config.SQLiToolPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("sqlitool: test stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("sqlitool: test stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("sqlitool: test start: %w", err)
	}
	trackName := "sqli-test-" + endpoint.Key()
	e.Registry.Track(trackName, cmd.Process)
	defer e.Registry.Untrack(trackName)

	seen := make(map[string]bool)
	go e.streamLines(stdout, "spawn: test", func(line string) {
		if !vulnPattern.MatchString(line) {
			return
		}
		paramName := attributeParam(line, endpoint)
		if paramName == "" {
			return
		}
		key := endpoint.Key() + "#" + paramName
		if seen[key] {
			return
		}
		seen[key] = true

		finding := model.Vulnerability{
			Type:        model.VulnSQLi,
			Severity:    severityFor(line),
			Endpoint:    endpoint,
			Parameter:   paramName,
			Description: strippedPOCText(line),
			FoundAt:     time.Now(),
		}
		if onFinding != nil {
			onFinding(finding)
		}
	})
	go e.drainStderr(stderr)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			e.Logger.Warnf("SQLi-Tool test exited: %v", err)
		}
		return nil
	case <-timeoutCtx.Done():
		e.Logger.Warnf("SQLi-Tool test timed out for %s", endpoint.URL)
		gracefulStop(cmd)
		<-done
		return nil
	}
}

// attributeParam requiere que el parámetro esté mencionado en la línea
// (por subcadena del nombre o cabecera "Parameter:") para atribuir el
// hallazgo (§4.5). Devuelve "*" si la línea es claramente una
// confirmación de vulnerabilidad pero no menciona ningún parámetro
// conocido del endpoint (decisión en DESIGN.md, Open Question #2).
func attributeParam(line string, endpoint model.Endpoint) string {
	if m := paramHeaderPattern.FindStringSubmatch(line); m != nil {
		return m[1]
	}
	for name := range endpoint.Parameters {
		if strings.Contains(line, name) {
			return name
		}
	}
	return "*"
}

// strippedPOCText limpia HTML eventual en la línea de evidencia
// (salida de exploit con --banner puede incluir fragmentos HTML) igual
// que prepareContentForLLM del profesor quitaba markup antes de
// presentar texto.
func strippedPOCText(line string) string {
	if !strings.Contains(line, "<") || !strings.Contains(line, ">") {
		return line
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(line))
	if err != nil {
		return line
	}
	doc.Find("script, style").Remove()
	text := strings.TrimSpace(doc.Text())
	if text == "" {
		return line
	}
	return text
}
