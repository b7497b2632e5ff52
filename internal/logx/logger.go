// Package logx implementa el Logger del orquestador (§4.2): un sink de
// eventos con timestamp y fase, con reglas de filtrado aplicadas antes
// de publicarse, y un sink de consola que recibe siempre la entrada.
package logx

import (
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/BetterCallFirewall/Hackerecon/internal/model"
)

var (
	toolPromptPattern  = regexp.MustCompile(`(?i)\[y/n/q\]|\[y/n\]|\(y/n\)`)
	bannerPattern      = regexp.MustCompile(`(?i)^\s*(sqlmap|xsstool)\s+[\d.]+`)
	gateEchoPattern    = regexp.MustCompile(`(?i)respuesta (correcta|incorrecta).*continuando escaneo`)
)

// Sink recibe cada entrada de log no filtrada, típicamente el event bus
// publicando log:added. La dependencia está invertida respecto al
// event bus: el logger mantiene el sink, no al revés (como WsHub en el
// analizador del profesor).
type Sink interface {
	Publish(entry model.LogEntry)
}

// SinkFunc adapta una función a Sink.
type SinkFunc func(model.LogEntry)

func (f SinkFunc) Publish(entry model.LogEntry) { f(entry) }

// Logger es el sink de logs de un scan: append-only, acotado sólo por
// el ciclo de vida del scan, con snapshot de las últimas N entradas.
type Logger struct {
	mu          sync.Mutex
	entries     []model.LogEntry
	currentPhase string
	sinks       []Sink
	console     bool
}

// New crea un Logger. Si console es true (el caso normal), cada entrada
// no filtrada también se escribe por log.Printf, igual que el sink de
// consola del profesor en analyzer.go.
func New(console bool) *Logger {
	return &Logger{console: console}
}

// SetPhase fija la fase usada para entradas que no especifican una.
func (l *Logger) SetPhase(phase string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.currentPhase = phase
}

// Subscribe registra un sink adicional (normalmente el event bus).
func (l *Logger) Subscribe(s Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, s)
}

// shouldSuppress aplica las reglas de filtrado de §4.2. El sink de
// consola siempre recibe la entrada; sólo se filtra lo que se anexa al
// buffer y se publica en el bus.
func shouldSuppress(level model.LogLevel, message string) bool {
	if bannerPattern.MatchString(message) {
		return true
	}
	if toolPromptPattern.MatchString(message) {
		return true
	}
	if level == model.LogDebug && (strings.HasPrefix(message, "spawn:") || strings.HasPrefix(message, "sqlmap:")) {
		return true
	}
	if gateEchoPattern.MatchString(message) {
		return true
	}
	return false
}

// Log registra un mensaje. phase, si vacío, usa la fase actual.
// consoleOnly fuerza que la entrada sólo vaya a consola, nunca al
// buffer ni a los sinks (usado por las líneas de progreso ruidosas).
func (l *Logger) Log(message string, level model.LogLevel, phase string, consoleOnly bool) {
	l.mu.Lock()
	if phase == "" {
		phase = l.currentPhase
	}
	entry := model.LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
		Phase:     phase,
	}
	sinks := append([]Sink(nil), l.sinks...)
	console := l.console
	l.mu.Unlock()

	if console {
		log.Printf("[%s][%s] %s", phase, level, message)
	}

	if consoleOnly || shouldSuppress(level, message) {
		return
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()

	for _, s := range sinks {
		s.Publish(entry)
	}
}

// Debugf, Infof, Successf, Warnf, Errorf son atajos con formato sobre
// la fase actual, al estilo de los mensajes con emoji del profesor
// pero sin el emoji ("🔍 Анализ..." -> Infof("analyzing %s", url)).
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.Log(fmt.Sprintf(format, args...), model.LogDebug, "", false)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.Log(fmt.Sprintf(format, args...), model.LogInfo, "", false)
}

func (l *Logger) Successf(format string, args ...interface{}) {
	l.Log(fmt.Sprintf(format, args...), model.LogSuccess, "", false)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.Log(fmt.Sprintf(format, args...), model.LogWarning, "", false)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Log(fmt.Sprintf(format, args...), model.LogError, "", false)
}

// Recent devuelve las últimas n entradas no filtradas.
func (l *Logger) Recent(n int) []model.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n >= len(l.entries) {
		out := make([]model.LogEntry, len(l.entries))
		copy(out, l.entries)
		return out
	}
	out := make([]model.LogEntry, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

// All devuelve todas las entradas no filtradas acumuladas.
func (l *Logger) All() []model.LogEntry {
	return l.Recent(0)
}
