// Package procspawn encapsula la política de invocación de un binario
// externo detrás de una interfaz (§9: "Encapsulate the spawn helper
// behind an interface; platform detection and .py-vs-binary selection
// belong in one place and are unit-testable against fixtures"). El
// detalle de runtime.GOOS está aislado aquí, como en
// bae7f965_cyber0s-wepoc's buildNucleiCommand (ocultar la ventana en
// Windows es la única rama específica de plataforma de ese archivo).
package procspawn

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
)

// Spawner construye un *exec.Cmd listo para Start() a partir de una
// ruta de herramienta y sus argumentos, aplicando la política de §4.5:
//   - ruta sin separador de directorio en Windows -> invocar vía shell
//   - ruta apuntando a un .py -> anteponer el intérprete de la plataforma
//   - en cualquier otro caso -> invocar directamente
type Spawner interface {
	Command(ctx context.Context, toolPath string, args ...string) *exec.Cmd
}

// Default es la implementación real de Spawner usada en producción.
type Default struct {
	GOOS string // inyectable para tests; vacío usa runtime.GOOS
}

// NewDefault crea un Spawner para la plataforma actual.
func NewDefault() *Default {
	return &Default{}
}

func (d *Default) goos() string {
	if d.GOOS != "" {
		return d.GOOS
	}
	return runtime.GOOS
}

func hasDirSeparator(path string) bool {
	return strings.ContainsAny(path, `/\`)
}

// Command implementa la política de spawn descrita en §4.5.
func (d *Default) Command(ctx context.Context, toolPath string, args ...string) *exec.Cmd {
	goos := d.goos()

	if strings.HasSuffix(toolPath, ".py") {
		interpreter := "python3"
		if goos == "windows" {
			interpreter = "python"
		}
		full := append([]string{toolPath}, args...)
		return exec.CommandContext(ctx, interpreter, full...)
	}

	if goos == "windows" && !hasDirSeparator(toolPath) {
		shellArgs := append([]string{"/C", toolPath}, args...)
		return exec.CommandContext(ctx, "cmd", shellArgs...)
	}

	return exec.CommandContext(ctx, toolPath, args...)
}

// ShellFallback construye el comando de respaldo con quoting de shell
// (`sh -c "<línea>"`). Sólo construye el comando: ni sqlitool ni
// xsstool lo invocan, de modo que una invocación que termina con
// código distinto de cero no se reintenta por esta vía.
func ShellFallback(ctx context.Context, toolPath string, args ...string) *exec.Cmd {
	quoted := make([]string, 0, len(args)+1)
	quoted = append(quoted, quoteArg(toolPath))
	for _, a := range args {
		quoted = append(quoted, quoteArg(a))
	}
	line := strings.Join(quoted, " ")
	return exec.CommandContext(ctx, "sh", "-c", line)
}

func quoteArg(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"$`\\") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
