// Package procreg define la interfaz mínima que los ejecutores de
// herramientas usan para registrar procesos hijo en vivo, de modo que
// el Orchestrator pueda matarlos todos en un stop() (§4.8, §5). Vive en
// su propio paquete para evitar que sqlitool/xsstool dependan de
// orchestrator.
package procreg

import "os"

// Registry rastrea procesos hijo activos por nombre.
type Registry interface {
	Track(name string, proc *os.Process)
	Untrack(name string)
}

// Noop satisface Registry sin rastrear nada; útil para ejecutores
// usados fuera de un Orchestrator (tests, uso standalone).
type Noop struct{}

func (Noop) Track(string, *os.Process) {}
func (Noop) Untrack(string)            {}
