// Package quizbank provee el colaborador de solo lectura del banco de
// preguntas de la Question Gate (§4.4, §1: "treated as a read-only
// collaborator returning questions by phase tag"). El paquete define
// la interfaz y un almacén en memoria por defecto para que el
// orquestador funcione de forma autónoma sin un servicio externo de
// contenidos.
package quizbank

import (
	"sync"

	"github.com/BetterCallFirewall/Hackerecon/internal/model"
)

// Store resuelve prompts por etiqueta de fase.
type Store interface {
	PromptsForPhase(phaseTag string) []model.QuestionPrompt
}

// MemoryStore es un Store en memoria indexado por phaseTag, siguiendo
// el mismo idioma mutex+map de internal/driven.SiteContextManager del
// profesor (GetOrCreate por clave), aquí de solo lectura.
type MemoryStore struct {
	mu      sync.RWMutex
	byPhase map[string][]model.QuestionPrompt
}

// NewMemoryStore crea un store a partir de una lista plana de prompts,
// indexándolos por su PhaseTag.
func NewMemoryStore(prompts []model.QuestionPrompt) *MemoryStore {
	s := &MemoryStore{byPhase: make(map[string][]model.QuestionPrompt)}
	for _, p := range prompts {
		s.byPhase[p.PhaseTag] = append(s.byPhase[p.PhaseTag], p)
	}
	return s
}

// PromptsForPhase devuelve una copia del conjunto de prompts para tag.
func (s *MemoryStore) PromptsForPhase(phaseTag string) []model.QuestionPrompt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.byPhase[phaseTag]
	out := make([]model.QuestionPrompt, len(src))
	copy(out, src)
	return out
}

// Add inserta un prompt adicional, útil para tests y para seed data.
func (s *MemoryStore) Add(p model.QuestionPrompt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byPhase[p.PhaseTag] = append(s.byPhase[p.PhaseTag], p)
}

// DefaultPrompts es un conjunto mínimo de preguntas de ejemplo que
// cubre las fases/sub-fases nombradas en spec.md §4.7, para que el
// orquestador sea ejecutable sin contenido externo.
func DefaultPrompts() []model.QuestionPrompt {
	return []model.QuestionPrompt{
		{
			QuestionID:   "discovery-1",
			PhaseTag:     "discovery",
			Text:         "¿Qué técnica usa un crawler para descubrir endpoints?",
			Options:      []string{"Fuerza bruta de contraseñas", "Seguir enlaces y formularios", "Escaneo de puertos"},
			CorrectIndex: 1,
			Points:       10,
			AnswerIDs:    []string{"d1a", "d1b", "d1c"},
		},
		{
			QuestionID:   "sqli-1",
			PhaseTag:     "sqli",
			Text:         "¿Qué indica una inyección SQL basada en errores?",
			Options:      []string{"Un mensaje de error de la base de datos en la respuesta", "Un timeout del servidor", "Un redireccionamiento 302"},
			CorrectIndex: 0,
			Points:       10,
			AnswerIDs:    []string{"s1a", "s1b", "s1c"},
		},
		{
			QuestionID:   "sqli-detection-1",
			PhaseTag:     "sqli-detection",
			Text:         "¿Qué parámetro es más probable que sea vulnerable a SQLi?",
			Options:      []string{"Un parámetro numérico usado en un WHERE", "Un parámetro de sólo lectura de CSS", "Un parámetro de idioma de UI"},
			CorrectIndex: 0,
			Points:       10,
			AnswerIDs:    []string{"sd1a", "sd1b", "sd1c"},
		},
		{
			QuestionID:   "xss-1",
			PhaseTag:     "xss",
			Text:         "¿Qué caracteriza a un XSS reflejado?",
			Options:      []string{"El payload persiste en la base de datos", "El payload se refleja inmediatamente en la respuesta", "Requiere acceso físico al servidor"},
			CorrectIndex: 1,
			Points:       10,
			AnswerIDs:    []string{"x1a", "x1b", "x1c"},
		},
		{
			QuestionID:   "xss-context-1",
			PhaseTag:     "xss-context",
			Text:         "¿Por qué importa el contexto HTML de un parámetro reflejado?",
			Options:      []string{"Determina qué payload puede escapar el contexto", "No afecta al resultado", "Sólo afecta al rendimiento"},
			CorrectIndex: 0,
			Points:       10,
			AnswerIDs:    []string{"xc1a", "xc1b", "xc1c"},
		},
	}
}
