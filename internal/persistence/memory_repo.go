package persistence

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/BetterCallFirewall/Hackerecon/internal/model"
)

// MemoryRepo es una implementación de referencia de todas las
// interfaces de Repos sobre mapas protegidos por mutex, en el idioma
// de `internal/storage.MemoryStorage` del profesor (mapa + RWMutex +
// accessors Store/Get/GetAll), generalizado a las ocho interfaces de
// repositorio que el adaptador de persistencia necesita. Pensado para
// pruebas y para el demo de `cmd`, no para producción.
type MemoryRepo struct {
	mu sync.RWMutex

	typesByName     map[string]string
	severitiesByName map[string]string
	questionsByID   map[string]string
	answerOptions   map[string]string // "questionID|optionIndex" -> answerID

	vulnerabilities map[string]VulnerabilityRecord
	answers         map[string]AnswerRecord
	scans           map[string]ScanRecord
	notifications   []Notification
	activities      []Activity
}

// NewMemoryRepo crea un MemoryRepo vacío.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		typesByName:      make(map[string]string),
		severitiesByName: make(map[string]string),
		questionsByID:    make(map[string]string),
		answerOptions:    make(map[string]string),
		vulnerabilities:  make(map[string]VulnerabilityRecord),
		answers:          make(map[string]AnswerRecord),
		scans:            make(map[string]ScanRecord),
	}
}

func (r *MemoryRepo) ResolveOrCreateType(ctx context.Context, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.typesByName[name]; ok {
		return id, nil
	}
	id := uuid.NewString()
	r.typesByName[name] = id
	return id, nil
}

func (r *MemoryRepo) ResolveOrCreateSeverity(ctx context.Context, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.severitiesByName[name]; ok {
		return id, nil
	}
	id := uuid.NewString()
	r.severitiesByName[name] = id
	return id, nil
}

func (r *MemoryRepo) ResolveOrCreateQuestion(ctx context.Context, prompt model.QuestionPrompt) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := prompt.QuestionID
	if key == "" {
		key = prompt.Text
	}
	if id, ok := r.questionsByID[key]; ok {
		return id, nil
	}
	id := uuid.NewString()
	r.questionsByID[key] = id
	return id, nil
}

func (r *MemoryRepo) ResolveOrCreateAnswerOption(ctx context.Context, questionID string, optionIndex int, text string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := optionKey(questionID, optionIndex)
	if id, ok := r.answerOptions[key]; ok {
		return id, nil
	}
	id := uuid.NewString()
	r.answerOptions[key] = id
	return id, nil
}

func optionKey(questionID string, optionIndex int) string {
	return fmt.Sprintf("%s|%d", questionID, optionIndex)
}

func (r *MemoryRepo) SaveVulnerability(ctx context.Context, rec VulnerabilityRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vulnerabilities[rec.ID] = rec
	return nil
}

func (r *MemoryRepo) SaveAnswer(ctx context.Context, rec AnswerRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers[rec.ID] = rec
	return nil
}

func (r *MemoryRepo) UpdateScan(ctx context.Context, rec ScanRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scans[rec.ScanID] = rec
	return nil
}

func (r *MemoryRepo) SaveNotification(ctx context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
	return nil
}

func (r *MemoryRepo) SaveActivity(ctx context.Context, a Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activities = append(r.activities, a)
	return nil
}

// Repos adapta este MemoryRepo a la estructura Repos que Persist espera.
func (r *MemoryRepo) Repos() Repos {
	return Repos{
		VulnTypes:     r,
		Severities:    r,
		Questions:     r,
		Vulns:         r,
		Answers:       r,
		Scans:         r,
		Notifications: r,
		Activities:    r,
	}
}

// Scan devuelve el ScanRecord persistido para scanID, si existe.
func (r *MemoryRepo) Scan(scanID string) (ScanRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.scans[scanID]
	return rec, ok
}

// Vulnerabilities devuelve todos los VulnerabilityRecord persistidos.
func (r *MemoryRepo) Vulnerabilities() []VulnerabilityRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]VulnerabilityRecord, 0, len(r.vulnerabilities))
	for _, v := range r.vulnerabilities {
		out = append(out, v)
	}
	return out
}

// Notifications devuelve todas las notificaciones persistidas.
func (r *MemoryRepo) Notifications() []Notification {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Notification, len(r.notifications))
	copy(out, r.notifications)
	return out
}
