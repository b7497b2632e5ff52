// Package persistence implementa el Result Persistence Adapter
// (§4.10): traduce el estado en memoria de un scan terminado hacia las
// formas de registro externas descritas en spec.md §6, a través de
// interfaces de repositorio suministradas por el llamador — la
// persistencia real está fuera de alcance (§1); este paquete sólo
// define el contrato y la traducción.
package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/BetterCallFirewall/Hackerecon/internal/model"
	"github.com/BetterCallFirewall/Hackerecon/internal/scoring"
)

// VulnerabilityTypeRepo resuelve o crea el registro canónico para un
// VulnType ("SQLi", "XSS").
type VulnerabilityTypeRepo interface {
	ResolveOrCreateType(ctx context.Context, name string) (typeID string, err error)
}

// SeverityLevelRepo resuelve o crea el registro canónico para un nivel
// de severidad por su nombre en español (Crítica/Alta/Media/Baja).
type SeverityLevelRepo interface {
	ResolveOrCreateSeverity(ctx context.Context, name string) (severityID string, err error)
}

// QuestionRepo resuelve o crea los registros de pregunta y opción de
// respuesta, necesarios cuando el prompt se originó en memoria
// (§4.10: "creating records if the prompt originated in-memory").
type QuestionRepo interface {
	ResolveOrCreateQuestion(ctx context.Context, prompt model.QuestionPrompt) (questionID string, err error)
	ResolveOrCreateAnswerOption(ctx context.Context, questionID string, optionIndex int, text string) (answerID string, err error)
}

// VulnerabilityRepo persiste un hallazgo traducido.
type VulnerabilityRepo interface {
	SaveVulnerability(ctx context.Context, rec VulnerabilityRecord) error
}

// AnswerRepo persiste un registro de respuesta de trivia.
type AnswerRepo interface {
	SaveAnswer(ctx context.Context, rec AnswerRecord) error
}

// ScanRepo actualiza el registro del scan en sí.
type ScanRepo interface {
	UpdateScan(ctx context.Context, rec ScanRecord) error
}

// NotificationRepo persiste una notificación orientada al usuario.
type NotificationRepo interface {
	SaveNotification(ctx context.Context, n Notification) error
}

// ActivityRepo persiste un registro de actividad paralelo a la
// notificación.
type ActivityRepo interface {
	SaveActivity(ctx context.Context, a Activity) error
}

// VulnerabilityRecord es la forma persistida de un hallazgo (§4.10).
type VulnerabilityRecord struct {
	ID          string
	ScanID      string
	TypeID      string
	SeverityID  string
	Endpoint    string
	Parameter   string
	Description string
	Remediation string
}

// AnswerRecord es la forma persistida de una respuesta de trivia.
type AnswerRecord struct {
	ID               string
	ScanID           string
	QuestionID       string
	SelectedAnswerID string
	Correct          bool
	PointsEarned     int
}

// ScanRecord es la actualización final del registro de scan.
type ScanRecord struct {
	ScanID          string
	Estado          model.ScanState
	FechaFin        time.Time
	VulnerabilityIDs []string
	AnswerIDs       []string
	PuntuacionFinal int
	FlatQuizScore   int
	Grade           model.Grade
}

// Notification es la notificación orientada al usuario emitida al
// completar un scan (§4.10).
type Notification struct {
	ID        string
	Type      string
	Title     string
	Message   string
	RelatedID string
}

// Activity es el registro de actividad paralelo a la notificación.
type Activity struct {
	ID      string
	ScanID  string
	Type    string
	Message string
}

// Repos agrupa todos los colaboradores de repositorio que el adaptador
// necesita. Cada campo es una interfaz mínima: el llamador puede
// satisfacerlas con cualquier backend real, o con los repositorios en
// memoria de este paquete para pruebas.
type Repos struct {
	VulnTypes     VulnerabilityTypeRepo
	Severities    SeverityLevelRepo
	Questions     QuestionRepo
	Vulns         VulnerabilityRepo
	Answers       AnswerRepo
	Scans         ScanRepo
	Notifications NotificationRepo
	Activities    ActivityRepo
}

// severityNameEs traduce una model.Severity al nombre en español usado
// por el esquema persistido (§4.10).
func severityNameEs(s model.Severity) string {
	switch s {
	case model.SeverityCritical:
		return "Crítica"
	case model.SeverityHigh:
		return "Alta"
	case model.SeverityMedium:
		return "Media"
	default:
		return "Baja"
	}
}

// remediationFor devuelve una sugerencia de remediación enlatada según
// el tipo de vulnerabilidad (§4.10).
func remediationFor(t model.VulnType) string {
	switch t {
	case model.VulnSQLi:
		return "Usar consultas parametrizadas o un ORM con bind de parámetros; nunca concatenar entrada de usuario en SQL."
	case model.VulnXSS:
		return "Codificar la salida según el contexto (HTML/JS/URL) y aplicar una Content-Security-Policy restrictiva."
	default:
		return "Revisar el hallazgo manualmente y aplicar validación de entrada en el punto afectado."
	}
}

// Persist vuelca el estado final de un scan completado hacia los
// repositorios configurados, siguiendo exactamente los pasos de §4.10.
func Persist(ctx context.Context, repos Repos, scanID string, status model.ScanStatus) error {
	vulnIDs := make([]string, 0, len(status.Vulnerabilities))
	for _, v := range status.Vulnerabilities {
		typeID, err := repos.VulnTypes.ResolveOrCreateType(ctx, string(v.Type))
		if err != nil {
			return fmt.Errorf("persistence: resolve vulnerability type: %w", err)
		}
		severityID, err := repos.Severities.ResolveOrCreateSeverity(ctx, severityNameEs(v.Severity))
		if err != nil {
			return fmt.Errorf("persistence: resolve severity: %w", err)
		}

		id := v.ID
		if id == "" {
			id = uuid.NewString()
		}
		rec := VulnerabilityRecord{
			ID:          id,
			ScanID:      scanID,
			TypeID:      typeID,
			SeverityID:  severityID,
			Endpoint:    v.Endpoint.URL,
			Parameter:   v.Parameter,
			Description: v.Description,
			Remediation: remediationFor(v.Type),
		}
		if err := repos.Vulns.SaveVulnerability(ctx, rec); err != nil {
			return fmt.Errorf("persistence: save vulnerability: %w", err)
		}
		vulnIDs = append(vulnIDs, id)
	}

	answerIDs := make([]string, 0, len(status.QuestionResults))
	for _, qr := range status.QuestionResults {
		questionID, err := repos.Questions.ResolveOrCreateQuestion(ctx, qr.QuestionPrompt)
		if err != nil {
			return fmt.Errorf("persistence: resolve question: %w", err)
		}

		selectedText := ""
		if qr.UserAnswer >= 0 && qr.UserAnswer < len(qr.Options) {
			selectedText = qr.Options[qr.UserAnswer]
		}
		selectedAnswerID, err := repos.Questions.ResolveOrCreateAnswerOption(ctx, questionID, qr.UserAnswer, selectedText)
		if err != nil {
			return fmt.Errorf("persistence: resolve answer option: %w", err)
		}

		id := uuid.NewString()
		rec := AnswerRecord{
			ID:               id,
			ScanID:           scanID,
			QuestionID:       questionID,
			SelectedAnswerID: selectedAnswerID,
			Correct:          qr.Correct,
			PointsEarned:     qr.PointsEarned,
		}
		if err := repos.Answers.SaveAnswer(ctx, rec); err != nil {
			return fmt.Errorf("persistence: save answer: %w", err)
		}
		answerIDs = append(answerIDs, id)
	}

	scoreResult := scoring.Score(status.QuestionResults, status.Vulnerabilities)
	flatScore := scoring.FlatQuizScore(status.QuestionResults)

	scanRecord := ScanRecord{
		ScanID:           scanID,
		Estado:           model.ScanFinished,
		FechaFin:         time.Now(),
		VulnerabilityIDs: vulnIDs,
		AnswerIDs:        answerIDs,
		PuntuacionFinal:  scoreResult.Final,
		FlatQuizScore:    flatScore,
		Grade:            scoreResult.Grade,
	}
	if err := repos.Scans.UpdateScan(ctx, scanRecord); err != nil {
		return fmt.Errorf("persistence: update scan: %w", err)
	}

	notification := Notification{
		ID:        uuid.NewString(),
		Type:      "scan_completed",
		Title:     "Escaneo finalizado",
		Message:   fmt.Sprintf("El escaneo finalizó con un puntaje de %d/100 (%s)", scoreResult.Final, scoreResult.Grade),
		RelatedID: scanID,
	}
	if err := repos.Notifications.SaveNotification(ctx, notification); err != nil {
		return fmt.Errorf("persistence: save notification: %w", err)
	}

	activity := Activity{
		ID:      uuid.NewString(),
		ScanID:  scanID,
		Type:    "scan_completed",
		Message: notification.Message,
	}
	if err := repos.Activities.SaveActivity(ctx, activity); err != nil {
		return fmt.Errorf("persistence: save activity: %w", err)
	}

	return nil
}
