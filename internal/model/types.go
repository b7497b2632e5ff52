// Package model содержит доменные типы сканирования: конфигурацию,
// эндпоинты, параметры, уязвимости, вопросы викторины и снимок статуса
// скана. Типы — простые записи с явными инвариантами в конструкторах,
// без get/set валидаторов.
package model

import (
	"fmt"
	"sort"
	"time"
)

// Method — HTTP метод эндпоинта.
type Method string

const (
	MethodGET  Method = "GET"
	MethodPOST Method = "POST"
)

// ParamLocation — откуда взят параметр.
type ParamLocation string

const (
	LocationQuery ParamLocation = "query"
	LocationBody  ParamLocation = "body"
)

// VulnType — тип найденной уязвимости.
type VulnType string

const (
	VulnSQLi VulnType = "SQLi"
	VulnXSS  VulnType = "XSS"
)

// Severity — уровень критичности уязвимости.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// LogLevel — уровень записи лога.
type LogLevel string

const (
	LogDebug   LogLevel = "debug"
	LogInfo    LogLevel = "info"
	LogSuccess LogLevel = "success"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// PhaseStatus — статус фазы/под-фазы скана.
type PhaseStatus string

const (
	PhasePending   PhaseStatus = "pending"
	PhaseRunning   PhaseStatus = "running"
	PhaseCompleted PhaseStatus = "completed"
	PhaseError     PhaseStatus = "error"
)

// ScanState — состояние скана, хранимое внешним HTTP-коллаборатором
// (estado в персистентной схеме, §6 spec.md).
type ScanState string

const (
	ScanPending    ScanState = "pendiente"
	ScanInProgress ScanState = "en_progreso"
	ScanFinished   ScanState = "finalizado"
	ScanErrored    ScanState = "error"
	ScanStopped    ScanState = "detenido"
)

// Grade — буквенная оценка финального балла (§4.9).
type Grade string

const (
	GradeExcelente  Grade = "Excelente"
	GradeBueno      Grade = "Bueno"
	GradeRegular    Grade = "Regular"
	GradeDeficiente Grade = "Deficiente"
	GradeCritico    Grade = "Crítico"
)

// Endpoint — идентифицируется парой (Method, URL); Parameters
// объединяются при повторном обнаружении того же эндпоинта.
type Endpoint struct {
	URL        string
	Method     Method
	Parameters map[string]struct{}
	PostData   string
}

// Key возвращает ключ идентичности эндпоинта.
func (e Endpoint) Key() string {
	return string(e.Method) + " " + e.URL
}

// NewEndpoint создаёт эндпоинт с пустым набором параметров.
func NewEndpoint(method Method, url string, postData string) *Endpoint {
	return &Endpoint{
		URL:        url,
		Method:     method,
		Parameters: make(map[string]struct{}),
		PostData:   postData,
	}
}

// MergeParams объединяет имена параметров в существующий набор.
func (e *Endpoint) MergeParams(names ...string) {
	for _, n := range names {
		if n == "" {
			continue
		}
		e.Parameters[n] = struct{}{}
	}
}

// SortedParams возвращает имена параметров в стабильном порядке, для
// детерминированного вывода и тестов.
func (e *Endpoint) SortedParams() []string {
	out := make([]string, 0, len(e.Parameters))
	for n := range e.Parameters {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Parameter — идентифицируется парой (Endpoint, Name).
type Parameter struct {
	Endpoint Endpoint
	Name     string
	Location ParamLocation
	Testable bool
}

// Key возвращает ключ идентичности параметра.
func (p Parameter) Key() string {
	return p.Endpoint.Key() + "#" + p.Name
}

// Vulnerability — находка в памяти. Key — ключ подавления дублей.
type Vulnerability struct {
	ID          string
	Type        VulnType
	Severity    Severity
	Endpoint    Endpoint
	Parameter   string
	Description string
	FoundAt     time.Time
}

// Key возвращает ключ подавления дублей (type, endpoint, parameter).
func (v Vulnerability) Key() string {
	return fmt.Sprintf("%s|%s|%s", v.Type, v.Endpoint.Key(), v.Parameter)
}

// QuestionPrompt — один вопрос викторины, привязанный к фазе/под-фазе.
type QuestionPrompt struct {
	QuestionID   string
	PhaseTag     string
	Text         string
	Options      []string
	CorrectIndex int
	Points       int
	AnswerIDs    []string
}

// QuestionResult — результат ответа пользователя на QuestionPrompt.
type QuestionResult struct {
	QuestionPrompt
	UserAnswer   int
	Correct      bool
	PointsEarned int
}

// LogEntry — одна запись лога.
type LogEntry struct {
	Timestamp time.Time
	Level     LogLevel
	Message   string
	Phase     string
}

// SubPhase — статус одной под-фазы (например "detection" внутри SQLi).
type SubPhase struct {
	Name   string
	Status PhaseStatus
}

// PhaseInfo — статус одной top-level фазы скана.
type PhaseInfo struct {
	Name      string
	Status    PhaseStatus
	SubPhases []SubPhase
}

// ScanStats — агрегированные счётчики для ScanStatus.
type ScanStats struct {
	TotalRequests        int
	VulnerabilitiesFound int
	EndpointsDiscovered  int
	ParametersFound      int
}

// ScanStatus — неизменяемый снимок состояния одного скана (§3).
type ScanStatus struct {
	ScanID               string
	CurrentPhase         string
	IsPaused             bool
	IsStopped            bool
	Phases               []PhaseInfo
	DiscoveredEndpoints  []Endpoint
	Vulnerabilities      []Vulnerability
	QuestionResults      []QuestionResult
	Stats                ScanStats
	Logs                 []LogEntry
}
