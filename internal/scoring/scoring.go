// Package scoring implementa el cálculo de puntaje final de un scan
// (§4.9): una mezcla 60/40 entre el resultado de la trivia y la
// cantidad de hallazgos, con bucketing a una calificación textual.
// Son funciones puras, sin estado ni receptor — no hay colaborador en
// el corpus que modele "bucketing de un puntaje", así que esto se
// mantiene en stdlib por diseño (ver DESIGN.md).
package scoring

import (
	"math"

	"github.com/BetterCallFirewall/Hackerecon/internal/model"
)

const (
	quizWeight = 60.0
	vulnWeight = 40.0
	vulnPerFinding = 5.0

	defaultTotalQuiz = 100.0
)

// Result es el desglose completo de un cálculo de puntaje.
type Result struct {
	QuizPoints int
	TotalQuiz  int
	QuizPart   float64
	VulnPart   float64
	Final      int
	Grade      model.Grade
}

// Score calcula el puntaje final a partir de los resultados de trivia
// y la lista de vulnerabilidades de un scan (§4.9).
func Score(results []model.QuestionResult, vulnerabilities []model.Vulnerability) Result {
	quizPoints := 0
	totalQuiz := 0
	for _, r := range results {
		quizPoints += r.PointsEarned
		totalQuiz += r.Points
	}
	if totalQuiz == 0 && len(results) > 0 {
		totalQuiz = int(defaultTotalQuiz)
	}

	quizPart := 0.0
	if totalQuiz > 0 {
		quizPart = (float64(quizPoints) / float64(totalQuiz)) * quizWeight
	}

	vulnPart := vulnWeight - vulnPerFinding*float64(len(vulnerabilities))
	if vulnPart < 0 {
		vulnPart = 0
	}

	final := int(math.Round(quizPart + vulnPart))
	final = clampScore(final)

	return Result{
		QuizPoints: quizPoints,
		TotalQuiz:  totalQuiz,
		QuizPart:   quizPart,
		VulnPart:   vulnPart,
		Final:      final,
		Grade:      gradeFor(final),
	}
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// gradeFor bucketiza el puntaje final (§4.9).
func gradeFor(final int) model.Grade {
	switch {
	case final >= 90:
		return model.GradeExcelente
	case final >= 75:
		return model.GradeBueno
	case final >= 60:
		return model.GradeRegular
	case final >= 40:
		return model.GradeDeficiente
	default:
		return model.GradeCritico
	}
}

// FlatQuizScore implementa la regla alternativa del cliente: +10 por
// cada respuesta correcta, independientemente de prompt.points. Usada
// sólo por el adaptador de persistencia como un campo adicional, nunca
// como el puntaje canónico (DESIGN.md, Open Question #1).
func FlatQuizScore(results []model.QuestionResult) int {
	total := 0
	for _, r := range results {
		if r.Correct {
			total += 10
		}
	}
	return total
}
