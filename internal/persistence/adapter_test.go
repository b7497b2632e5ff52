package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BetterCallFirewall/Hackerecon/internal/model"
)

func TestPersist_WritesVulnerabilitiesScanAndNotification(t *testing.T) {
	repo := NewMemoryRepo()
	ep := *model.NewEndpoint(model.MethodGET, "http://x.test/search?q=1", "")

	status := model.ScanStatus{
		ScanID: "scan-1",
		Vulnerabilities: []model.Vulnerability{
			{Type: model.VulnSQLi, Severity: model.SeverityCritical, Endpoint: ep, Parameter: "q", Description: "union based"},
		},
		QuestionResults: []model.QuestionResult{
			{
				QuestionPrompt: model.QuestionPrompt{QuestionID: "q1", Options: []string{"a", "b"}, Points: 10},
				UserAnswer:     1,
				Correct:        true,
				PointsEarned:   10,
			},
		},
	}

	err := Persist(context.Background(), repo.Repos(), "scan-1", status)
	require.NoError(t, err)

	scanRecord, ok := repo.Scan("scan-1")
	require.True(t, ok)
	assert.Equal(t, model.ScanFinished, scanRecord.Estado)
	assert.Equal(t, 95, scanRecord.PuntuacionFinal) // quizPart=60, vulnPart=40-5*1=35
	assert.Equal(t, 10, scanRecord.FlatQuizScore)
	assert.Len(t, scanRecord.VulnerabilityIDs, 1)
	assert.Len(t, scanRecord.AnswerIDs, 1)

	vulns := repo.Vulnerabilities()
	require.Len(t, vulns, 1)
	assert.Equal(t, "q", vulns[0].Parameter)
	assert.Contains(t, vulns[0].Remediation, "parametrizadas")

	notifications := repo.Notifications()
	require.Len(t, notifications, 1)
	assert.Equal(t, "scan_completed", notifications[0].Type)
	assert.Equal(t, "scan-1", notifications[0].RelatedID)
	assert.Contains(t, notifications[0].Message, "95/100")
}

func TestPersist_MapsSeverityNamesToSpanish(t *testing.T) {
	assert.Equal(t, "Crítica", severityNameEs(model.SeverityCritical))
	assert.Equal(t, "Alta", severityNameEs(model.SeverityHigh))
	assert.Equal(t, "Media", severityNameEs(model.SeverityMedium))
	assert.Equal(t, "Baja", severityNameEs(model.SeverityLow))
}

func TestPersist_EmptyScanStillUpdatesScanRecord(t *testing.T) {
	repo := NewMemoryRepo()
	status := model.ScanStatus{ScanID: "scan-2"}

	err := Persist(context.Background(), repo.Repos(), "scan-2", status)
	require.NoError(t, err)

	scanRecord, ok := repo.Scan("scan-2")
	require.True(t, ok)
	assert.Equal(t, model.GradeDeficiente, scanRecord.Grade)
	assert.Empty(t, scanRecord.VulnerabilityIDs)
}

func TestMemoryRepo_ResolveOrCreateTypeIsIdempotent(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	id1, err := repo.ResolveOrCreateType(ctx, "SQLi")
	require.NoError(t, err)
	id2, err := repo.ResolveOrCreateType(ctx, "SQLi")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}
