package logx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BetterCallFirewall/Hackerecon/internal/model"
)

func TestLogger_RecentBounded(t *testing.T) {
	l := New(false)
	for i := 0; i < 5; i++ {
		l.Infof("message %d", i)
	}
	recent := l.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "message 3", recent[0].Message)
	assert.Equal(t, "message 4", recent[1].Message)
}

func TestLogger_SuppressesBanner(t *testing.T) {
	l := New(false)
	l.Log("sqlmap 1.7.2 - automatic SQL injection tool", model.LogInfo, "", false)
	assert.Empty(t, l.All())
}

func TestLogger_SuppressesToolPrompt(t *testing.T) {
	l := New(false)
	l.Log("continue with tested parameter? [y/N]", model.LogInfo, "", false)
	l.Log("proceed? [y/n/q]", model.LogInfo, "", false)
	assert.Empty(t, l.All())
}

func TestLogger_SuppressesSpawnDebug(t *testing.T) {
	l := New(false)
	l.Log("spawn: launching process", model.LogDebug, "", false)
	l.Log("sqlmap: raw stdout line", model.LogDebug, "", false)
	assert.Empty(t, l.All())
}

func TestLogger_SuppressesGateEcho(t *testing.T) {
	l := New(false)
	l.Log("respuesta correcta, continuando escaneo", model.LogInfo, "", false)
	assert.Empty(t, l.All())
}

func TestLogger_TagsCurrentPhase(t *testing.T) {
	l := New(false)
	l.SetPhase("discovery")
	l.Infof("starting crawl")
	recent := l.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, "discovery", recent[0].Phase)
}

func TestLogger_PublishesToSinks(t *testing.T) {
	l := New(false)
	var received []model.LogEntry
	l.Subscribe(SinkFunc(func(e model.LogEntry) {
		received = append(received, e)
	}))
	l.Infof("hello")
	require.Len(t, received, 1)
	assert.Equal(t, "hello", received[0].Message)
}

func TestLogger_ConsoleOnlyNeverBuffered(t *testing.T) {
	l := New(false)
	l.Log("progress tick", model.LogDebug, "", true)
	assert.Empty(t, l.All())
}
