package xsstool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BetterCallFirewall/Hackerecon/internal/model"
)

const sampleStream = `{"type":"INFO","msg":"starting scan"}{"type":"V","param":"q","payload":"<script>alert(1)</script>","method":"GET","inject_type":"reflected","severity":"high","url":"http://x.test/search?q=1"}`

func TestStreamParser_ParsesConcatenatedObjectsInOneChunk(t *testing.T) {
	p := newStreamParser()
	objects := p.Feed([]byte(sampleStream))
	require.Len(t, objects, 2)
}

func TestStreamParser_ChunkingInvariant(t *testing.T) {
	// spec §8: splitting the same byte stream at arbitrary chunk
	// boundaries must yield the same multiset of parsed objects.
	splits := [][]int{
		{len(sampleStream)},
		{10, len(sampleStream) - 10},
		{1, 1, 1, len(sampleStream) - 3},
		{30, 5, 5, 5, 1000},
	}

	var reference [][]byte
	for i, points := range splits {
		p := newStreamParser()
		var got [][]byte
		offset := 0
		data := []byte(sampleStream)
		for _, n := range points {
			end := offset + n
			if end > len(data) {
				end = len(data)
			}
			if offset >= len(data) {
				break
			}
			got = append(got, p.Feed(data[offset:end])...)
			offset = end
		}
		if offset < len(data) {
			got = append(got, p.Feed(data[offset:])...)
		}

		if i == 0 {
			reference = got
			continue
		}
		require.Equal(t, reference, got, "split %v produced different objects", points)
	}
}

func TestParseFinding_OnlyOneVulnFindingFromSampleStream(t *testing.T) {
	p := newStreamParser()
	objects := p.Feed([]byte(sampleStream))

	endpoint := *model.NewEndpoint(model.MethodGET, "http://x.test/search?q=1", "")
	var findings []model.Vulnerability
	for _, raw := range objects {
		if v, ok := parseFinding(raw, endpoint); ok {
			findings = append(findings, v)
		}
	}

	require.Len(t, findings, 1)
	assert.Equal(t, "q", findings[0].Parameter)
	assert.Equal(t, model.VulnXSS, findings[0].Type)
	assert.Equal(t, model.SeverityHigh, findings[0].Severity)
}

func TestParseFinding_SeverityMapping(t *testing.T) {
	endpoint := *model.NewEndpoint(model.MethodGET, "http://x.test/a", "")

	critical := []byte(`{"type":"VULN","severity":"critical","param":"p"}`)
	v, ok := parseFinding(critical, endpoint)
	require.True(t, ok)
	assert.Equal(t, model.SeverityHigh, v.Severity)

	medium := []byte(`{"type":"POC","severity":"medium","param":"p"}`)
	v, ok = parseFinding(medium, endpoint)
	require.True(t, ok)
	assert.Equal(t, model.SeverityMedium, v.Severity)

	unknown := []byte(`{"type":"V","severity":"weird","param":"p"}`)
	v, ok = parseFinding(unknown, endpoint)
	require.True(t, ok)
	assert.Equal(t, model.SeverityLow, v.Severity)
}

func TestParseFinding_IgnoresNonVulnTypes(t *testing.T) {
	endpoint := *model.NewEndpoint(model.MethodGET, "http://x.test/a", "")
	_, ok := parseFinding([]byte(`{"type":"INFO","msg":"hi"}`), endpoint)
	assert.False(t, ok)
}

func TestParseFinding_DefaultsParamAndPayload(t *testing.T) {
	endpoint := *model.NewEndpoint(model.MethodGET, "http://x.test/a", "")
	v, ok := parseFinding([]byte(`{"type":"V"}`), endpoint)
	require.True(t, ok)
	assert.Equal(t, "unknown", v.Parameter)
	assert.Contains(t, v.Description, "detected")
}

func TestExtractURL_PrefersDataStringThenFallbackRegex(t *testing.T) {
	endpoint := *model.NewEndpoint(model.MethodGET, "http://x.test/a", "")

	v, ok := parseFinding([]byte(`{"type":"V","param":"q","data":"http://x.test/from-data?q=1"}`), endpoint)
	require.True(t, ok)
	assert.Equal(t, "http://x.test/from-data?q=1", v.Endpoint.URL)

	v, ok = parseFinding([]byte(`{"type":"V","param":"q","data":{"url":"http://x.test/from-data-url?q=1"}}`), endpoint)
	require.True(t, ok)
	assert.Equal(t, "http://x.test/from-data-url?q=1", v.Endpoint.URL)

	v, ok = parseFinding([]byte(`{"type":"V","param":"q","note":"see http://x.test/regex-found?q=1 for details"}`), endpoint)
	require.True(t, ok)
	assert.Equal(t, "http://x.test/regex-found?q=1", v.Endpoint.URL)
}

func TestExtractURL_FallsBackToURLLikeTopLevelKey(t *testing.T) {
	endpoint := *model.NewEndpoint(model.MethodGET, "http://x.test/a", "")

	v, ok := parseFinding([]byte(`{"type":"V","param":"q","affected_url":"http://x.test/from-key?q=1"}`), endpoint)
	require.True(t, ok)
	assert.Equal(t, "http://x.test/from-key?q=1", v.Endpoint.URL)
}

func TestStreamParser_IgnoresBracesInsideStringValues(t *testing.T) {
	stream := `{"type":"V","param":"q","payload":"{not a brace} literal"}`
	p := newStreamParser()
	objects := p.Feed([]byte(stream))
	require.Len(t, objects, 1)

	endpoint := *model.NewEndpoint(model.MethodGET, "http://x.test/a", "")
	v, ok := parseFinding(objects[0], endpoint)
	require.True(t, ok)
	assert.Contains(t, v.Description, "not a brace")
}

func TestBenignStderrPattern_MatchesKnownNoise(t *testing.T) {
	assert.True(t, benignStderrPattern.MatchString("dial tcp: Loopback address rejected"))
	assert.True(t, benignStderrPattern.MatchString("could not unmarshal event payload"))
	assert.False(t, benignStderrPattern.MatchString("ERROR: connection refused"))
}
