package ai

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/assessment-engine/internal/report"
	"github.com/sells-group/assessment-engine/internal/resilience"
	"github.com/sells-group/assessment-engine/internal/scoring"
	"github.com/sells-group/assessment-engine/pkg/anthropic"
)

// scriptedClient replays replies in order; an error entry is returned as-is.
type scriptedClient struct {
	mu       sync.Mutex
	replies  []any
	requests []anthropic.MessageRequest
}

func (c *scriptedClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if len(c.replies) == 0 {
		return nil, errors.New("no scripted reply")
	}
	next := c.replies[0]
	if len(c.replies) > 1 {
		c.replies = c.replies[1:]
	}
	if err, ok := next.(error); ok {
		return nil, err
	}
	return &anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: next.(string)}}}, nil
}

type memCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemCache() *memCache { return &memCache{data: make(map[string]string)} }

func (m *memCache) GetCachedResponse(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) SetCachedResponse(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// statusError mimics an API error carrying an HTTP status.
type statusError struct{ code int }

func (e statusError) Error() string { return http.StatusText(e.code) }

func testOptions() Options {
	return Options{
		Model:            "claude-sonnet-4-5-20250929",
		CacheTTL:         time.Hour,
		Retry:            resilience.Policy{Attempts: 2, Backoff: time.Millisecond, MaxBackoff: time.Millisecond},
		BreakerThreshold: 2,
		BreakerCooldown:  time.Minute,
	}
}

const gradeReply = "```json\n{\"relevance\":20,\"specificity\":18,\"evidence\":10,\"comprehensiveness\":12,\"total_score\":60,\"strengths\":[\"clear\"],\"weaknesses\":[],\"feedback\":\"Add data.\"}\n```"

func TestGrader_GradeText(t *testing.T) {
	client := &scriptedClient{replies: []any{gradeReply}}
	g := NewGrader(NewCaller(client, nil, testOptions()))

	grade, err := g.GradeText(context.Background(), scoring.TextRequest{
		ItemCode: "TL05", ItemLabel: "Programme review mechanisms", ThemeName: "Teaching & Learning",
		Text: "We run an annual review.", Criteria: []string{"annual cycle"},
	})
	require.NoError(t, err)
	assert.Equal(t, 60.0, grade.Total())
	assert.Equal(t, []string{"clear"}, grade.Strengths)

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	require.NotNil(t, req.Temperature)
	assert.Zero(t, *req.Temperature)
	assert.Equal(t, int64(gradeMaxTokens), req.MaxTokens)
	assert.Contains(t, req.Messages[0].Content, "**Item Code**: TL05")
	assert.Contains(t, req.Messages[0].Content, "**Look for**: annual cycle")
	assert.Contains(t, req.Messages[0].Content, "We run an annual review.")
	require.Len(t, req.System, 1)
	assert.NotNil(t, req.System[0].CacheControl)
}

func TestGrader_UnparseableReply(t *testing.T) {
	client := &scriptedClient{replies: []any{"I cannot score this."}}
	_, err := NewGrader(NewCaller(client, nil, testOptions())).GradeText(context.Background(), scoring.TextRequest{ItemCode: "TL05", Text: "x"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, scoring.ErrUnavailable)
	assert.Contains(t, err.Error(), "ai: grade TL05")
}

func TestCaller_CacheHit(t *testing.T) {
	client := &scriptedClient{replies: []any{"first"}}
	cache := newMemCache()
	c := NewCaller(client, cache, testOptions())
	p := prompt{capability: "test", system: "sys", user: "hello", maxTokens: 10}

	got, err := c.complete(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "first", got)

	got, err = c.complete(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "first", got)
	assert.Len(t, client.requests, 1)

	p.user = "different"
	_, err = c.complete(context.Background(), p)
	require.NoError(t, err)
	assert.Len(t, client.requests, 2)
}

func TestCaller_TransientExhaustedIsUnavailable(t *testing.T) {
	client := &scriptedClient{replies: []any{resilience.Transient(errors.New("overloaded"), 529)}}
	c := NewCaller(client, nil, testOptions())

	_, err := c.complete(context.Background(), prompt{capability: "test", user: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, scoring.ErrUnavailable)
	assert.Len(t, client.requests, 2, "retried once")
}

func TestCaller_PermanentErrorNotRetried(t *testing.T) {
	client := &scriptedClient{replies: []any{statusError{code: http.StatusBadRequest}}}
	c := NewCaller(client, nil, testOptions())

	_, err := c.complete(context.Background(), prompt{capability: "test", user: "hi"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, scoring.ErrUnavailable)
	assert.Len(t, client.requests, 1)
	assert.Equal(t, resilience.Closed, c.breaker.State())
}

func TestCaller_BreakerOpens(t *testing.T) {
	client := &scriptedClient{replies: []any{resilience.Transient(errors.New("busy"), 503)}}
	c := NewCaller(client, nil, testOptions())

	for range 2 {
		_, err := c.complete(context.Background(), prompt{capability: "test", user: "hi"})
		require.Error(t, err)
	}
	assert.Equal(t, resilience.Open, c.breaker.State())

	calls := len(client.requests)
	_, err := c.complete(context.Background(), prompt{capability: "test", user: "hi"})
	assert.ErrorIs(t, err, scoring.ErrUnavailable)
	assert.Len(t, client.requests, calls, "open breaker short-circuits")
}

func TestNarrator(t *testing.T) {
	client := &scriptedClient{replies: []any{"Summary text"}}
	n := NewNarrator(NewCaller(client, nil, testOptions()))
	overall := 71.3
	b := report.Brief{
		InstitutionName: "Northbridge University",
		AcademicYear:    "2025-26",
		OverallScore:    &overall,
		Themes:          []report.ThemeBrief{{Name: "Governance", Percentage: 64, WeightPct: 20}},
		KeyMetrics:      []report.Metric{{Name: "Retention rate", Value: "88%"}},
	}

	got, err := n.ExecutiveSummary(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, "Summary text", got)
	content := client.requests[0].Messages[0].Content
	assert.Contains(t, content, "**Institution**: Northbridge University")
	assert.Contains(t, content, "**Overall Score**: 71.3/100")
	assert.Contains(t, content, "- Governance: 64.0/100 (weight: 20%)")
	assert.Contains(t, content, "- Retention rate: 88%")
	assert.InDelta(t, narrativeTemperature, *client.requests[0].Temperature, 1e-9)

	_, err = n.ThemeAnalysis(context.Background(), b.Themes[0])
	require.NoError(t, err)
	assert.Contains(t, client.requests[1].Messages[0].Content, "**Weight**: 20%")

	_, err = n.Recommendations(context.Background(), b)
	require.NoError(t, err)
	assert.Contains(t, client.requests[2].Messages[0].Content, "**Consistency Issues**:\nNone identified")
	assert.Equal(t, int64(recsMaxTokens), client.requests[2].MaxTokens)
}
