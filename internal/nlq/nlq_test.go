package nlq

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/soyeahso/voicebridge/internal/config"
	"github.com/soyeahso/voicebridge/internal/llm"
	"github.com/soyeahso/voicebridge/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

func demoExecutor(t *testing.T) *Executor {
	t.Helper()
	e, err := OpenExecutor(context.Background(), config.NLQConfig{Driver: "sqlite"}, ":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func answering(answers ...string) *llm.MockClient {
	i := 0
	return &llm.MockClient{CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		a := answers[min(i, len(answers)-1)]
		i++
		return &llm.CompletionResponse{Content: a}, nil
	}}
}

// --- plan parsing ---

func TestParsePlan(t *testing.T) {
	tests := []struct {
		name    string
		answer  string
		title   string
		queries []string
	}{
		{"object", `{"title": "Sales", "sql_queries": ["SELECT 1", "SELECT 2"]}`, "Sales", []string{"SELECT 1", "SELECT 2"}},
		{"fenced json", "Here you go:\n```json\n{\"title\": \"T\", \"sql_queries\": [\"SELECT 1\"]}\n```", "T", []string{"SELECT 1"}},
		{"query alias", `{"query": "SELECT 3"}`, "", []string{"SELECT 3"}},
		{"sql alias", `{"sql": "SELECT 4", "title": "x"}`, "x", []string{"SELECT 4"}},
		{"single element list", `[{"sql_query": "SELECT 5"}]`, "", []string{"SELECT 5"}},
		{"raw select", "select name from products", "", []string{"select name from products"}},
		{"fenced sql", "```sql\nSELECT 6\n```", "", []string{"SELECT 6"}},
		{"json string", `"SELECT 7"`, "", []string{"SELECT 7"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := ParsePlan(tt.answer)
			require.NoError(t, err)
			assert.Equal(t, tt.queries, plan.SQLQueries)
			if tt.title == "" {
				assert.Nil(t, plan.Title)
			} else {
				require.NotNil(t, plan.Title)
				assert.Equal(t, tt.title, *plan.Title)
			}
		})
	}
}

func TestParsePlan_Invalid(t *testing.T) {
	for _, answer := range []string{"I cannot help with that", `{"title": "no queries"}`, `{"sql_queries": []}`, ""} {
		_, err := ParsePlan(answer)
		var invalid *InvalidResponseError
		assert.True(t, errors.As(err, &invalid), "answer %q", answer)
	}
}

func TestCheckSafe(t *testing.T) {
	assert.NoError(t, CheckSafe("SELECT created_at, updated_at FROM t"))
	assert.NoError(t, CheckSafe("SELECT * FROM sales"))

	err := CheckSafe("select 1; drop table sales")
	assert.ErrorIs(t, err, ErrUnsafeQuery)
	var unsafe *UnsafeQueryError
	require.True(t, errors.As(err, &unsafe))
	assert.Equal(t, "DROP", unsafe.Keyword)

	for _, q := range []string{"DELETE FROM x", "TRUNCATE x", "INSERT INTO x VALUES (1)", "UPDATE x SET a=1", "ALTER TABLE x", "CREATE TABLE y (a int)", "EXECUTE p", "GRANT ALL ON x TO u", "REVOKE ALL ON x FROM u"} {
		assert.ErrorIs(t, CheckSafe(q), ErrUnsafeQuery, q)
	}
}

func TestCheckSafe_WritesOutsideTheBasicKeywords(t *testing.T) {
	tests := []struct {
		query   string
		keyword string
	}{
		{"REPLACE INTO products SELECT id + 1000, name, category, unit_price_eur, weight_kg, length_mm FROM products", "REPLACE INTO"},
		{"replace\n  into products VALUES (1)", "REPLACE INTO"},
		{"PRAGMA writable_schema = 1", "PRAGMA"},
		{"ATTACH DATABASE '/tmp/x.db' AS x", "ATTACH"},
		{"VACUUM INTO '/tmp/copy.db'", "VACUUM"},
		{"COPY (SELECT 1) TO PROGRAM 'id'", "COPY"},
		{"MERGE INTO t USING s ON true WHEN MATCHED THEN DO NOTHING", "MERGE"},
		{"DO $$ BEGIN PERFORM 1; END $$", "DO"},
		{"SELECT lo_export(1, '/tmp/x')", "LO_EXPORT"},
		{"SELECT load_extension('evil')", "LOAD_EXTENSION"},
		{"SELECT 1; SELECT 2", ";"},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			var unsafe *UnsafeQueryError
			require.ErrorAs(t, CheckSafe(tt.query), &unsafe)
			assert.Equal(t, tt.keyword, unsafe.Keyword)
		})
	}

	for _, q := range []string{
		"SELECT replace(name, ' ', '_') FROM products",
		"SELECT name FROM products WHERE name = 'Drill Bit Set'",
		"SELECT COUNT(*) FROM sales;",
		"SELECT created_at FROM dropped_items",
	} {
		assert.NoError(t, CheckSafe(q), q)
	}
}

// --- translator ---

func TestTranslator_PromptAndPlan(t *testing.T) {
	var got llm.CompletionRequest
	client := &llm.MockClient{CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		got = req
		return &llm.CompletionResponse{Content: `{"title":"Units","sql_queries":["SELECT SUM(quantity_pcs) AS units_pcs FROM sales"]}`}, nil
	}}
	fixed := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	tr := NewTranslator(client, DemoSchema, testLogger(), WithClock(func() time.Time { return fixed }))

	plan, err := tr.Translate(context.Background(), "How many units did we sell?")
	require.NoError(t, err)
	assert.Equal(t, []string{"SELECT SUM(quantity_pcs) AS units_pcs FROM sales"}, plan.SQLQueries)

	assert.Contains(t, got.System, "sales(id INTEGER")
	assert.Contains(t, got.System, "2026-03-01 09:30:00")
	assert.Contains(t, got.System, "strftime('%Y'")
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "How many units did we sell?", got.Messages[0].Content)
	require.NotNil(t, got.Temperature)
	assert.Zero(t, *got.Temperature)
}

func TestTranslator_RejectsUnsafePlan(t *testing.T) {
	tr := NewTranslator(answering(`{"sql_queries":["DELETE FROM sales"]}`), DemoSchema, testLogger())
	_, err := tr.Translate(context.Background(), "clean up")
	assert.ErrorIs(t, err, ErrUnsafeQuery)
}

func TestTranslator_ClientError(t *testing.T) {
	client := &llm.MockClient{ProviderName: "claude", CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return nil, &llm.ProviderError{Provider: "claude", Code: 529, Message: "overloaded"}
	}}
	_, err := NewTranslator(client, DemoSchema, testLogger()).Translate(context.Background(), "q")
	var perr *llm.ProviderError
	assert.True(t, errors.As(err, &perr))
}

// --- executor ---

func TestExecutor_DemoDataset(t *testing.T) {
	e := demoExecutor(t)

	res, err := e.Execute(context.Background(), "SELECT COUNT(*) AS n FROM sales")
	require.NoError(t, err)
	assert.Equal(t, []string{"n"}, res.Columns)
	require.Len(t, res.Rows, 1)
	assert.EqualValues(t, 12*len(demoProducts), res.Rows[0][0])
	assert.GreaterOrEqual(t, res.ExecutionTimeMs, 0.0)
	assert.Equal(t, "SELECT COUNT(*) AS n FROM sales", res.Query)

	res, err = e.Execute(context.Background(), "SELECT name, category FROM products WHERE id = 1")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"Steel Bracket", "Hardware"}}, res.Rows)
}

func TestExecutor_SeedIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo", "aibi-demo.db")
	cfg := config.NLQConfig{Driver: "sqlite"}

	for i := 0; i < 2; i++ {
		e, err := OpenExecutor(context.Background(), cfg, path, testLogger())
		require.NoError(t, err)
		res, err := e.Execute(context.Background(), "SELECT COUNT(*) FROM products")
		require.NoError(t, err)
		assert.EqualValues(t, len(demoProducts), res.Rows[0][0])
		require.NoError(t, e.Close())
	}
}

func productCount(t *testing.T, e *Executor) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM products").Scan(&n))
	return n
}

func TestExecutor_CannotModifyDemoDatabase(t *testing.T) {
	ctx := context.Background()
	inMemory := demoExecutor(t)
	onDisk, err := OpenExecutor(ctx, config.NLQConfig{Driver: "sqlite"}, filepath.Join(t.TempDir(), "aibi-demo.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { onDisk.Close() })

	for name, e := range map[string]*Executor{"memory": inMemory, "file": onDisk} {
		t.Run(name, func(t *testing.T) {
			before := productCount(t, e)

			_, err := e.Execute(ctx, "REPLACE INTO products SELECT id + 1000, name, category, unit_price_eur, weight_kg, length_mm FROM products RETURNING id")
			assert.ErrorIs(t, err, ErrUnsafeQuery)
			_, err = e.Execute(ctx, "PRAGMA writable_schema = 1")
			assert.ErrorIs(t, err, ErrUnsafeQuery)

			// The handle itself refuses writes that get past the keyword filter.
			_, err = e.db.ExecContext(ctx, "INSERT INTO products (id, name, category, unit_price_eur, weight_kg, length_mm) VALUES (999, 'x', 'x', 1, 1, 1)")
			assert.Error(t, err)

			assert.Equal(t, before, productCount(t, e))
		})
	}
}

func TestExecutor_EmptyResultHasRows(t *testing.T) {
	e := demoExecutor(t)
	res, err := e.Execute(context.Background(), "SELECT id FROM products WHERE id < 0")
	require.NoError(t, err)
	assert.NotNil(t, res.Rows)
	assert.Empty(t, res.Rows)
}

func TestExecutor_Rejections(t *testing.T) {
	e := demoExecutor(t)

	_, err := e.Execute(context.Background(), "DROP TABLE sales")
	assert.ErrorIs(t, err, ErrUnsafeQuery)

	_, err = e.Execute(context.Background(), "SELECT nope FROM nowhere")
	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "SELECT nope FROM nowhere", execErr.Query)

	// The unsafe statement never ran.
	res, err := e.Execute(context.Background(), "SELECT COUNT(*) FROM sales")
	require.NoError(t, err)
	assert.EqualValues(t, 12*len(demoProducts), res.Rows[0][0])
}

func TestOpenExecutor_UnknownDriver(t *testing.T) {
	_, err := OpenExecutor(context.Background(), config.NLQConfig{Driver: "oracle", DSN: "x"}, "", testLogger())
	assert.Error(t, err)
}

// --- units ---

func TestUnitAssigner(t *testing.T) {
	a, err := NewUnitAssigner(nil)
	require.NoError(t, err)

	units := a.Assign([]string{"category", "total_revenue_eur", "price_usd", "weight_kg", "length_mm", "units_pcs", "Quantity"})
	require.Len(t, units, 7)
	assert.Nil(t, units[0])
	assert.Equal(t, EUR, *units[1])
	assert.Equal(t, USD, *units[2])
	assert.Equal(t, KG, *units[3])
	assert.Equal(t, MM, *units[4])
	assert.Equal(t, PCS, *units[5])
	assert.Equal(t, PCS, *units[6])
}

func TestUnitAssigner_BadPattern(t *testing.T) {
	_, err := NewUnitAssigner([]UnitPatterns{{EUR, []string{"(eur"}}})
	assert.Error(t, err)
}

// --- agent ---

func TestAgent_Compute(t *testing.T) {
	e := demoExecutor(t)
	tr := NewTranslator(answering(`{"title":"Revenue by category","sql_queries":["SELECT p.category, ROUND(SUM(s.revenue_eur), 2) AS total_revenue_eur FROM sales s JOIN products p ON p.id = s.product_id GROUP BY p.category ORDER BY p.category"]}`), DemoSchema, testLogger())
	agent := NewAgent(tr, e, nil, 0, testLogger())

	res, err := agent.Compute(context.Background(), "  revenue per category?  ")
	require.NoError(t, err)
	assert.Equal(t, "revenue per category?", res.NaturalLanguageQuery)
	require.NotNil(t, res.Title)
	assert.Equal(t, "Revenue by category", *res.Title)
	require.Len(t, res.Results, 1)
	assert.Equal(t, []string{"category", "total_revenue_eur"}, res.Results[0].Columns)
	assert.Len(t, res.Results[0].Rows, 4)
	assert.Equal(t, "Electrical", res.Results[0].Rows[0][0])
	require.Len(t, res.Results[0].ColumnsUnits, 2)
	assert.Nil(t, res.Results[0].ColumnsUnits[0])
	assert.Equal(t, EUR, *res.Results[0].ColumnsUnits[1])
	assert.GreaterOrEqual(t, res.TotalTimeMs, res.GenerationTimeMs)
}

func TestAgent_RetriesWholePipeline(t *testing.T) {
	e := demoExecutor(t)
	tr := NewTranslator(answering(
		"sorry, no idea",
		`{"sql_queries":["SELECT missing_column FROM sales"]}`,
		`{"sql_queries":["SELECT COUNT(*) AS sales_count FROM sales"]}`,
	), DemoSchema, testLogger())

	res, err := NewAgent(tr, e, nil, 5, testLogger()).Compute(context.Background(), "how many sales?")
	require.NoError(t, err)
	assert.Nil(t, res.Title)
	assert.EqualValues(t, 12*len(demoProducts), res.Results[0].Rows[0][0])
}

func TestAgent_GivesUp(t *testing.T) {
	calls := 0
	client := &llm.MockClient{CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		calls++
		return &llm.CompletionResponse{Content: `{"sql_queries":["DROP TABLE sales"]}`}, nil
	}}
	agent := NewAgent(NewTranslator(client, DemoSchema, testLogger()), demoExecutor(t), nil, 3, testLogger())

	_, err := agent.Compute(context.Background(), "destroy everything")
	var cerr *ComputeError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, 3, cerr.Attempts)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, ErrUnsafeQuery)
	assert.True(t, strings.Contains(err.Error(), "after 3 attempts"))
}

func TestAgent_EmptyQuestion(t *testing.T) {
	agent := NewAgent(NewTranslator(&llm.MockClient{}, DemoSchema, testLogger()), demoExecutor(t), nil, 0, testLogger())
	_, err := agent.Compute(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestAgent_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	agent := NewAgent(NewTranslator(answering(`{"sql_queries":["SELECT 1"]}`), DemoSchema, testLogger()), demoExecutor(t), nil, 0, testLogger())
	_, err := agent.Compute(ctx, "anything")
	assert.ErrorIs(t, err, context.Canceled)
}
