package nlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/soyeahso/voicebridge/internal/llm"
	"github.com/soyeahso/voicebridge/internal/logging"
)

// Plan is the model's answer to a question.
type Plan struct {
	Title      *string  `json:"title"`
	SQLQueries []string `json:"sql_queries"`
}

const systemPrompt = `You translate business questions into SQL for a read-only analytics database.

Database schema:
%s

Rules:
- Only write SELECT statements. Never modify data.
- Use the column names exactly as listed.
- Prefer a single query. Use several only when the question asks for separate tables.
- Give every computed column a descriptive snake_case alias that keeps its unit suffix (e.g. total_revenue_eur).
- The current time is %s.

Answer with JSON only, no prose:
{"title": "<short chart title in the language of the question>", "sql_queries": ["<query>", ...]}

Examples:
Question: What were total sales per category last year?
{"title": "Sales by category", "sql_queries": ["SELECT p.category, SUM(s.revenue_eur) AS total_revenue_eur FROM sales s JOIN products p ON p.id = s.product_id WHERE strftime('%%Y', s.sold_on) = strftime('%%Y', 'now', '-1 year') GROUP BY p.category ORDER BY total_revenue_eur DESC"]}

Question: ¿Cuántas unidades vendimos en cada país?
{"title": "Unidades vendidas por país", "sql_queries": ["SELECT c.country, SUM(s.quantity_pcs) AS units_pcs FROM sales s JOIN customers c ON c.id = s.customer_id GROUP BY c.country ORDER BY units_pcs DESC"]}`

var fencedBlock = regexp.MustCompile("(?s)```(?:sql|json)?(.*?)```")

// Translator turns natural language questions into SQL with an LLM.
type Translator struct {
	client llm.Client
	schema string
	now    func() time.Time
	log    *logging.Logger
}

// TranslatorOption configures a Translator.
type TranslatorOption func(*Translator)

// WithClock replaces time.Now in the prompt.
func WithClock(now func() time.Time) TranslatorOption {
	return func(t *Translator) {
		t.now = now
	}
}

// NewTranslator creates a translator prompting client with schema.
func NewTranslator(client llm.Client, schema string, log *logging.Logger, opts ...TranslatorOption) *Translator {
	t := &Translator{
		client: client,
		schema: schema,
		now:    time.Now,
		log:    log.Sub("nlq.translator"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Translate asks the model for a query plan and checks every query is safe.
func (t *Translator) Translate(ctx context.Context, question string) (Plan, error) {
	temperature := 0.0
	resp, err := t.client.Complete(ctx, llm.CompletionRequest{
		System:      fmt.Sprintf(systemPrompt, t.schema, t.now().Format(time.DateTime)),
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: question}},
		MaxTokens:   1024,
		Temperature: &temperature,
	})
	if err != nil {
		return Plan{}, fmt.Errorf("%s completion: %w", t.client.Name(), err)
	}
	t.log.Trace().Str("question", question).Str("answer", resp.Content).Msg("model answered")

	plan, err := ParsePlan(resp.Content)
	if err != nil {
		return Plan{}, err
	}
	for _, q := range plan.SQLQueries {
		if err := CheckSafe(q); err != nil {
			return Plan{}, err
		}
	}
	return plan, nil
}

// ParsePlan reads a model answer. Code fences are stripped; a JSON object
// may name its queries sql_queries, sql_query, query or sql; a bare SELECT
// is taken as a single untitled query.
func ParsePlan(answer string) (Plan, error) {
	answer = strings.TrimSpace(answer)
	if m := fencedBlock.FindStringSubmatch(answer); m != nil {
		answer = strings.TrimSpace(m[1])
	}

	var raw any
	if err := json.Unmarshal([]byte(answer), &raw); err != nil {
		if isSelect(answer) {
			return Plan{SQLQueries: []string{answer}}, nil
		}
		return Plan{}, &InvalidResponseError{Response: answer, Err: err}
	}
	if list, ok := raw.([]any); ok && len(list) == 1 {
		raw = list[0]
	}

	var plan Plan
	switch v := raw.(type) {
	case string:
		if strings.TrimSpace(v) != "" {
			plan.SQLQueries = []string{strings.TrimSpace(v)}
		}
	case map[string]any:
		if title, ok := v["title"].(string); ok && title != "" {
			plan.Title = &title
		}
		if qs, ok := v["sql_queries"].([]any); ok {
			for _, q := range qs {
				if s, ok := q.(string); ok && strings.TrimSpace(s) != "" {
					plan.SQLQueries = append(plan.SQLQueries, strings.TrimSpace(s))
				}
			}
		}
		if len(plan.SQLQueries) == 0 {
			for _, key := range []string{"sql_query", "query", "sql"} {
				if s, ok := v[key].(string); ok && strings.TrimSpace(s) != "" {
					plan.SQLQueries = []string{strings.TrimSpace(s)}
					break
				}
			}
		}
	}
	if len(plan.SQLQueries) == 0 {
		return Plan{}, &InvalidResponseError{Response: answer, Err: errors.New("no sql queries")}
	}
	return plan, nil
}

func isSelect(s string) bool {
	upper := strings.ToUpper(strings.TrimSpace(s))
	return strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH")
}
