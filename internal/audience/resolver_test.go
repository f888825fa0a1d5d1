package audience

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxzi/drip/internal/db"
	"github.com/foxzi/drip/internal/models"
	"github.com/foxzi/drip/internal/repository"
)

var testNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

type seeded struct {
	resolver *Resolver
	contacts *repository.ContactRepository
	ids      map[string]string
}

// seedContacts creates 3 hot and 5 cold contacts with varied attributes
func seedContacts(t *testing.T) *seeded {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())

	contacts := repository.NewContactRepository(database.DB)
	ctx := context.Background()
	ids := map[string]string{}

	add := func(name, temperature, source string, stage models.Stage, active bool, age time.Duration, score int) {
		c := &models.Contact{
			FullName:    name,
			Phone:       fmt.Sprintf("+55119%08d", len(ids)+1),
			Source:      source,
			IsActive:    active,
			Stage:       stage,
			Temperature: temperature,
			Score:       score,
			CreatedAt:   testNow.Add(-age),
		}
		require.NoError(t, contacts.Create(ctx, c))
		ids[name] = c.ID
	}

	day := 24 * time.Hour
	add("Ana Souza", "quente", "instagram", models.StageNew, true, 5*day, 80)
	add("Bruno Lima", "quente", "site", models.StageContacted, true, 10*day, 70)
	add("Carla Dias", "quente", "site", models.StageNew, false, 45*day, 90)
	add("Diego Alves", "frio", "instagram", models.StageNew, true, 2*day, 10)
	add("Elisa Ramos", "frio", "indicacao", models.StageUnread, true, 60*day, 20)
	add("Fabio Nunes", "frio", "site", models.StageNew, true, 90*day, 5)
	add("Gabi Rocha", "frio", "site", models.StageLost, false, 1*day, 0)
	add("Hugo Melo", "frio", "instagram", models.StageContacted, true, 35*day, 15)

	r := NewResolver(database.DB, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.SetClock(func() time.Time { return testNow })
	return &seeded{resolver: r, contacts: contacts, ids: ids}
}

func and(conds ...models.Condition) *models.RuleSet {
	return &models.RuleSet{Logic: models.LogicAnd, Conditions: conds}
}

func or(conds ...models.Condition) *models.RuleSet {
	return &models.RuleSet{Logic: models.LogicOr, Conditions: conds}
}

func cond(field, op string, value any) models.Condition {
	return models.Condition{Field: field, Operator: op, Value: value}
}

func TestResolve(t *testing.T) {
	s := seedContacts(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		rules *models.RuleSet
		want  []string
	}{
		{
			name:  "equals temperature",
			rules: and(cond("temperature", "equals", "quente")),
			want:  []string{"Ana Souza", "Bruno Lima", "Carla Dias"},
		},
		{
			name:  "unknown field matches nothing",
			rules: and(cond("favorite_color", "equals", "blue")),
			want:  nil,
		},
		{
			name:  "unknown operator matches nothing",
			rules: and(cond("temperature", "sounds_like", "quente")),
			want:  nil,
		},
		{
			name:  "dropped condition leaves the rest",
			rules: and(cond("temperature", "equals", "quente"), cond("favorite_color", "equals", "blue")),
			want:  []string{"Ana Souza", "Bruno Lima", "Carla Dias"},
		},
		{
			name:  "and narrows",
			rules: and(cond("temperature", "equals", "quente"), cond("is_active", "is_true", nil)),
			want:  []string{"Ana Souza", "Bruno Lima"},
		},
		{
			name:  "or widens",
			rules: or(cond("temperature", "equals", "quente"), cond("stage", "equals", "contactado")),
			want:  []string{"Ana Souza", "Bruno Lima", "Carla Dias", "Hugo Melo"},
		},
		{
			name:  "in list",
			rules: and(cond("stage", "in", []any{"nao_lido", "perdido"})),
			want:  []string{"Elisa Ramos", "Gabi Rocha"},
		},
		{
			name:  "in scalar is coerced to list",
			rules: and(cond("stage", "in", "perdido")),
			want:  []string{"Gabi Rocha"},
		},
		{
			name:  "contains is case insensitive",
			rules: and(cond("full_name", "contains", "ROCHA")),
			want:  []string{"Gabi Rocha"},
		},
		{
			name:  "not equals",
			rules: and(cond("source", "not_equals", "site"), cond("temperature", "equals", "frio")),
			want:  []string{"Diego Alves", "Elisa Ramos", "Hugo Melo"},
		},
		{
			name:  "relative date after",
			rules: and(cond("created_at", "after", "NOW-30DAYS")),
			want:  []string{"Ana Souza", "Bruno Lima", "Diego Alves", "Gabi Rocha"},
		},
		{
			name:  "iso date before",
			rules: and(cond("created_at", "before", "2026-04-20")),
			want:  []string{"Elisa Ramos", "Fabio Nunes"},
		},
		{
			name:  "numeric greater than",
			rules: and(cond("score", "greater_than", 75)),
			want:  []string{"Ana Souza", "Carla Dias"},
		},
		{
			name:  "numeric string is coerced",
			rules: and(cond("score", "less_than", "10")),
			want:  []string{"Fabio Nunes", "Gabi Rocha"},
		},
		{
			name:  "is false",
			rules: and(cond("is_active", "is_false", nil)),
			want:  []string{"Carla Dias", "Gabi Rocha"},
		},
		{
			name:  "bool equals from string",
			rules: and(cond("is_active", "equals", "false")),
			want:  []string{"Carla Dias", "Gabi Rocha"},
		},
		{
			name:  "empty in list matches nothing",
			rules: and(cond("stage", "in", []any{})),
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.resolver.Resolve(ctx, tt.rules)
			require.NoError(t, err)

			want := []string{}
			for _, name := range tt.want {
				want = append(want, s.ids[name])
			}
			assert.ElementsMatch(t, want, got)
		})
	}
}

func TestResolveEmptyRulesMatchEveryone(t *testing.T) {
	s := seedContacts(t)

	got, err := s.resolver.Resolve(context.Background(), and())
	require.NoError(t, err)
	assert.Len(t, got, 8)
}

func TestResolveContainsFoldsAccentedCase(t *testing.T) {
	s := seedContacts(t)
	ctx := context.Background()

	joao := &models.Contact{FullName: "JOÃO SILVA", Phone: "+5511977770001", IsActive: true}
	require.NoError(t, s.contacts.Create(ctx, joao))
	emilia := &models.Contact{FullName: "Emília Araújo", Phone: "+5511977770002", IsActive: true}
	require.NoError(t, s.contacts.Create(ctx, emilia))

	got, err := s.resolver.Resolve(ctx, and(cond("full_name", "contains", "joão")))
	require.NoError(t, err)
	assert.Equal(t, []string{joao.ID}, got)

	got, err = s.resolver.Resolve(ctx, and(cond("full_name", "contains", "ARAÚJO")))
	require.NoError(t, err)
	assert.Equal(t, []string{emilia.ID}, got)

	// Plain ASCII matching is unchanged
	got, err = s.resolver.Resolve(ctx, and(cond("source", "contains", "insta")))
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestResolveIsReadOnly(t *testing.T) {
	s := seedContacts(t)
	ctx := context.Background()
	rules := and(cond("temperature", "equals", "frio"))

	first, err := s.resolver.Resolve(ctx, rules)
	require.NoError(t, err)
	second, err := s.resolver.Resolve(ctx, rules)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPreview(t *testing.T) {
	s := seedContacts(t)
	ctx := context.Background()

	preview, err := s.resolver.Preview(ctx, and(cond("temperature", "equals", "frio")), 2)
	require.NoError(t, err)
	assert.Equal(t, 5, preview.Count)
	assert.Equal(t, 8, preview.TotalContacts)
	require.Len(t, preview.Sample, 2)
	assert.Equal(t, "frio", preview.Sample[0].Temperature)
	assert.GreaterOrEqual(t, preview.QueryTimeMS, 0.0)

	preview, err = s.resolver.Preview(ctx, and(cond("nope", "equals", "x")), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, preview.Count)
	assert.Empty(t, preview.Sample)
	assert.Equal(t, 8, preview.TotalContacts)
}

func TestCompile(t *testing.T) {
	f := Compile(and(cond("nope", "equals", 1), cond("temperature", "wat", 1)), testNow)
	assert.True(t, f.MatchesNothing())
	assert.Len(t, f.Dropped, 2)

	f = Compile(nil, testNow)
	assert.False(t, f.MatchesNothing())

	f = Compile(&models.RuleSet{Logic: "XOR", Conditions: []models.Condition{
		cond("temperature", "equals", "quente"),
		cond("stage", "equals", "novo"),
	}}, testNow)
	assert.Equal(t, "(p.temperature = ?) AND (p.stage = ?)", f.Where)

	f = Compile(and(cond("full_name", "contains", "50%_OFF")), testNow)
	assert.Contains(t, f.Where, "unicode_lower(")
	require.Len(t, f.Args, 1)
	assert.Equal(t, `%50\%\_off%`, f.Args[0])
}

func TestResolveDate(t *testing.T) {
	assert.Equal(t, testNow.AddDate(0, 0, -30), resolveDate("NOW-30DAYS", testNow))
	assert.Equal(t, testNow.AddDate(0, 0, -1), resolveDate("now-1day", testNow))
	assert.Equal(t, testNow, resolveDate("NOW", testNow))
	assert.Equal(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), resolveDate("2026-01-02", testNow))
	assert.Equal(t, "last tuesday", resolveDate("last tuesday", testNow))
	assert.Equal(t, 42.0, resolveDate(42.0, testNow))
}
