package guardrails

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/nikhilbhutani/safebrowse/pkg/urlnorm"
)

func TestMatchURL(t *testing.T) {
	m := Default()
	tests := []struct {
		url      string
		category string
		hit      bool
	}{
		{"https://example.com/xxx", "adult", true},
		{"https://www.kiddle.co", "", false},
		{"https://example.com/search?q=free%20PORN", "adult", true},
		{"https://classics.example.com/glass", "", false},
		{"https://best-casino-online.net", "gambling", true},
		{"https://example.com/xxxtentacion-fan", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			target, err := urlnorm.Parse(tt.url)
			if err != nil {
				t.Fatal(err)
			}
			got, ok := m.MatchURL(target)
			if ok != tt.hit {
				t.Fatalf("hit = %v, want %v (%+v)", ok, tt.hit, got)
			}
			if ok && got.Category != tt.category {
				t.Errorf("category = %q, want %q", got.Category, tt.category)
			}
		})
	}
}

func TestMatchText_WordBoundaries(t *testing.T) {
	m := Default()
	for _, benign := range []string{"our class trip", "the bass guitar", "assess the passage", "scrapbook"} {
		if got, ok := m.MatchText(benign); ok {
			t.Errorf("%q matched %+v", benign, got)
		}
	}
	got, ok := m.MatchText("what the DAMN thing")
	if !ok || got.Category != "profanity" || got.Severity != SeverityLow {
		t.Fatalf("got %+v, %v", got, ok)
	}
	if got.Text != "DAMN" {
		t.Errorf("text = %q", got.Text)
	}
}

func TestMatchText_FirstRuleWins(t *testing.T) {
	m := Default()
	got, ok := m.MatchText("damn, a casino")
	if !ok || got.Category != "gambling" {
		t.Fatalf("got %+v", got)
	}
}

func TestMatchAll_ReportsEveryCategory(t *testing.T) {
	m := Default()
	all := m.MatchAll("nsfw pictures from the casino, damn")
	want := []string{"adult", "gambling", "profanity"}
	if got := Categories(all); !reflect.DeepEqual(got, want) {
		t.Fatalf("categories = %v, want %v", got, want)
	}
}

func TestCensor(t *testing.T) {
	m := Default()
	in := "This shit is fucking great, said the class."
	want := "This **** is ******* great, said the class."
	got := m.Censor(in)
	if got != want {
		t.Fatalf("Censor = %q, want %q", got, want)
	}
	if len(got) != len(in) {
		t.Fatal("censoring must preserve length")
	}
}

func TestCensor_Idempotent(t *testing.T) {
	m := Default()
	inputs := []string{
		"",
		"nothing to see",
		"damn damn DAMN",
		"crap-shit_bitch",
		"mañana shit ünïcode",
		"***",
	}
	for _, in := range inputs {
		once := m.Censor(in)
		if twice := m.Censor(once); twice != once {
			t.Errorf("Censor not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestNewMatcher_RejectsMaskMatchingRule(t *testing.T) {
	_, err := NewMatcher([]Rule{{Name: "stars", Category: "x", Pattern: `\*+`}})
	if err == nil {
		t.Fatal("expected rule matching the mask to be rejected")
	}
}

func TestNewMatcher_InvalidRules(t *testing.T) {
	cases := []Rule{
		{Category: "x", Keywords: []string{"a"}},
		{Name: "n", Keywords: []string{"a"}},
		{Name: "n", Category: "x"},
		{Name: "n", Category: "x", Pattern: "("},
		{Name: "n", Category: "x", Severity: "extreme", Keywords: []string{"a"}},
	}
	for i, r := range cases {
		if _, err := NewMatcher([]Rule{r}); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

func TestLoadRulesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json")
	body := `[{"name":"scary","category":"horror","severity":"HIGH","keywords":["jump scare"]}]`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	rules, err := LoadRulesFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 1 || rules[0].Severity != SeverityHigh {
		t.Fatalf("rules = %+v", rules)
	}

	m, err := NewMatcher(append(DefaultRules(), rules...))
	if err != nil {
		t.Fatal(err)
	}
	got, ok := m.MatchText("the big jump  scare video")
	if !ok || got.Category != "horror" {
		t.Fatalf("got %+v, %v", got, ok)
	}
}

func TestLoadRulesFile_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadRulesFile(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
	bad := filepath.Join(dir, "bad.json")
	_ = os.WriteFile(bad, []byte(`[{"name":"x"}]`), 0o644)
	if _, err := LoadRulesFile(bad); err == nil {
		t.Error("expected validation error")
	}
}
