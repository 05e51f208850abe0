package capacity

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

type fakeDirectory struct {
	counts map[string]int
	owned  map[string][]string
}

func (f *fakeDirectory) ActiveBotCount(ctx context.Context, credentialID string) (int, error) {
	return f.counts[credentialID], nil
}

func (f *fakeDirectory) UserCredentials(ctx context.Context, userID string) ([]string, error) {
	return f.owned[userID], nil
}

func newTestValidator(counts map[string]int, owned map[string][]string) *Validator {
	return NewValidator(nil, &fakeDirectory{counts: counts, owned: owned}, zerolog.Nop())
}

func TestValidateBotCreation(t *testing.T) {
	tests := []struct {
		name        string
		count       int
		wantAllowed bool
		wantWarning bool
	}{
		{"empty credential", 0, true, false},
		{"below watermark", 4, true, false},
		{"at watermark warns", 5, true, true},
		{"sixth bot allowed with warning", 5, true, true},
		{"seventh slot", 7, true, true},
		{"at ceiling rejected", 8, false, false},
		{"over ceiling rejected", 9, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestValidator(map[string]int{"cred-1": tt.count}, nil)

			result, err := v.ValidateBotCreation(context.Background(), "cred-1", "user-1")
			if err != nil {
				t.Fatalf("validation failed: %v", err)
			}
			if result.Allowed != tt.wantAllowed {
				t.Fatalf("allowed = %v, want %v (count %d)", result.Allowed, tt.wantAllowed, tt.count)
			}
			if result.CurrentCount != tt.count {
				t.Fatalf("current count = %d, want %d", result.CurrentCount, tt.count)
			}
			if result.MaxAllowed != 8 {
				t.Fatalf("max allowed = %d, want 8", result.MaxAllowed)
			}
			if tt.wantWarning && result.Reason == "" {
				t.Fatal("expected a warning reason")
			}
			if !tt.wantAllowed && !strings.Contains(result.Reason, "maximum") {
				t.Fatalf("rejection reason should mention the maximum, got %q", result.Reason)
			}
		})
	}
}

func TestUsageAnalysisStatuses(t *testing.T) {
	v := newTestValidator(
		map[string]int{"a": 2, "b": 5, "c": 7, "d": 8},
		map[string][]string{"user-1": {"a", "b", "c", "d"}},
	)

	usages, err := v.UsageAnalysis(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("analysis failed: %v", err)
	}
	if len(usages) != 4 {
		t.Fatalf("expected 4 usages, got %d", len(usages))
	}

	want := map[string]string{
		"a": StatusOptimal,
		"b": StatusWarning,
		"c": StatusCritical,
		"d": StatusBlocked,
	}
	for _, u := range usages {
		if u.Status != want[u.CredentialID] {
			t.Errorf("credential %s: status %s, want %s", u.CredentialID, u.Status, want[u.CredentialID])
		}
		if u.Status != StatusOptimal && u.Recommendation == "" {
			t.Errorf("credential %s: expected a recommendation", u.CredentialID)
		}
	}
}

func TestSuggestAlternativesRanksByRemaining(t *testing.T) {
	v := newTestValidator(
		map[string]int{"full": 8, "busy": 6, "free": 1, "self": 3},
		map[string][]string{"user-1": {"full", "busy", "free", "self"}},
	)

	suggestion, err := v.SuggestAlternatives(context.Background(), "user-1", "self")
	if err != nil {
		t.Fatalf("suggestion failed: %v", err)
	}
	if suggestion.NewCredentialRequired {
		t.Fatal("alternatives exist, new credential should not be required")
	}
	if len(suggestion.Alternatives) != 2 {
		t.Fatalf("expected 2 alternatives (full excluded, self excluded), got %d", len(suggestion.Alternatives))
	}
	if suggestion.Alternatives[0].CredentialID != "free" {
		t.Fatalf("most remaining capacity should rank first, got %s", suggestion.Alternatives[0].CredentialID)
	}
	if suggestion.Alternatives[1].CredentialID != "busy" {
		t.Fatalf("expected busy second, got %s", suggestion.Alternatives[1].CredentialID)
	}
}

func TestSuggestAlternativesAllFull(t *testing.T) {
	v := newTestValidator(
		map[string]int{"a": 8, "b": 9},
		map[string][]string{"user-1": {"a", "b"}},
	)

	suggestion, err := v.SuggestAlternatives(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("suggestion failed: %v", err)
	}
	if !suggestion.NewCredentialRequired {
		t.Fatal("all credentials full, a new credential should be required")
	}
	if len(suggestion.Alternatives) != 0 {
		t.Fatalf("expected no alternatives, got %d", len(suggestion.Alternatives))
	}
}
