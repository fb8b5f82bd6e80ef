package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/njoerd114/vaultsync/internal/model"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf("db_path: %s\nsync:\n  endpoint: http://127.0.0.1:1/api/sync\n", filepath.Join(dir, "vault.db"))
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, cfgPath string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("vaultsync %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func TestCLI_AddScoreAndQueue(t *testing.T) {
	cfgPath := writeTestConfig(t)

	var habit model.Habit
	if err := json.Unmarshal([]byte(execute(t, cfgPath, "add", "habit", "Exercise", "--xp", "40", "--json")), &habit); err != nil {
		t.Fatalf("decoding added habit: %v", err)
	}
	if habit.ID == 0 || !habit.Positive || habit.XPValue != 40 {
		t.Fatalf("added habit = %+v", habit)
	}

	out := execute(t, cfgPath, "score", fmt.Sprint(habit.ID), "--json=false")
	if !strings.Contains(out, "Exercise: count 1") || !strings.Contains(out, "40 XP") {
		t.Errorf("score output = %q", out)
	}

	var queued []model.SyncQueueItem
	if err := json.Unmarshal([]byte(execute(t, cfgPath, "queue", "list", "--json")), &queued); err != nil {
		t.Fatalf("decoding queue: %v", err)
	}
	want := []struct {
		op    model.Operation
		store model.Collection
	}{
		{model.OpCreate, model.Habits},
		{model.OpUpdate, model.Habits},
		{model.OpCreate, model.Users},
		{model.OpUpdate, model.Users},
	}
	if len(queued) != len(want) {
		t.Fatalf("queue has %d items, want %d: %+v", len(queued), len(want), queued)
	}
	for i, w := range want {
		if queued[i].Operation != w.op || queued[i].Store != w.store {
			t.Errorf("queue[%d] = %s %s, want %s %s", i, queued[i].Operation, queued[i].Store, w.op, w.store)
		}
	}

	out = execute(t, cfgPath, "queue", "clear", "--json=false")
	if !strings.Contains(out, "Dropped 4") {
		t.Errorf("clear output = %q", out)
	}
}

func TestCLI_RedeemWithoutCapsFails(t *testing.T) {
	cfgPath := writeTestConfig(t)

	var reward model.Reward
	if err := json.Unmarshal([]byte(execute(t, cfgPath, "add", "reward", "Nuka-Cola", "--cost", "50", "--json")), &reward); err != nil {
		t.Fatalf("decoding reward: %v", err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"--config", cfgPath, "redeem", fmt.Sprint(reward.ID), "--json=false"})
	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "not enough caps") {
		t.Errorf("redeem error = %v, want not enough caps", err)
	}
}

// add habit --down must not change what a later score does.
func TestCLI_ScoreDirectionIndependentOfAddFlag(t *testing.T) {
	cfgPath := writeTestConfig(t)

	var exercise, snack model.Habit
	if err := json.Unmarshal([]byte(execute(t, cfgPath, "add", "habit", "Exercise", "--down=false", "--json")), &exercise); err != nil {
		t.Fatalf("decoding habit: %v", err)
	}
	if err := json.Unmarshal([]byte(execute(t, cfgPath, "add", "habit", "Snack", "--down", "--json")), &snack); err != nil {
		t.Fatalf("decoding habit: %v", err)
	}
	if !snack.Negative || snack.Positive {
		t.Fatalf("added habit = %+v, want negative only", snack)
	}

	out := execute(t, cfgPath, "score", fmt.Sprint(exercise.ID), "--json=false")
	if !strings.Contains(out, "Exercise: count 1") {
		t.Errorf("score output = %q, want scored up", out)
	}
}

func TestParseDue(t *testing.T) {
	got, err := parseDue("2024-03-01")
	if err != nil || got == nil {
		t.Fatalf("parseDue() = %v, %v", got, err)
	}
	if formatDate(got) != "2024-03-01" {
		t.Errorf("round trip = %s", formatDate(got))
	}
	if none, err := parseDue(""); err != nil || none != nil {
		t.Errorf("parseDue(\"\") = %v, %v; want nil, nil", none, err)
	}
	if _, err := parseDue("03/01/2024"); err == nil {
		t.Error("parseDue accepted a non-ISO date")
	}
}

func TestParseID(t *testing.T) {
	if id, err := parseID("1700000000000123"); err != nil || id != 1700000000000123 {
		t.Errorf("parseID() = %d, %v", id, err)
	}
	for _, bad := range []string{"", "abc", "-4", "0"} {
		if _, err := parseID(bad); err == nil {
			t.Errorf("parseID(%q) succeeded", bad)
		}
	}
}

func TestHumanSize(t *testing.T) {
	tests := map[int64]string{
		512:         "512 B",
		2048:        "2.0 KB",
		5 * 1 << 20: "5.0 MB",
	}
	for in, want := range tests {
		if got := humanSize(in); got != want {
			t.Errorf("humanSize(%d) = %q, want %q", in, got, want)
		}
	}
}
