package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/agis/tempo/internal/contract"
)

func TestSchemaVersionDefault(t *testing.T) {
	p := Printer{}
	if p.schemaVersion() != contract.SchemaVersion {
		t.Fatalf("expected default schema version %q", contract.SchemaVersion)
	}
}

func TestFlattenWithFields(t *testing.T) {
	c := contract.Commitment{
		ID:    "abc",
		Title: "Standup",
		Start: time.Date(2026, 2, 16, 10, 0, 0, 0, time.UTC),
	}
	got := flatten(c, []string{"id", "title", "start"})
	if got != "abc\tStandup\t2026-02-16T10:00:00Z" {
		t.Fatalf("unexpected flatten result: %q", got)
	}
}

func TestAutoModeFallsBackToJSONForBuffers(t *testing.T) {
	var out bytes.Buffer
	p := Printer{Mode: ModeAuto, Command: "list", Out: &out}
	if p.Resolve() != ModeJSON {
		t.Fatalf("expected JSON for non-terminal writer, got %s", p.Resolve())
	}
	if err := p.Success([]int{1}, map[string]any{"count": 1}, nil); err != nil {
		t.Fatal(err)
	}
	var env contract.SuccessEnvelope
	if err := json.Unmarshal(out.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if env.Command != "list" || env.Warnings == nil {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestPlainErrorListsSuggestions(t *testing.T) {
	var errOut bytes.Buffer
	p := Printer{Mode: ModePlain, Err: &errOut, Fields: []string{"minutes"}}
	_ = p.ErrorWithMeta(contract.ErrConflict, "overlaps", "pick a slot", map[string]any{
		"suggestions": []contract.Slot{{Minutes: 30}},
	})
	got := errOut.String()
	if !strings.Contains(got, "hint: pick a slot") || !strings.Contains(got, "  30") {
		t.Fatalf("unexpected plain error output: %q", got)
	}
}

func TestPlainEmpty(t *testing.T) {
	var out bytes.Buffer
	p := Printer{Mode: ModePlain, Out: &out}
	if err := p.Success([]contract.Slot{}, nil, nil); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != "no results" {
		t.Fatalf("unexpected output: %q", out.String())
	}
}
