package services

import (
	"reflect"
	"testing"
)

func TestParseTextClassification(t *testing.T) {
	meta := EventMeta{GroupID: "g", SenderID: "u", MessageID: "m"}

	cases := []struct {
		body string
		want InboundEvent
	}{
		{"novo", CommandEvent{EventMeta: meta, Kind: CmdNew, Args: []string{}}},
		{"  Cancelar  ", CommandEvent{EventMeta: meta, Kind: CmdCancel, Args: []string{}}},
		{"confirmar", CommandEvent{EventMeta: meta, Kind: CmdConfirm, Args: []string{}}},
		{"reanalisar", CommandEvent{EventMeta: meta, Kind: CmdReanalyze, Args: []string{}}},
		{"status", CommandEvent{EventMeta: meta, Kind: CmdStatus, Args: []string{}}},
		{"config dialog_mode guided", CommandEvent{EventMeta: meta, Kind: CmdConfig, Args: []string{"dialog_mode", "guided"}}},
		// A command word followed by text is ordinary text, not a command
		{"novo na caixa, sem uso", TextEvent{EventMeta: meta, Body: "novo na caixa, sem uso"}},
		{"preco=1200", TextEvent{EventMeta: meta, Body: "preco=1200"}},
		{"quanto custa?", TextEvent{EventMeta: meta, Body: "quanto custa?"}},
	}

	for _, tc := range cases {
		got := ParseText(meta, tc.body)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("ParseText(%q) = %#v, want %#v", tc.body, got, tc.want)
		}
	}
}

func TestParseOverrides(t *testing.T) {
	got := ParseOverrides("preco=1200\nMARCA = Samsung\nsem igual\ntitulo=\npreco=1350")
	want := map[string]string{
		"preco": "1350", // last write wins
		"marca": "Samsung",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseOverrides = %v, want %v", got, want)
	}
}

func TestParseOverridesValueMayContainEquals(t *testing.T) {
	got := ParseOverrides("descricao=garantia=90 dias")
	if got["descricao"] != "garantia=90 dias" {
		t.Fatalf("expected value split on first '=', got %v", got)
	}
}
