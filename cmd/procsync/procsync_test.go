package main

import (
	"bytes"
	"context"
	"encoding/json"
	"maps"
	"os"
	"strings"
	"testing"

	"github.com/yourorg/procurement-sync/internal/seed"
)

func TestParseFiles(t *testing.T) {
	got, err := parseFiles([]string{"questions=s3://fixtures/q.xlsx", " sanctions = ceis.csv"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := map[seed.Target]string{
		seed.Questions: "s3://fixtures/q.xlsx",
		seed.Sanctions: "ceis.csv",
	}
	if !maps.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	for pair, msg := range map[string]string{"questions": "want target=uri", "answers=a.csv": "unknown target"} {
		if _, err := parseFiles([]string{pair}); err == nil || !strings.Contains(err.Error(), msg) {
			t.Fatalf("%q: err %v, want %q", pair, err, msg)
		}
	}
}

func TestCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"contracts", "children", "pncp", "inlabs", "seed", "migrate"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("find %s: %v", name, err)
		}
	}
	for _, flag := range []string{"config", "dry-run", "batch-size", "retries", "report"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Fatalf("missing persistent flag --%s", flag)
		}
	}
	pncp, _, _ := root.Find([]string{"pncp"})
	for _, flag := range []string{"from", "to", "modalidade", "force", "limit"} {
		if pncp.Flags().Lookup(flag) == nil {
			t.Fatalf("pncp: missing flag --%s", flag)
		}
	}
}

func TestArgumentErrorsStopBeforeConnecting(t *testing.T) {
	cases := map[string][]string{
		"children needs a unit": {"children"},
		"bad contract id":       {"children", "153080", "x"},
		"bad child kind":        {"children", "153080", "--kinds", "anexos"},
		"unknown seed target":   {"seed", "answers"},
		"seed dry run":          {"seed", "--dry-run"},
		"window backwards":      {"pncp", "--from", "2024-05-02", "--to", "2024-05-01"},
		"two dates":             {"inlabs", "2024-05-01", "2024-05-02"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			root := newRootCmd()
			var out bytes.Buffer
			root.SetOut(&out)
			root.SetErr(&out)
			root.SetArgs(args)
			if err := root.Execute(); err == nil {
				t.Fatalf("%v: expected an error", args)
			}
		})
	}
}

func TestEmitWritesReport(t *testing.T) {
	dir := t.TempDir()
	g := &globals{report: "file://" + dir + "/report.json"}
	var out bytes.Buffer
	if err := g.emit(context.Background(), &out, map[string]int{"created": 2}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	var got map[string]int
	if err := json.Unmarshal(out.Bytes(), &got); err != nil || got["created"] != 2 {
		t.Fatalf("stdout %q: %v", out.String(), err)
	}
	saved, err := os.ReadFile(dir + "/report.json")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !bytes.Equal(saved, out.Bytes()) {
		t.Fatalf("report %q differs from stdout %q", saved, out.String())
	}
}
