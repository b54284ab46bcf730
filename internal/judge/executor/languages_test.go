package executor

import (
	"reflect"
	"testing"

	"judgeflow/internal/judge/model"
)

func TestExpandCommand(t *testing.T) {
	spec := DefaultLanguages()[model.LanguageCPP]
	vars := newTemplateVars("/tmp/run dir", spec, 2048)

	got, err := expandCommand(spec.CompileCmd, vars)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	want := []string{"g++", "-O2", "-std=c++17", "-pipe", "-o", "/tmp/run dir/main", "/tmp/run dir/main.cpp"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expand = %q, want %q", got, want)
	}

	got, err = expandCommand("java -Xmx{mem_mb}m -cp {dir} Main", vars)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if got[1] != "-Xmx2m" || got[3] != "/tmp/run dir" {
		t.Fatalf("unexpected expansion %q", got)
	}

	if _, err := expandCommand("   ", vars); err == nil {
		t.Fatal("expected error for empty template")
	}
	if _, err := expandCommand(`python3 "unterminated`, vars); err == nil {
		t.Fatal("expected error for unbalanced quote")
	}
}

func TestMergeLanguages(t *testing.T) {
	table, err := MergeLanguages(map[string]LanguageSpec{
		"py": {RunCmd: "pypy3 {src}"},
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	py := table[model.LanguagePython]
	if py.RunCmd != "pypy3 {src}" || py.SourceFile != "main.py" {
		t.Fatalf("override not merged: %+v", py)
	}
	if !table[model.LanguageJava].Compiled() || table[model.LanguagePython].Compiled() {
		t.Fatal("compiled flags wrong")
	}
	if _, err := MergeLanguages(map[string]LanguageSpec{"cobol": {RunCmd: "x"}}); err == nil {
		t.Fatal("expected unknown language to fail")
	}
}

func TestCappedBuffer(t *testing.T) {
	b := newCappedBuffer(4)
	n, err := b.Write([]byte("abcdef"))
	if err != nil || n != 6 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	_, _ = b.Write([]byte("gh"))
	if b.String() != "abcd" || !b.truncated {
		t.Fatalf("buffer = %q truncated=%v", b.String(), b.truncated)
	}
}
