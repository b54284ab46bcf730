package executor

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"judgeflow/internal/judge/model"

	"github.com/google/shlex"
)

// LanguageSpec describes how to build and run one language.
// Command templates are split shell-style and may use {src}, {bin}, {dir}
// and {mem_mb} placeholders.
type LanguageSpec struct {
	SourceFile string `yaml:"sourceFile"`
	BinaryFile string `yaml:"binaryFile"`
	CompileCmd string `yaml:"compileCmd"`
	RunCmd     string `yaml:"runCmd"`

	// SkipAddressLimit disables RLIMIT_AS for runtimes that reserve large
	// virtual ranges up front (JVM, V8); memory is then bounded by cgroup only.
	SkipAddressLimit bool `yaml:"skipAddressLimit"`
}

// Compiled reports whether a compile step precedes the run.
func (s LanguageSpec) Compiled() bool {
	return strings.TrimSpace(s.CompileCmd) != ""
}

// DefaultLanguages returns the built-in language table.
func DefaultLanguages() map[model.Language]LanguageSpec {
	return map[model.Language]LanguageSpec{
		model.LanguagePython: {
			SourceFile: "main.py",
			RunCmd:     "python3 -B {src}",
		},
		model.LanguageJavaScript: {
			SourceFile:       "index.js",
			RunCmd:           "node {src}",
			SkipAddressLimit: true,
		},
		model.LanguageCPP: {
			SourceFile: "main.cpp",
			BinaryFile: "main",
			CompileCmd: "g++ -O2 -std=c++17 -pipe -o {bin} {src}",
			RunCmd:     "{bin}",
		},
		model.LanguageJava: {
			SourceFile:       "Main.java",
			CompileCmd:       "javac -encoding UTF-8 -d {dir} {src}",
			RunCmd:           "java -Xss64m -cp {dir} Main",
			SkipAddressLimit: true,
		},
	}
}

// MergeLanguages overlays configured overrides on the built-in table.
// Empty override fields keep the default.
func MergeLanguages(overrides map[string]LanguageSpec) (map[model.Language]LanguageSpec, error) {
	table := DefaultLanguages()
	for name, o := range overrides {
		lang, err := model.ParseLanguage(name)
		if err != nil {
			return nil, err
		}
		base := table[lang]
		if o.SourceFile != "" {
			base.SourceFile = o.SourceFile
		}
		if o.BinaryFile != "" {
			base.BinaryFile = o.BinaryFile
		}
		if o.CompileCmd != "" {
			base.CompileCmd = o.CompileCmd
		}
		if o.RunCmd != "" {
			base.RunCmd = o.RunCmd
		}
		if o.SkipAddressLimit {
			base.SkipAddressLimit = true
		}
		table[lang] = base
	}
	return table, nil
}

type templateVars struct {
	dir      string
	src      string
	bin      string
	memoryMB int64
}

func newTemplateVars(dir string, spec LanguageSpec, memoryLimitKB int64) templateVars {
	v := templateVars{
		dir: dir,
		src: filepath.Join(dir, spec.SourceFile),
	}
	if spec.BinaryFile != "" {
		v.bin = filepath.Join(dir, spec.BinaryFile)
	}
	if memoryLimitKB > 0 {
		v.memoryMB = (memoryLimitKB + 1023) / 1024
	}
	return v
}

// expandCommand splits a template and substitutes placeholders per argument,
// so paths containing spaces stay a single argument.
func expandCommand(template string, v templateVars) ([]string, error) {
	parts, err := shlex.Split(template)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", template, err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty command template")
	}
	mem := ""
	if v.memoryMB > 0 {
		mem = strconv.FormatInt(v.memoryMB, 10)
	}
	r := strings.NewReplacer("{src}", v.src, "{bin}", v.bin, "{dir}", v.dir, "{mem_mb}", mem)
	for i, p := range parts {
		parts[i] = r.Replace(p)
	}
	return parts, nil
}
