package storedkey

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"Quarterly Report.PDF", "Quarterly_Report.pdf"},
		{"../../etc/passwd.csv", "passwd.csv"},
		{`C:\Users\me\budget.xlsx`, "budget.xlsx"},
		{"..pdf", "file.pdf"},
		{"a..b.doc", "a.b.doc"},
		{"name\x00with\x01ctrl.csv", "namewithctrl.csv"},
		{"rapport été.docx", "rapport_été.docx"},
		{"noext", "noext"},
		{"", "file"},
		{"...", "file"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := SanitizeName(tt.in)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, ValidateKey(got))
		})
	}
}

func TestSanitizeNameTruncatesStem(t *testing.T) {
	got := SanitizeName(strings.Repeat("a", 300) + ".pdf")
	assert.Equal(t, strings.Repeat("a", maxStemLength)+".pdf", got)
}

func TestExtension(t *testing.T) {
	assert.Equal(t, ".pdf", Extension("Report.PDF"))
	assert.Equal(t, ".csv", Extension("dir/sub/data.csv"))
	assert.Equal(t, ".exe", Extension(`dir\tool.exe`))
	assert.Equal(t, "", Extension("README"))
	assert.Equal(t, ".gz", Extension("archive.tar.gz"))
}

func TestAllowList(t *testing.T) {
	allow := NewAllowList(DefaultAllowedExtensions...)

	for _, name := range []string{"a.pdf", "a.doc", "a.docx", "a.xls", "a.xlsx", "a.csv", "UPPER.PDF"} {
		assert.True(t, allow.Allows(name), name)
	}
	for _, name := range []string{"a.exe", "a.pdf.exe", "pdf", "a.", "a.txt", ""} {
		assert.False(t, allow.Allows(name), name)
	}

	custom := NewAllowList("TXT", " .md ", "")
	assert.True(t, custom.Allows("notes.txt"))
	assert.True(t, custom.Allows("README.md"))
	assert.False(t, custom.Allows("a.pdf"))
}

func TestValidateKey(t *testing.T) {
	valid := []string{"1715938200000-42-report.pdf", "a", "file.name.csv"}
	for _, key := range valid {
		assert.NoError(t, ValidateKey(key), key)
	}

	assert.ErrorIs(t, ValidateKey(""), ErrEmptyKey)

	invalid := []string{
		"../../etc/passwd",
		"..",
		"a/../b",
		"dir/file.pdf",
		`dir\file.pdf`,
		"/etc/passwd",
		"a\x00b",
		strings.Repeat("k", maxKeyLength+1),
	}
	for _, key := range invalid {
		assert.ErrorIs(t, ValidateKey(key), ErrTraversal, key)
	}
}

func TestTimestampGenerator(t *testing.T) {
	now := time.UnixMilli(1715938200123)
	g := NewTimestampGenerator()
	pattern := regexp.MustCompile(`^1715938200123-(\d+)-report\.pdf$`)

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		key := g.GenerateKey("report.pdf", now)
		m := pattern.FindStringSubmatch(key)
		require.NotNil(t, m, key)
		assert.LessOrEqual(t, len(m[1]), 10)
		seen[key] = true
	}
	// 1000 draws from 1e9+1 values collide with negligible probability.
	assert.Greater(t, len(seen), 990)
}

func TestUUIDGenerator(t *testing.T) {
	now := time.UnixMilli(1715938200123)
	g := NewUUIDGenerator()
	pattern := regexp.MustCompile(`^1715938200123-[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}-data\.csv$`)

	a := g.GenerateKey("data.csv", now)
	b := g.GenerateKey("data.csv", now)
	assert.Regexp(t, pattern, a)
	assert.NotEqual(t, a, b)
	assert.NoError(t, ValidateKey(a))
}

func TestGeneratorFunc(t *testing.T) {
	var g Generator = GeneratorFunc(func(name string, now time.Time) string { return "fixed-" + name })
	assert.Equal(t, "fixed-a.pdf", g.GenerateKey("a.pdf", time.Now()))
	assert.IsType(t, &TimestampGenerator{}, NewRecommendedGenerator())
}
