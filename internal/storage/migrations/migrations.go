package migrations

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// Migration is one embedded schema file.
type Migration struct {
	Version string // numeric file prefix, e.g. "002"
	Name    string // file name
	SQL     string
}

// Load returns the non-empty .sql files under dir ordered by file name.
func Load(fsys fs.FS, dir string) ([]Migration, error) {
	names, err := fs.Glob(fsys, path.Join(dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("list %s migrations: %w", dir, err)
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		base := path.Base(name)
		version, _, ok := strings.Cut(base, "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: name must start with a version prefix", base)
		}
		out = append(out, Migration{Version: version, Name: base, SQL: string(data)})
	}
	return out, nil
}

// SplitStatements breaks a script into single statements on top-level
// semicolons. Quoted text and -- comments are respected.
func SplitStatements(script string) []string {
	var (
		stmts   []string
		cur     strings.Builder
		quote   byte
		comment bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(script); i++ {
		ch := script[i]
		switch {
		case comment:
			if ch == '\n' {
				comment = false
				cur.WriteByte(ch)
			}
		case quote != 0:
			cur.WriteByte(ch)
			if ch == '\\' && i+1 < len(script) {
				i++
				cur.WriteByte(script[i])
			} else if ch == quote {
				quote = 0
			}
		case ch == '-' && i+1 < len(script) && script[i+1] == '-':
			comment = true
			i++
		case ch == '\'' || ch == '"' || ch == '`':
			quote = ch
			cur.WriteByte(ch)
		case ch == ';':
			flush()
		default:
			cur.WriteByte(ch)
		}
	}
	flush()
	return stmts
}
