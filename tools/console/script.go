package main

import (
	"strings"
)

// scanner accumulates input lines and yields complete statements. A
// statement ends at a ';' outside quotes, brackets and date literals.
type scanner struct {
	buf strings.Builder
}

// feed adds a line and returns the statements it completed.
func (s *scanner) feed(line string) []string {
	if s.buf.Len() > 0 {
		s.buf.WriteByte('\n')
	}
	s.buf.WriteString(line)

	text := s.buf.String()
	var (
		out   []string
		start int
		quote byte
	)
	for i := 0; i < len(text); i++ {
		ch := text[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '\'' || ch == '"' || ch == '#':
			quote = ch
		case ch == '[':
			quote = ']'
		case ch == ';':
			if stmt := strings.TrimSpace(text[start:i]); stmt != "" {
				out = append(out, stmt)
			}
			start = i + 1
		}
	}
	rest := text[start:]
	s.buf.Reset()
	if strings.TrimSpace(rest) != "" {
		s.buf.WriteString(rest)
	}
	return out
}

// pending reports whether an unterminated statement is buffered.
func (s *scanner) pending() bool {
	return s.buf.Len() > 0
}

// flush returns the buffered statement, if any, and clears it.
func (s *scanner) flush() string {
	stmt := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	return stmt
}

// command recognizes console commands, which need no terminating ';'.
func command(line string) (string, []string, bool) {
	fields := strings.Fields(strings.TrimSuffix(strings.TrimSpace(line), ";"))
	if len(fields) == 0 {
		return "", nil, false
	}
	name := strings.ToLower(fields[0])
	switch name {
	case "quit", "exit", "begin", "commit", "rollback", "autocommit", "tables", "help":
		// BEGIN TRANSACTION lands here too and is treated as begin.
		return name, fields[1:], true
	}
	return "", nil, false
}
