// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package storage implements the drivers that persist finished recordings
// and the path-template engine they share.
package storage

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// PathTemplate renders a destination path from a pattern with embedded
// variables: "{source}", "{show}" and "{date}". A variable may carry the
// "|path_format" filter, which lowercases the value and strips everything
// but word characters (spaces become underscores first), e.g.
// "/srv/rec/{source}/{show|path_format}-{date}".
type PathTemplate struct {
	pattern  string
	segments []segment
}

type segment struct {
	literal string
	render  func(source, show string, now time.Time) string
}

var nonWord = regexp.MustCompile(`\W+`)
var whitespace = regexp.MustCompile(`\s+`)

// PathFormat sanitizes a name for use as a path component.
func PathFormat(s string) string {
	return strings.ToLower(nonWord.ReplaceAllString(whitespace.ReplaceAllString(s, "_"), ""))
}

// CompilePathTemplate parses the given pattern.
func CompilePathTemplate(pattern string) (*PathTemplate, error) {
	t := &PathTemplate{pattern: pattern}
	pos := 0

	for pos < len(pattern) {
		open := strings.Index(pattern[pos:], "{")
		if open < 0 {
			t.segments = append(t.segments, segment{literal: pattern[pos:]})
			break
		}
		open += pos
		if open > pos {
			t.segments = append(t.segments, segment{literal: pattern[pos:open]})
		}

		end := strings.Index(pattern[open:], "}")
		if end < 0 {
			return nil, fmt.Errorf("missing '}' after '{' at position %d", open)
		}
		end += open

		parts := strings.Split(pattern[open+1:end], "|")
		name, filters := parts[0], parts[1:]

		var render func(source, show string, now time.Time) string
		switch name {
		case "source":
			render = func(source, _ string, _ time.Time) string { return source }
		case "show":
			render = func(_, show string, _ time.Time) string { return show }
		case "date":
			render = func(_, _ string, now time.Time) string { return now.Format("2006-01-02") }
		default:
			return nil, fmt.Errorf("invalid path variable %q at position %d", name, open+1)
		}

		for _, filter := range filters {
			if filter != "path_format" {
				return nil, fmt.Errorf("unknown formatter %q at position %d", filter, open+1)
			}
			inner := render
			render = func(source, show string, now time.Time) string {
				return PathFormat(inner(source, show, now))
			}
		}

		t.segments = append(t.segments, segment{render: render})
		pos = end + 1
	}

	return t, nil
}

// Render fills the pattern for the given source and show at the current time.
func (t *PathTemplate) Render(source, show string) string {
	return t.RenderAt(source, show, time.Now())
}

// RenderAt fills the pattern with an explicit time for the {date} variable.
func (t *PathTemplate) RenderAt(source, show string, now time.Time) string {
	var b strings.Builder
	for _, seg := range t.segments {
		if seg.render != nil {
			b.WriteString(seg.render(source, show, now))
		} else {
			b.WriteString(seg.literal)
		}
	}
	return b.String()
}

// String returns the original pattern.
func (t *PathTemplate) String() string { return t.pattern }
