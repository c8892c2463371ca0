// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathFormat(t *testing.T) {
	assert.Equal(t, "morning_show", PathFormat("Morning Show"))
	assert.Equal(t, "drivetime", PathFormat("Drive-Time!"))
	assert.Equal(t, "fm4", PathFormat("FM4"))
}

func TestPathTemplateRender(t *testing.T) {
	day := time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC)

	cases := []struct {
		pattern string
		want    string
	}{
		{"/srv/rec/{source}/{show}", "/srv/rec/FM4/Morning Show"},
		{"/srv/rec/{source}/{show|path_format}-{date}", "/srv/rec/FM4/morning_show-2026-03-02"},
		{"{source|path_format}/{date}/{show|path_format}", "fm4/2026-03-02/morning_show"},
		{"/plain/literal", "/plain/literal"},
	}
	for _, c := range cases {
		tmpl, err := CompilePathTemplate(c.pattern)
		require.NoError(t, err, c.pattern)
		assert.Equal(t, c.want, tmpl.RenderAt("FM4", "Morning Show", day), c.pattern)
		assert.Equal(t, c.pattern, tmpl.String())
	}
}

func TestCompilePathTemplateErrors(t *testing.T) {
	cases := map[string]string{
		"/rec/{source":          "missing '}'",
		"/rec/{studio}":         `invalid path variable "studio"`,
		"/rec/{show|uppercase}": `unknown formatter "uppercase"`,
	}
	for pattern, want := range cases {
		_, err := CompilePathTemplate(pattern)
		assert.ErrorContains(t, err, want, pattern)
	}
}
