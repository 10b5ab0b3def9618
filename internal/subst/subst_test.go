package subst

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psychoinformatics-de/hirni/internal/types"
)

func mustSnippet(t *testing.T, s string) *types.Snippet {
	t.Helper()
	var snip types.Snippet
	require.NoError(t, json.Unmarshal([]byte(s), &snip))
	return &snip
}

const acquisitionSnippet = `{
	"type": "dicomseries",
	"location": "dicoms/series-003",
	"subject": {"value": "001", "approved": true},
	"anon-subject": {"value": "x7f2", "approved": false},
	"bids-session": {"value": "pre", "approved": true},
	"bids-run": {"value": 2, "approved": false},
	"description": "T1w MPRAGE",
	"procedures": [{"procedure-name": {"value": "hirni-dicom-converter"}}]
}`

func TestBuildFlattensSnippet(t *testing.T) {
	snip := mustSnippet(t, acquisitionSnippet)

	ctx, err := Build(snip, "acq1/studyspec.json", false)
	require.NoError(t, err)

	want := map[string]string{
		"type":         "dicomseries",
		"location":     "acq1/dicoms/series-003",
		"bids-subject": "001",
		"bids-session": "pre",
		"bids-run":     "2",
		"description":  "T1w MPRAGE",
	}
	got := make(map[string]string)
	for _, k := range ctx.Keys() {
		v, ok := ctx.Get(k)
		require.True(t, ok, k)
		got[k] = v
	}
	assert.Equal(t, want, got)
	assert.Equal(t, []string{"bids-subject", "bids-session", "bids-run", "description", "location", "type"}, ctx.Keys())

	_, hasProcedures := ctx.Get("procedures")
	assert.False(t, hasProcedures, "procedures must not be substitutable")
}

func TestBuildSubjectFollowsAnonymize(t *testing.T) {
	snip := mustSnippet(t, acquisitionSnippet)

	plain, err := Build(snip, "acq1/studyspec.json", false)
	require.NoError(t, err)
	anon, err := Build(snip, "acq1/studyspec.json", true)
	require.NoError(t, err)
	again, err := Build(snip, "acq1/studyspec.json", false)
	require.NoError(t, err)

	v, _ := plain.Get(KeyBIDSSubject)
	assert.Equal(t, "001", v)
	v, _ = anon.Get(KeyBIDSSubject)
	assert.Equal(t, "x7f2", v)
	v, _ = again.Get(KeyBIDSSubject)
	assert.Equal(t, "001", v, "switching back must not keep the anonymized subject")

	_, ok := anon.Get(KeySubject)
	assert.False(t, ok)
	_, ok = anon.Get(KeyAnonSubject)
	assert.False(t, ok)
}

func TestBuildMissingSubjectVariant(t *testing.T) {
	snip := mustSnippet(t, `{"subject": {"value": "001"}}`)

	ctx, err := Build(snip, "studyspec.json", true)
	require.NoError(t, err)
	_, ok := ctx.Get(KeyBIDSSubject)
	assert.False(t, ok, "no anon-subject means no bids-subject when anonymizing")
}

func TestBuildLocation(t *testing.T) {
	tests := []struct {
		name     string
		specPath string
		location string
		want     string
	}{
		{"acquisition dir", "acq1/studyspec.json", "dicoms", "acq1/dicoms"},
		{"spec at root", "studyspec.json", "acq1/dicoms", "acq1/dicoms"},
		{"parent reference", "acq1/studyspec.json", "../shared", "shared"},
		{"absolute", "acq1/studyspec.json", "/data/dicoms", "/data/dicoms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snip := mustSnippet(t, `{"location": "`+tt.location+`"}`)
			ctx, err := Build(snip, tt.specPath, false)
			require.NoError(t, err)
			got, _ := ctx.Get("location")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildRejectsUnderscoreKeys(t *testing.T) {
	snip := mustSnippet(t, `{"bids_run": {"value": "1"}}`)

	_, err := Build(snip, "studyspec.json", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidKey))
	assert.Contains(t, err.Error(), "bids_run")
}

func TestCheckKey(t *testing.T) {
	valid := []string{"bids-session", "description", "t1w", "a-b-c"}
	invalid := []string{"bids_run", "a.b", "", "-lead", "trail-", "double--hyphen", "with space"}

	for _, k := range valid {
		assert.NoError(t, CheckKey(k), k)
	}
	for _, k := range invalid {
		assert.Error(t, CheckKey(k), k)
	}
}

func TestOverlay(t *testing.T) {
	snip := mustSnippet(t, acquisitionSnippet)
	ctx, err := Build(snip, "acq1/studyspec.json", true)
	require.NoError(t, err)

	env := ctx.Overlay("acq1/studyspec.json", true)

	assert.Equal(t, "x7f2", env["DATALAD_RUN_SUBSTITUTIONS_BIDS__SUBJECT"])
	assert.Equal(t, "pre", env["DATALAD_RUN_SUBSTITUTIONS_BIDS__SESSION"])
	assert.Equal(t, "acq1/dicoms/series-003", env["DATALAD_RUN_SUBSTITUTIONS_LOCATION"])
	assert.Equal(t, "acq1/studyspec.json", env["DATALAD_RUN_SUBSTITUTIONS_SPECPATH"])
	assert.Equal(t, "True", env["DATALAD_RUN_SUBSTITUTIONS_ANONYMIZE"])

	for k := range env {
		assert.False(t, strings.Contains(strings.TrimPrefix(k, EnvPrefix), "."), "overlay key %s contains a dot", k)
	}

	subs := env.Substitutions()
	assert.Equal(t, "x7f2", subs["bids-subject"])
	assert.Equal(t, "acq1/studyspec.json", subs["specpath"])
}

func TestEnvWithIsCopyOnWrite(t *testing.T) {
	base := Env{"A": "1"}
	over := base.WithCallFormat("heudiconv", "heudiconv -s {bids-subject}")

	_, leaked := base.CallFormat("heudiconv")
	assert.False(t, leaked, "override must not leak into the base overlay")

	call, ok := over.CallFormat("heudiconv")
	require.True(t, ok)
	assert.Equal(t, "heudiconv -s {bids-subject}", call)
	assert.Equal(t, "1", over["A"])
	assert.Equal(t, "DATALAD.PROCEDURES.heudiconv.CALL-FORMAT", CallFormatKey("heudiconv"))
}

func TestEnviron(t *testing.T) {
	base := []string{"PATH=/usr/bin", "DATALAD_RUN_SUBSTITUTIONS_SPECPATH=stale", "HOME=/root"}
	env := Env{"DATALAD_RUN_SUBSTITUTIONS_SPECPATH": "acq1/studyspec.json", "B": "2"}

	got := env.Environ(base)

	assert.Equal(t, []string{
		"PATH=/usr/bin",
		"HOME=/root",
		"B=2",
		"DATALAD_RUN_SUBSTITUTIONS_SPECPATH=acq1/studyspec.json",
	}, got)
	assert.Equal(t, "DATALAD_RUN_SUBSTITUTIONS_SPECPATH=stale", base[1], "base environment must not change")
}

func TestExpand(t *testing.T) {
	values := map[string]string{"bids-subject": "001", "location": "acq1/dicoms"}

	got := Expand("heudiconv -s {bids-subject} -d {location}/{unknown}", values)
	assert.Equal(t, "heudiconv -s 001 -d acq1/dicoms/{unknown}", got)
}
