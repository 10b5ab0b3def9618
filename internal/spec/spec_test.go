package spec

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psychoinformatics-de/hirni/internal/dataset"
	"github.com/psychoinformatics-de/hirni/internal/types"
)

func setupDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".datalad"), 0750))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "acq1"), 0750))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "acq2"), 0750))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "acq1", "dicoms"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "acq1", "studyspec.json"), []byte("{}\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "acq1", "custom.json"), []byte("{}\n"), 0600))

	ds, err := dataset.Open(root)
	require.NoError(t, err)
	return ds
}

func TestResolve(t *testing.T) {
	ds := setupDataset(t)
	root := ds.Root()

	targets := Resolve(ds, []string{
		"acq1",
		filepath.Join(root, "acq1"),
		"acq1/custom.json",
		filepath.Join(root, "acq1", "custom.json"),
		"missing",
		"acq1/dicoms",
		"acq2",
	}, "studyspec.json")
	require.Len(t, targets, 7)

	assert.True(t, targets[0].OK())
	assert.Equal(t, filepath.Join(root, "acq1", "studyspec.json"), targets[0].Path)
	assert.Equal(t, "acq1/studyspec.json", targets[0].RelPath)

	assert.True(t, targets[1].OK())
	assert.Equal(t, "acq1/studyspec.json", targets[1].RelPath, "absolute input is recorded relative to the dataset")

	assert.True(t, targets[2].OK())
	assert.Equal(t, "acq1/custom.json", targets[2].RelPath)
	assert.Equal(t, "acq1/custom.json", targets[3].RelPath)

	require.False(t, targets[4].OK())
	assert.Equal(t, types.StatusImpossible, targets[4].Failure.Status)
	assert.Equal(t, ActionSpec2BIDS, targets[4].Failure.Action)
	assert.True(t, strings.HasSuffix(targets[4].Failure.Message, "missing not found"))

	require.False(t, targets[5].OK())
	assert.Contains(t, targets[5].Failure.Message, "is neither a specification file nor an acquisition directory")

	require.False(t, targets[6].OK(), "acquisition directory without a specification file")
	assert.Equal(t, filepath.Join(root, "acq2", "studyspec.json"), targets[6].Failure.Path)
	assert.Contains(t, targets[6].Failure.Message, "not found")
}

func TestResolveCustomFilename(t *testing.T) {
	ds := setupDataset(t)

	targets := Resolve(ds, []string{"acq1"}, "custom.json")
	require.Len(t, targets, 1)
	require.True(t, targets[0].OK())
	assert.Equal(t, "acq1/custom.json", targets[0].RelPath)
}

func TestReaderStreams(t *testing.T) {
	input := `{"type": "dicomseries", "location": "dicoms"}
{"type": "events_file", "procedures": []}

  {"type": "other"} {"type": "same-line"}
`
	r := NewReader(strings.NewReader(input), "studyspec.json")

	var got []string
	for {
		snip, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, snip.Type.String())
	}
	assert.Equal(t, []string{"dicomseries", "events_file", "other", "same-line"}, got)
}

func TestReaderMalformed(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		record int
	}{
		{"truncated object", "{\"type\": \"a\"}\n{\"type\": ", 2},
		{"garbage", "{}\nnot json\n", 2},
		{"not an object", "{}\n{}\n[1, 2]\n", 3},
		{"stray delimiter", "{}\n}\n", 2},
		{"scalar procedures", `{"procedures": "heudiconv"}`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(strings.NewReader(tt.input), "studyspec.json")
			var err error
			for err == nil {
				_, err = r.Next()
			}
			require.NotEqual(t, io.EOF, err)
			assert.True(t, errors.Is(err, ErrMalformed))

			var decErr *DecodeError
			require.True(t, errors.As(err, &decErr))
			assert.Equal(t, tt.record, decErr.Record)
			assert.Contains(t, err.Error(), "studyspec.json")
		})
	}
}

func TestStreamStopsEarly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "studyspec.json")
	require.NoError(t, os.WriteFile(path, []byte("{}\n{}\n{}\n"), 0600))

	n := 0
	for snip, err := range Stream(path) {
		require.NoError(t, err)
		require.NotNil(t, snip)
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestStreamMissingFile(t *testing.T) {
	var errs []error
	for _, err := range Stream(filepath.Join(t.TempDir(), "absent.json")) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.Error(t, errs[0])
}

func TestStreamKeepsFileOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "studyspec.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"type": "a"}`+"\n"+`{"type": "b"}`+"\n"), 0600))

	var got []string
	for snip, err := range Stream(path) {
		require.NoError(t, err)
		got = append(got, snip.Type.String())
	}
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestValidate(t *testing.T) {
	r := NewReader(strings.NewReader(`{
		"location": 3,
		"subject": {"value": "001"},
		"bids_run": {"value": "1"},
		"procedures": [
			{"procedure-call": {"value": "x"}},
			{"procedure-name": {"value": "hirni-dicom-converter"}, "once-per-acquisition": {"value": "yes"}},
			{"procedure-name": {"value": "copy"}, "once-per-acquisition": {"value": true}}
		]
	}`), "studyspec.json")
	snip, err := r.Next()
	require.NoError(t, err)

	problems := Validate(snip)
	require.Len(t, problems, 4)
	assert.True(t, HasErrors(problems))

	assert.Equal(t, SeverityError, problems[0].Severity)
	assert.Equal(t, "bids_run", problems[0].Key)
	assert.Equal(t, types.KeyLocation, problems[1].Key)
	assert.Equal(t, "procedures[0]", problems[2].Key)
	assert.Equal(t, "procedures[1]", problems[3].Key)
	assert.Contains(t, problems[3].Message, "not a boolean")
}

func TestValidateClean(t *testing.T) {
	r := NewReader(strings.NewReader(`{"type": "dicomseries", "location": "dicoms", "bids-run": {"value": 1}}`), "s")
	snip, err := r.Next()
	require.NoError(t, err)

	problems := Validate(snip)
	assert.Empty(t, problems)
	assert.False(t, HasErrors(problems))
}
