package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlattenSettings(t *testing.T) {
	out := make(map[string]string)
	flattenSettings("", map[string]interface{}{
		"lock-timeout": "30s",
		"procedures": map[string]interface{}{
			"converter": "hirni-dicom-converter",
			"heudiconv": map[string]interface{}{"call-format": "heudiconv {bids-subject}"},
		},
		"dicom2spec": map[string]interface{}{
			"rules": []interface{}{"code/rules/a.py", "code/rules/b.py"},
		},
	}, out)

	assert.Equal(t, map[string]string{
		"lock-timeout":                     "30s",
		"procedures.converter":             "hirni-dicom-converter",
		"procedures.heudiconv.call-format": "heudiconv {bids-subject}",
		"dicom2spec.rules":                 "code/rules/a.py, code/rules/b.py",
	}, out)
}

func TestPrintConfigList(t *testing.T) {
	var buf bytes.Buffer
	printConfigList(&buf, map[string]string{"nats.url": "", "json": "false"})
	assert.Equal(t, "Configuration:\n  json = false\n  nats.url = \n", buf.String())
}
