package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInputSource(t *testing.T) {
	src, err := ParseInputSource("context.topic")
	require.NoError(t, err)
	assert.Equal(t, ContextField("topic"), src)

	src, err = ParseInputSource("2.summary")
	require.NoError(t, err)
	assert.Equal(t, StepField(2, "summary"), src)
	assert.Equal(t, "2.summary", src.String())

	for _, bad := range []string{"", "summary", "x.summary", "-1.summary", "0."} {
		src, err := ParseInputSource(bad)
		assert.Error(t, err, bad)
		assert.False(t, src.Valid(), bad)
	}
}

func TestWorkflowStep_DecodesBothMappingForms(t *testing.T) {
	payload := `{
		"agent_name": "writer",
		"task_type": "draft",
		"depends_on": ["0"],
		"input_mapping": {
			"outline": "0.outline",
			"tone": {"source": "context", "field": "tone"},
			"broken": "nonsense"
		}
	}`

	var step WorkflowStep
	require.NoError(t, json.Unmarshal([]byte(payload), &step))

	assert.Equal(t, StepField(0, "outline"), step.InputMapping["outline"])
	assert.Equal(t, ContextField("tone"), step.InputMapping["tone"])
	assert.False(t, step.InputMapping["broken"].Valid())
	assert.Equal(t, "nonsense", step.InputMapping["broken"].String())
}

func TestTaskStatus(t *testing.T) {
	assert.True(t, TaskStatusCancelled.IsTerminal())
	assert.False(t, TaskStatusProcessing.IsTerminal())
	assert.False(t, TaskStatus("queued").IsValid())
}
