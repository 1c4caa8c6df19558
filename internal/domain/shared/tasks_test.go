package shared

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTask_DecodePayload(t *testing.T) {
	payload, err := json.Marshal(CheckModuleEnrolmentsPayload{ModuleID: "module-a", UserID: "u1"})
	require.NoError(t, err)

	task := Task{ID: "t1", Type: TaskCheckModuleEnrolments, Payload: payload}

	var decoded CheckModuleEnrolmentsPayload
	require.NoError(t, task.DecodePayload(&decoded))
	assert.Equal(t, "module-a", decoded.ModuleID)
	assert.Equal(t, "u1", decoded.UserID)
}

func TestTask_DecodePayload_Empty(t *testing.T) {
	task := Task{ID: "t1", Type: TaskReconcileCourse}

	var decoded ReconcileCoursePayload
	err := task.DecodePayload(&decoded)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestTask_DecodePayload_Garbage(t *testing.T) {
	task := Task{
		ID:      "t1",
		Type:    TaskCheckModuleEnrolment,
		Payload: json.RawMessage(`{"module_id": 42`),
	}

	var decoded CheckModuleEnrolmentPayload
	err := task.DecodePayload(&decoded)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}
