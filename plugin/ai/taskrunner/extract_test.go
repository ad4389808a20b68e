package taskrunner

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		found bool
	}{
		{"plain", `{"a":1}`, `{"a":1}`, true},
		{"surrounded", "Here you go:\n{\"a\":1}\nthanks", `{"a":1}`, true},
		{"nested", `x {"a":{"b":2}} {"c":3}`, `{"a":{"b":2}}`, true},
		{"brace in string", `{"a":"}{"}`, `{"a":"}{"}`, true},
		{"escaped quote", `{"a":"say \"}\""}`, `{"a":"say \"}\""}`, true},
		{"unbalanced then balanced", `{ oops {"a":1}`, `{"a":1}`, true},
		{"none", "no json here", "", false},
		{"unterminated", `{"a":1`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractJSON(tt.input)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePayload(t *testing.T) {
	t.Run("CorrectsType", func(t *testing.T) {
		payload, corrected, err := parsePayload(`{"type":"emotion","emotion":"sad"}`, TaskEmotionClassification)
		require.NoError(t, err)
		assert.True(t, corrected)

		var got EmotionResult
		require.NoError(t, json.Unmarshal(payload, &got))
		assert.Equal(t, TaskEmotionClassification, got.Type)
		assert.Equal(t, "sad", got.Emotion)
	})

	t.Run("AddsMissingType", func(t *testing.T) {
		payload, corrected, err := parsePayload(`{"intent":"question"}`, TaskIntentRecognition)
		require.NoError(t, err)
		assert.True(t, corrected)
		assert.True(t, strings.Contains(string(payload), `"type":"intent_recognition"`))
	})

	t.Run("MatchingTypeUntouched", func(t *testing.T) {
		_, corrected, err := parsePayload(`{"type":"insight_generation","insights":[]}`, TaskInsightGeneration)
		require.NoError(t, err)
		assert.False(t, corrected)
	})

	t.Run("UnwrapsAgentEnvelope", func(t *testing.T) {
		out := `{"type":"result","is_error":false,"result":"Sure!\n{\"type\":\"emotion_classification\",\"emotion\":\"anxious\"}"}`
		payload, corrected, err := parsePayload(out, TaskEmotionClassification)
		require.NoError(t, err)
		assert.False(t, corrected)

		var got EmotionResult
		require.NoError(t, json.Unmarshal(payload, &got))
		assert.Equal(t, "anxious", got.Emotion)
	})

	t.Run("EnvelopeWithoutObject", func(t *testing.T) {
		_, _, err := parsePayload(`{"type":"result","is_error":false,"result":"I am not sure."}`, TaskEmotionClassification)
		assert.ErrorIs(t, err, ErrNoJSON)
	})

	t.Run("EnvelopeWithInvalidObject", func(t *testing.T) {
		_, _, err := parsePayload(`{"type":"result","result":"{emotion: sad}"}`, TaskEmotionClassification)
		assert.Error(t, err)
	})

	t.Run("EnvelopeReportsError", func(t *testing.T) {
		out := `{"type":"result","is_error":true,"result":"I cannot help with that."}`
		payload, corrected, err := parsePayload(out, TaskEmotionClassification)
		assert.ErrorIs(t, err, ErrAgentReported)
		assert.Contains(t, err.Error(), "I cannot help with that.")
		assert.Nil(t, payload)
		assert.False(t, corrected)
	})

	t.Run("NoJSON", func(t *testing.T) {
		_, _, err := parsePayload("nothing", TaskMemoryRetrieval)
		assert.ErrorIs(t, err, ErrNoJSON)
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		_, _, err := parsePayload(`{not json}`, TaskMemoryRetrieval)
		assert.Error(t, err)
	})
}

func TestBuildPrompt(t *testing.T) {
	p, err := BuildPrompt(Task{Type: TaskIntentRecognition, UserID: "u1", Input: "why is the sky blue?"})
	require.NoError(t, err)
	assert.Contains(t, p, "TASK: intent_recognition")
	assert.Contains(t, p, "why is the sky blue?")
	assert.NotContains(t, p, "Recent conversation")

	p, err = BuildPrompt(Task{Type: TaskMemoryRetrieval, Input: "hi", Context: map[string]string{"history": "user: earlier"}})
	require.NoError(t, err)
	assert.Contains(t, p, "Recent conversation:\nuser: earlier")

	_, err = BuildPrompt(Task{Type: "unknown"})
	assert.Error(t, err)
}
