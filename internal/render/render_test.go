package render

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skrattaren/onex-track/internal/models"
)

func TestMessage(t *testing.T) {
	ev := models.StatusEvent{
		Number:   "T5",
		Label:    "tea",
		Template: "Посылка «{{ label }}» {{ dir }} {{ hub }}\n({{ date }}, № заказа {{ no }})",
		Fields: map[string]string{
			"label": "tea",
			"no":    "T5",
			"dir":   "прибыла в",
			"hub":   "Ереван",
			"date":  "2025-01-09 18:45:00",
		},
	}

	msg, err := New().Message(ev)
	require.NoError(t, err)
	require.Equal(t, "Посылка «tea» прибыла в Ереван\n(2025-01-09 18:45:00, № заказа T5)", msg)
}

func TestMessage_BadTemplate(t *testing.T) {
	ev := models.StatusEvent{
		Number:   "T1",
		Template: "{% if %}broken",
		Fields:   map[string]string{},
	}
	_, err := New().Message(ev)
	require.Error(t, err)
}
