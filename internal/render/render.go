// Package render turns status events into notification text.
package render

import (
	"github.com/osteele/liquid"
	"github.com/pkg/errors"

	"github.com/skrattaren/onex-track/internal/models"
)

type Renderer struct {
	engine *liquid.Engine
}

func New() *Renderer {
	return &Renderer{engine: liquid.NewEngine()}
}

// Message renders the event's template over its fields.
func (r *Renderer) Message(ev models.StatusEvent) (string, error) {
	bindings := make(map[string]interface{}, len(ev.Fields))
	for k, v := range ev.Fields {
		bindings[k] = v
	}
	out, err := r.engine.ParseAndRenderString(ev.Template, bindings)
	if err != nil {
		return "", errors.Wrapf(err, "render message for %s", ev.Number)
	}
	return out, nil
}
