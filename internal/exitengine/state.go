package exitengine

import (
	"encoding/json"
)

// State is the per-position runtime state of one exit template. Concrete
// variants are selected by the template name so the engine stays pluggable
// without an untyped field bag.
type State interface {
	template() string
}

// PriceActionState tracks the price_action template's consecutive profitable
// bars and its tighten-only trailing stop.
type PriceActionState struct {
	ProfitableBars int     `json:"profitable_bars"`
	TrailingActive bool    `json:"trailing_active"`
	TrailingStop   float64 `json:"trailing_stop"`
}

func (PriceActionState) template() string { return TemplatePriceAction }

// SimpleState is the empty state shared by the threshold-only templates.
type SimpleState struct{}

func (SimpleState) template() string { return TemplateSimple }

type stateEnvelope struct {
	Template string          `json:"template"`
	State    json.RawMessage `json:"state"`
}

// EncodeState serializes a state for the ledger's per-position state column.
func EncodeState(s State) (string, error) {
	if s == nil {
		return "", nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(stateEnvelope{Template: s.template(), State: raw})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// DecodeState restores a serialized state. An empty, corrupt or mismatched
// payload yields a fresh state for the template, so a template switch on a
// live position restarts its state machine instead of failing.
func DecodeState(template, payload string) State {
	fresh := newState(template)
	if payload == "" {
		return fresh
	}
	var env stateEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return fresh
	}
	if _, ok := fresh.(PriceActionState); ok && env.Template == TemplatePriceAction {
		var s PriceActionState
		if err := json.Unmarshal(env.State, &s); err != nil {
			return fresh
		}
		return s
	}
	return fresh
}

func newState(template string) State {
	if resolveTemplate(template) == TemplatePriceAction {
		return PriceActionState{}
	}
	return SimpleState{}
}
