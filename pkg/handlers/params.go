package handlers

import (
	"errors"
	"fmt"

	"github.com/aretw0/keel/pkg/domain"
	"github.com/mitchellh/mapstructure"
)

var errPatternAddress = errors.New("operation address must not contain wildcards")

// decodeParams decodes operation parameters into out. Inputs are weakly typed since they may
// arrive as JSON, YAML or CLI strings.
func decodeParams(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}

func concrete(addr domain.Address) error {
	if addr.IsPattern() {
		return fmt.Errorf("%s: %w", addr, errPatternAddress)
	}
	return nil
}

type attributeParams struct {
	Name  string `mapstructure:"name"`
	Value any    `mapstructure:"value"`
}

func (p attributeParams) validate() error {
	if p.Name == "" {
		return errors.New("parameter name is required")
	}
	return nil
}

type readParams struct {
	Recursive bool   `mapstructure:"recursive"`
	Name      string `mapstructure:"name"`
	ChildType string `mapstructure:"child-type"`
}

type compositeParams struct {
	Steps []domain.Operation `mapstructure:"steps"`
}

func compositeSteps(params map[string]any) ([]domain.Operation, error) {
	if ops, ok := params["steps"].([]domain.Operation); ok {
		return ops, nil
	}
	var p compositeParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return p.Steps, nil
}
