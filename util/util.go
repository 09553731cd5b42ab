package util

import (
	"encoding/json"

	"github.com/autom8ter/chronicle/errors"
	"github.com/ghodss/yaml"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/copystructure"
	"github.com/mitchellh/mapstructure"
)

var validate = validator.New()

// ValidateStruct validates the struct against its `validate` tags
func ValidateStruct(val any) error {
	return errors.Wrap(validate.Struct(val), errors.Validation, "")
}

// Decode decodes the input into the output based on json tags
func Decode(input any, output any) error {
	config := &mapstructure.DecoderConfig{
		WeaklyTypedInput:     true,
		Result:               output,
		TagName:              "json",
		IgnoreUntaggedFields: true,
		DecodeHook:           mapstructure.StringToTimeDurationHookFunc(),
	}
	decoder, err := mapstructure.NewDecoder(config)
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// YAMLToJSON converts yaml content to json. JSON content is returned as is.
func YAMLToJSON(yamlContent []byte) ([]byte, error) {
	if isJSON(string(yamlContent)) {
		return yamlContent, nil
	}
	return yaml.YAMLToJSON(yamlContent)
}

func JSONToYAML(jsonContent []byte) ([]byte, error) {
	return yaml.JSONToYAML(jsonContent)
}

func isJSON(str string) bool {
	var js json.RawMessage
	return json.Unmarshal([]byte(str), &js) == nil
}

// DeepCopy copies a decoded json value (maps, slices and scalars)
func DeepCopy(value any) any {
	return copystructure.Must(copystructure.Copy(value))
}

// CopyMap deep copies a json object
func CopyMap(value map[string]any) map[string]any {
	if value == nil {
		return nil
	}
	return DeepCopy(value).(map[string]any)
}

// Normalize round trips the input through json so that it only contains generic json values
// (map[string]any, []any, float64, string, bool, nil)
func Normalize(input any) (any, error) {
	bits, err := json.Marshal(input)
	if err != nil {
		return nil, errors.Wrap(err, errors.Validation, "failed to json encode value")
	}
	var output any
	if err := json.Unmarshal(bits, &output); err != nil {
		return nil, errors.Wrap(err, errors.Validation, "failed to json decode value")
	}
	return output, nil
}
