package conf

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as "30s" or "5m0s" in JSON and YAML.
// Config files and status payloads never carry raw nanosecond counts, but
// bare integers are still read as nanoseconds.
type Duration time.Duration

// Std returns the standard library value.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return d.Std().String() }

// parseDuration converts a decoded scalar into a Duration.
func parseDuration(v any) (Duration, error) {
	switch value := v.(type) {
	case nil:
		return 0, nil
	case string:
		if parsed, err := time.ParseDuration(value); err == nil {
			return Duration(parsed), nil
		}
		if nanos, err := strconv.ParseInt(value, 10, 64); err == nil {
			return Duration(nanos), nil
		}
		return 0, fmt.Errorf("invalid duration %q: expected a value like \"30s\" or \"5m\"", value)
	case int:
		return Duration(value), nil
	case int64:
		return Duration(value), nil
	case float64:
		return Duration(int64(value)), nil
	default:
		return 0, fmt.Errorf("invalid duration value %v (type %T)", v, v)
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a duration string, a number of nanoseconds or null.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := parseDuration(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar, got YAML kind %v", node.Kind)
	}
	parsed, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

var durationType = reflect.TypeFor[Duration]()

// DurationDecodeHook is passed to viper.Unmarshal. It fills Duration fields
// and keeps the stock handling of time.Duration and comma-separated lists.
func DurationDecodeHook() mapstructure.DecodeHookFunc {
	toDuration := func(_, to reflect.Type, data any) (any, error) {
		if to != durationType {
			return data, nil
		}
		switch data.(type) {
		case string, int, int64, float64:
			return parseDuration(data)
		}
		return data, nil
	}
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.DecodeHookFuncType(toDuration),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}
