package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// jsonDuration decodes a duration from either a Go duration string ("3s",
// "720h") or an integer count of nanoseconds. YAML decodes durations from
// strings natively; this gives JSON files the same form.
type jsonDuration time.Duration

func (d *jsonDuration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = jsonDuration(v)
		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("duration must be a string like \"3s\" or integer nanoseconds, got %s", data)
	}
	*d = jsonDuration(n)
	return nil
}

// UnmarshalJSON decodes the generator section, accepting duration strings.
func (g *GeneratorConfig) UnmarshalJSON(data []byte) error {
	type plain GeneratorConfig
	aux := struct {
		*plain
		Window *jsonDuration `json:"window"`
	}{
		plain:  (*plain)(g),
		Window: (*jsonDuration)(&g.Window),
	}
	return json.Unmarshal(data, &aux)
}

// UnmarshalJSON decodes the processor section, accepting duration strings.
func (p *ProcessorConfig) UnmarshalJSON(data []byte) error {
	type plain ProcessorConfig
	aux := struct {
		*plain
		BatchDelay *jsonDuration `json:"batch_delay"`
		SlowBatch  *jsonDuration `json:"slow_batch"`
		SlowRun    *jsonDuration `json:"slow_run"`
	}{
		plain:      (*plain)(p),
		BatchDelay: (*jsonDuration)(&p.BatchDelay),
		SlowBatch:  (*jsonDuration)(&p.SlowBatch),
		SlowRun:    (*jsonDuration)(&p.SlowRun),
	}
	return json.Unmarshal(data, &aux)
}
