package registry

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"

	"github.com/vinayprograms/callkit/errors"
)

// VoicePatch holds the voice fields present in a request. Nil means absent.
type VoicePatch struct {
	Style       *string
	Temperature *float64
}

// ConfigPatch holds the config fields present in a request. Nil means absent.
type ConfigPatch struct {
	Provider    *string
	STMCapacity *int
	Voice       *VoicePatch
}

// Apply merges the present fields over c. Top-level fields replace, voice
// fields merge individually.
func (p ConfigPatch) Apply(c Config) Config {
	if p.Provider != nil {
		c.Provider = *p.Provider
	}
	if p.STMCapacity != nil {
		c.STMCapacity = *p.STMCapacity
	}
	if p.Voice != nil {
		if p.Voice.Style != nil {
			c.Voice.Style = *p.Voice.Style
		}
		if p.Voice.Temperature != nil {
			c.Voice.Temperature = *p.Voice.Temperature
		}
	}
	return c
}

// Patch is a decoded create or update body.
type Patch struct {
	Type   *AgentType
	Config ConfigPatch
}

// CreateRequest is a decoded agent create body.
type CreateRequest struct {
	ID string
	Patch
}

// ParseCreate decodes an agent create body. Config fields may be nested
// under "config" or given flat at the top level; flat fields win.
func ParseCreate(raw []byte) (*CreateRequest, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}

	req := &CreateRequest{}
	if v, ok := fields["id"]; ok {
		if err := json.Unmarshal(v, &req.ID); err != nil {
			return nil, errors.InvalidInput("id must be a string")
		}
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		return nil, errors.InvalidInput("id is required")
	}

	p, err := parsePatch(fields)
	if err != nil {
		return nil, err
	}
	req.Patch = *p
	return req, nil
}

// ParsePatch decodes a partial update body.
func ParsePatch(raw []byte) (*Patch, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	return parsePatch(fields)
}

func decodeObject(raw []byte) (map[string]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, errors.InvalidInput("request body must be a JSON object", errors.WithCause(err))
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	return fields, nil
}

func parsePatch(fields map[string]json.RawMessage) (*Patch, error) {
	p := &Patch{}

	if v, ok := fields["type"]; ok {
		s, err := parseString("type", v)
		if err != nil {
			return nil, err
		}
		t := AgentType(s)
		if !t.Valid() {
			return nil, errors.UnprocessableConfig("type", "must be one of BaseAgent, VoiceAgent")
		}
		p.Type = &t
	}

	if v, ok := fields["config"]; ok {
		nested, err := parseObject("config", v)
		if err != nil {
			return nil, err
		}
		if err := p.Config.merge(nested); err != nil {
			return nil, err
		}
	}
	if err := p.Config.merge(fields); err != nil {
		return nil, err
	}
	return p, nil
}

// merge sets every config field present in obj, overriding earlier values.
func (p *ConfigPatch) merge(obj map[string]json.RawMessage) error {
	if v, ok := obj["provider"]; ok {
		s, err := parseString("provider", v)
		if err != nil {
			return err
		}
		p.Provider = &s
	}

	if v, ok := obj["stm_capacity"]; ok {
		n, err := parseInt("stm_capacity", v)
		if err != nil {
			return err
		}
		p.STMCapacity = &n
	}

	if v, ok := obj["voice"]; ok {
		voice, err := parseObject("voice", v)
		if err != nil {
			return err
		}
		if p.Voice == nil {
			p.Voice = &VoicePatch{}
		}
		if sv, ok := voice["style"]; ok {
			s, err := parseString("voice.style", sv)
			if err != nil {
				return err
			}
			p.Voice.Style = &s
		}
		if tv, ok := voice["temperature"]; ok {
			f, err := parseFloat("voice.temperature", tv)
			if err != nil {
				return err
			}
			p.Voice.Temperature = &f
		}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func parseObject(field string, raw json.RawMessage) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if isNull(raw) || json.Unmarshal(raw, &obj) != nil {
		return nil, errors.UnprocessableConfig(field, "must be an object")
	}
	return obj, nil
}

func parseString(field string, raw json.RawMessage) (string, error) {
	var s string
	if isNull(raw) || json.Unmarshal(raw, &s) != nil {
		return "", errors.UnprocessableConfig(field, "must be a string")
	}
	return s, nil
}

func parseFloat(field string, raw json.RawMessage) (float64, error) {
	var f float64
	if isNull(raw) || json.Unmarshal(raw, &f) != nil {
		return 0, errors.UnprocessableConfig(field, "must be a number")
	}
	return f, nil
}

// maxExactInt is the largest integer a float64 represents exactly.
const maxExactInt = 1 << 53

func parseInt(field string, raw json.RawMessage) (int, error) {
	var f float64
	if isNull(raw) || json.Unmarshal(raw, &f) != nil || f != math.Trunc(f) {
		return 0, errors.UnprocessableConfig(field, "must be an integer")
	}
	if math.Abs(f) > maxExactInt {
		return 0, errors.UnprocessableConfig(field, "is out of range")
	}
	return int(f), nil
}
