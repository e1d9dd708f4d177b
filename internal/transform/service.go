package transform

import (
	"encoding/json"

	"github.com/rs/zerolog"
)

// Service converts payloads between vendor formats and the canonical shape,
// driven by the configured field maps. It is stateless beyond its map table
// and safe for shared use.
type Service struct {
	maps map[mapKey]*FieldMap
	log  zerolog.Logger
}

func NewService(maps map[mapKey]*FieldMap, log zerolog.Logger) *Service {
	if maps == nil {
		maps = DefaultFieldMaps()
	}
	return &Service{maps: maps, log: log.With().Str("component", "transform").Logger()}
}

// Transform converts sourceData according to ctx. Shape problems are always
// reported through the result, never raised.
//
// Accepted source shapes: map[string]interface{}, raw JSON bytes, or for the
// HL7 formats a raw message as []byte or string.
func (s *Service) Transform(sourceData interface{}, ctx Context) Result {
	res := Result{}

	if ctx.Direction == DirectionOutbound {
		// Outbound payloads must be complete enough to write back.
		ctx.Options.StrictMode = true
	}

	source, ok := s.coerceSource(sourceData, ctx, &res)
	if !ok {
		return res
	}

	var data map[string]interface{}
	switch {
	case ctx.Direction == DirectionInbound && ctx.SourceFormat == FormatHL7v2:
		raw, ok := rawBytes(sourceData)
		if !ok {
			res.addError("", "HL7 source must be raw message bytes")
			return res
		}
		data = hl7Inbound(raw, ctx.ResourceType, ctx.Options, &res)

	case ctx.Direction == DirectionOutbound && ctx.TargetFormat == FormatHL7v2:
		data = hl7Outbound(source, ctx.ResourceType, &res)

	case ctx.Direction == DirectionInbound:
		fm, ok := s.fieldMap(ctx, &res)
		if !ok {
			return res
		}
		data = fm.applyInbound(source, ctx.Options, &res)
		if len(res.Errors) == 0 && ctx.Options.ValidateOutput {
			fm.validate(data, DirectionInbound, &res)
		}

	default:
		fm, ok := s.fieldMap(ctx, &res)
		if !ok {
			return res
		}
		data = fm.applyOutbound(source, ctx.Options, &res)
		if len(res.Errors) == 0 && ctx.Options.ValidateOutput {
			fm.validate(data, DirectionOutbound, &res)
		}
	}

	res.Success = len(res.Errors) == 0
	if res.Success {
		res.Data = data
	}
	if !res.Success {
		s.log.Debug().
			Str("provider", string(ctx.Provider)).
			Str("resource_type", string(ctx.ResourceType)).
			Str("direction", string(ctx.Direction)).
			Int("errors", len(res.Errors)).
			Msg("transform failed")
	}
	return res
}

func (s *Service) fieldMap(ctx Context, res *Result) (*FieldMap, bool) {
	fm, ok := s.maps[mapKey{Provider: ctx.Provider, Resource: ctx.ResourceType}]
	if !ok {
		res.addError("", "no field map configured for provider %s resource %s", ctx.Provider, ctx.ResourceType)
		return nil, false
	}
	return fm, true
}

// coerceSource normalizes the accepted input shapes to a map. HL7 sources
// skip this; they stay raw.
func (s *Service) coerceSource(sourceData interface{}, ctx Context, res *Result) (map[string]interface{}, bool) {
	if ctx.Direction == DirectionInbound && ctx.SourceFormat == FormatHL7v2 {
		return nil, true
	}
	switch src := sourceData.(type) {
	case map[string]interface{}:
		return src, true
	case []byte:
		var m map[string]interface{}
		if err := json.Unmarshal(src, &m); err != nil {
			res.addError("", "decode source JSON: %v", err)
			return nil, false
		}
		return m, true
	case nil:
		res.addError("", "source data is nil")
		return nil, false
	default:
		res.addError("", "unsupported source type %T", sourceData)
		return nil, false
	}
}

func rawBytes(v interface{}) ([]byte, bool) {
	switch t := v.(type) {
	case []byte:
		return t, true
	case string:
		return []byte(t), true
	}
	return nil, false
}
