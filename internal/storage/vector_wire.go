package storage

import (
	"encoding/json"

	"github.com/Aman-CERP/vecdb/internal/vdbcommon"
)

func toWire(v vdbcommon.Vector) (walVectorWire, error) {
	wire := walVectorWire{ID: v.ID, Data: v.Data}
	if v.Metadata != nil {
		raw, err := json.Marshal(v.Metadata)
		if err != nil {
			return walVectorWire{}, &vdbcommon.SerializationError{Message: "marshaling vector metadata", Err: err}
		}
		wire.MetadataRaw = raw
	}
	return wire, nil
}

func fromWire(w walVectorWire) (vdbcommon.Vector, error) {
	v := vdbcommon.Vector{ID: w.ID, Data: w.Data}
	if len(w.MetadataRaw) > 0 {
		if err := json.Unmarshal(w.MetadataRaw, &v.Metadata); err != nil {
			return vdbcommon.Vector{}, &vdbcommon.SerializationError{Message: "unmarshaling vector metadata", Err: err}
		}
	}
	return v, nil
}

func toWireSlice(vs []vdbcommon.Vector) ([]walVectorWire, error) {
	out := make([]walVectorWire, len(vs))
	for i, v := range vs {
		wire, err := toWire(v)
		if err != nil {
			return nil, err
		}
		out[i] = wire
	}
	return out, nil
}

func fromWireSlice(ws []walVectorWire) ([]vdbcommon.Vector, error) {
	out := make([]vdbcommon.Vector, len(ws))
	for i, w := range ws {
		v, err := fromWire(w)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
