package wire

import (
	"encoding/json"
	"fmt"

	"github.com/nmxmxh/sporemesh/errs"
)

// Encode marshals any wire record to its JSON wire form.
func Encode(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode wire payload: %w", err)
	}
	return b, nil
}

// DecodeEnergyStatus decodes a status-topic payload.
func DecodeEnergyStatus(b []byte) (EnergyStatus, error) {
	var v EnergyStatus
	if err := json.Unmarshal(b, &v); err != nil {
		return EnergyStatus{}, fmt.Errorf("%w: energy status: %v", errs.DecodeFailure, err)
	}
	return v, nil
}

// DecodeControlEnvelope decodes a control-topic payload.
func DecodeControlEnvelope(b []byte) (ControlEnvelope, error) {
	var v ControlEnvelope
	if err := json.Unmarshal(b, &v); err != nil {
		return ControlEnvelope{}, fmt.Errorf("%w: control envelope: %v", errs.DecodeFailure, err)
	}
	return v, nil
}

// DecodeTask decodes a task-topic payload.
func DecodeTask(b []byte) (Task, error) {
	var v Task
	if err := json.Unmarshal(b, &v); err != nil {
		return Task{}, fmt.Errorf("%w: task: %v", errs.DecodeFailure, err)
	}
	return v, nil
}

// DecodeSpike decodes a spike-topic payload.
func DecodeSpike(b []byte) (Spike, error) {
	var v Spike
	if err := json.Unmarshal(b, &v); err != nil {
		return Spike{}, fmt.Errorf("%w: spike: %v", errs.DecodeFailure, err)
	}
	return v, nil
}

// DecodeSyncMessage decodes a state-topic payload.
func DecodeSyncMessage(b []byte) (SyncMessage, error) {
	var v SyncMessage
	if err := json.Unmarshal(b, &v); err != nil {
		return SyncMessage{}, fmt.Errorf("%w: sync message: %v", errs.DecodeFailure, err)
	}
	return v, nil
}
