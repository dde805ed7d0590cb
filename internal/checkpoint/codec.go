package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/Morlock52/psscript-sub005/internal/types"
)

// SchemaVersion is the checkpoint serialization format version. Decoding
// rejects checkpoints written by a newer version; older versions within the
// supported range are upgraded by filling missing fields with defaults at
// unmarshal time.
const SchemaVersion = 1

// envelope wraps the serialized workflow state with version and integrity
// information.
type envelope struct {
	Version  int             `json:"version"`
	Checksum string          `json:"checksum"`
	State    json.RawMessage `json:"state"`
}

// Encode serializes a workflow state value into a versioned envelope with a
// SHA-256 checksum over the state bytes.
func Encode(state any) ([]byte, error) {
	if state == nil {
		return nil, types.NewError(types.CHECKPOINT_FAILED, "workflow state cannot be nil")
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return nil, types.WrapError(types.CHECKPOINT_FAILED, "failed to marshal workflow state", err)
	}

	data, err := json.Marshal(envelope{
		Version:  SchemaVersion,
		Checksum: checksum(stateJSON),
		State:    stateJSON,
	})
	if err != nil {
		return nil, types.WrapError(types.CHECKPOINT_FAILED, "failed to marshal checkpoint envelope", err)
	}
	return data, nil
}

// Decode validates an envelope and returns the raw state JSON.
func Decode(data []byte) (json.RawMessage, error) {
	if len(data) == 0 {
		return nil, types.NewError(types.CHECKPOINT_CORRUPT, "checkpoint data is empty")
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, types.WrapError(types.CHECKPOINT_CORRUPT, "failed to unmarshal checkpoint envelope", err)
	}

	if env.Version > SchemaVersion {
		return nil, types.NewError(types.CHECKPOINT_INCOMPATIBLE,
			fmt.Sprintf("checkpoint version %d is newer than supported version %d", env.Version, SchemaVersion))
	}
	if env.Version < 1 {
		return nil, types.NewError(types.CHECKPOINT_INCOMPATIBLE,
			fmt.Sprintf("checkpoint version %d is not supported", env.Version))
	}

	if len(env.State) == 0 {
		return nil, types.NewError(types.CHECKPOINT_CORRUPT, "checkpoint state field is empty")
	}
	if env.Checksum == "" {
		return nil, types.NewError(types.CHECKPOINT_CORRUPT, "checkpoint checksum is missing")
	}
	if computed := checksum(env.State); computed != env.Checksum {
		return nil, types.NewError(types.CHECKPOINT_CORRUPT,
			fmt.Sprintf("checksum mismatch: expected %s, got %s", env.Checksum, computed))
	}

	return env.State, nil
}

func checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
