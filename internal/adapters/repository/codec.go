package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/okian/psyche/internal/domain/model"
	"github.com/okian/psyche/pkg/logger"
	"github.com/okian/psyche/pkg/metrics"
)

func encodeProfile(state *model.ProfileState, indent bool) ([]byte, error) {
	if state == nil {
		return nil, ErrNilState
	}
	if indent {
		return json.MarshalIndent(state, "", "  ")
	}
	return json.Marshal(state)
}

// decodeProfile returns (nil, nil) for undecodable data after logging it.
func decodeProfile(ctx context.Context, log logger.Logger, backend, userID string, data []byte) *model.ProfileState {
	var state model.ProfileState
	if err := json.Unmarshal(data, &state); err != nil {
		log.Warn(ctx, "corrupt profile treated as absent",
			logger.String("backend", backend), logger.String("user_id", userID), logger.Error(err))
		metrics.RecordCorruptProfile(backend)
		return nil
	}
	state.EnsureMaps()
	if state.UserID == "" {
		state.UserID = userID
	}
	return &state
}

func encodeRecord(rec model.EventRecord) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (model.EventRecord, error) {
	var rec model.EventRecord
	err := json.Unmarshal(data, &rec)
	return rec, err
}

// observe records latency and, on failure, an error count for one store operation.
func observe(backend, op string, start time.Time, err error) {
	metrics.RecordStoreLatency(backend, op, float64(time.Since(start).Microseconds())/1000)
	if err != nil {
		metrics.RecordStoreError(backend, op)
	}
}

func storageErr(op, userID string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrStorage, op, userID, err)
}
