package powerbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/raterudder/powerbox/pkg/log"
	"github.com/raterudder/powerbox/pkg/types"
)

func decodeList(raw json.RawMessage, endpoint string) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: %s response is not a list", ErrProtocol, endpoint)
	}
	var list []json.RawMessage
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", ErrProtocol, endpoint, err)
	}
	return list, nil
}

// ParseMeters normalizes a GET /meters body into a snapshot. A body that is
// not a JSON list is an error; malformed elements inside the list are skipped.
func ParseMeters(ctx context.Context, raw json.RawMessage) (types.MeterSnapshot, error) {
	list, err := decodeList(raw, EndpointMeters)
	if err != nil {
		return nil, err
	}

	snap := make(types.MeterSnapshot, len(list))
	for i, item := range list {
		var rec types.MeterRecord
		if err := json.Unmarshal(item, &rec); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping malformed meter", slog.Int("index", i), slog.Any("error", err))
			continue
		}
		if rec.Model == "" {
			log.Ctx(ctx).WarnContext(ctx, "skipping meter without model", slog.Int("index", i))
			continue
		}

		values := make(map[string]types.MeterValue, len(rec.Values))
		for j, item := range rec.Values {
			var vr types.MeterValueRecord
			if err := json.Unmarshal(item, &vr); err != nil {
				log.Ctx(ctx).WarnContext(ctx, "skipping malformed meter value", slog.String("model", rec.Model), slog.Int("index", j), slog.Any("error", err))
				continue
			}
			v, err := vr.Normalize()
			if err != nil {
				log.Ctx(ctx).DebugContext(ctx, "skipping meter value", slog.String("model", rec.Model), slog.Int("index", j), slog.Any("error", err))
				continue
			}
			values[vr.Name] = v
		}

		snap[rec.Model] = types.Meter{
			Connected:    bool(rec.Connected),
			ID:           string(rec.ID),
			Manufacturer: rec.Manufacturer,
			Serial:       rec.Serial,
			Values:       values,
		}
	}

	log.Ctx(ctx).DebugContext(ctx, "parsed powerbox meters", slog.Int("meters", len(snap)))
	return snap, nil
}

// ParseConfigs normalizes a GET /configs body into a snapshot keyed by
// "{module_name}.{config_name}".
func ParseConfigs(ctx context.Context, raw json.RawMessage) (types.ConfigSnapshot, error) {
	list, err := decodeList(raw, EndpointConfigs)
	if err != nil {
		return nil, err
	}

	snap := make(types.ConfigSnapshot, len(list))
	for i, item := range list {
		var rec types.ConfigRecord
		if err := json.Unmarshal(item, &rec); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping malformed config", slog.Int("index", i), slog.Any("error", err))
			continue
		}
		if rec.ModuleName == "" && rec.ConfigName == "" {
			log.Ctx(ctx).WarnContext(ctx, "skipping config without module or name", slog.Int("index", i))
			continue
		}
		snap[rec.Key()] = rec
	}

	log.Ctx(ctx).DebugContext(ctx, "parsed powerbox configs", slog.Int("configs", len(snap)))
	return snap, nil
}
