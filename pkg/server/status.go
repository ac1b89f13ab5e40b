package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/raterudder/powerbox/pkg/coordinator"
	"github.com/raterudder/powerbox/pkg/powerbox"
	"github.com/raterudder/powerbox/pkg/types"
)

type statusResponse struct {
	Realtime coordinator.Status `json:"realtime"`
	Config   coordinator.Status `json:"config"`
	Client   powerbox.Stats     `json:"client"`
}

func (s *Server) status() statusResponse {
	return statusResponse{
		Realtime: s.realtime.Status(),
		Config:   s.config.Status(),
		Client:   s.device.Stats(),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.status())
}

func (s *Server) handleMeterValue(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("model")
	field := r.PathValue("field")
	reading, ok := s.realtime.GetMeterReading(model, field)
	if !ok {
		writeJSONError(w, "meter value not available", http.StatusNotFound)
		return
	}

	// numbers stay numbers, text readings such as a tariff come back as strings
	var value any = reading.Value
	if reading.IsText() {
		value = reading.Text
	}
	writeJSON(w, struct {
		Model     string `json:"model"`
		Field     string `json:"field"`
		Value     any    `json:"value"`
		Timestamp int64  `json:"timestamp"`
		Stale     bool   `json:"stale"`
	}{
		Model:     model,
		Field:     field,
		Value:     value,
		Timestamp: reading.Timestamp,
		Stale:     s.realtime.Status().Stale,
	})
}

func (s *Server) handleConfigValue(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	v, ok := s.config.GetConfigValue(key)
	if !ok {
		writeJSONError(w, "config value not available", http.StatusNotFound)
		return
	}
	writeJSON(w, struct {
		Key   string `json:"key"`
		Value string `json:"value"`
		Stale bool   `json:"stale"`
	}{
		Key:   key,
		Value: v,
		Stale: s.config.Status().Stale,
	})
}

// redactKeys are field names whose values never leave the process.
var redactKeys = map[string]bool{
	"password":      true,
	"username":      true,
	"id_token":      true,
	"token":         true,
	"serial_number": true,
}

var redactedJSON = json.RawMessage(`"` + types.Redacted + `"`)

func redactConfigs(configs types.ConfigSnapshot) types.ConfigSnapshot {
	out := make(types.ConfigSnapshot, len(configs))
	for key, rec := range configs {
		if redactKeys[strings.ToLower(rec.ConfigName)] {
			rec.Value = types.Redacted
		}
		if len(rec.Metadata) > 0 {
			md := make(map[string]json.RawMessage, len(rec.Metadata))
			for k, v := range rec.Metadata {
				if redactKeys[strings.ToLower(k)] {
					v = redactedJSON
				}
				md[k] = v
			}
			rec.Metadata = md
		}
		out[key] = rec
	}
	return out
}

type diagnosticsResponse struct {
	Credentials types.Credentials    `json:"credentials"`
	Status      statusResponse       `json:"status"`
	Meters      types.MeterSnapshot  `json:"meters"`
	Configs     types.ConfigSnapshot `json:"configs"`
}

// handleDiagnostics dumps everything the poller knows with credentials and
// device identifiers redacted.
func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	meters := s.realtime.Snapshot()
	redacted := make(types.MeterSnapshot, len(meters))
	for model, m := range meters {
		if m.Serial != "" {
			m.Serial = types.Redacted
		}
		redacted[model] = m
	}

	writeJSON(w, diagnosticsResponse{
		Credentials: s.device.Credentials().Redacted(),
		Status:      s.status(),
		Meters:      redacted,
		Configs:     redactConfigs(s.config.Snapshot()),
	})
}
