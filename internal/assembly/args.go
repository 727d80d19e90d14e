package assembly

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog/log"
)

// parseToolArgs turns accumulated argument fragments into a structured map.
// Streamed tool-call JSON is frequently truncated or mangled mid-flight, so
// parse failures are expected: try a direct parse, then the jsonrepair
// library, and fall back to an empty map rather than failing assembly.
func parseToolArgs(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil && args != nil {
		return args
	}

	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		log.Debug().Int("fragment_bytes", len(raw)).Msg("Tool args unrepairable, using empty args")
		return map[string]any{}
	}
	args = nil
	if err := json.Unmarshal([]byte(repaired), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}
