package metadata

import (
	"encoding/json"
	"os"

	"github.com/JustinTDCT/ListVault/internal/log"
	"github.com/JustinTDCT/ListVault/internal/models"
)

// defaultOverrides pins the classification of titles the popularity heuristic
// gets wrong, usually a series sharing its name with a better-known film or
// the other way round. Keys are normalized titles.
var defaultOverrides = map[string]models.Kind{
	"fargo":                  models.KindSeries,
	"westworld":              models.KindSeries,
	"shogun":                 models.KindSeries,
	"the office":             models.KindSeries,
	"hannibal":               models.KindSeries,
	"snowpiercer":            models.KindMovie,
	"the thing":              models.KindMovie,
	"dune":                   models.KindMovie,
	"watchmen":               models.KindSeries,
	"scenes from a marriage": models.KindSeries,
}

// LoadOverrides merges the override file at path over the built-in table.
// A missing file is not an error; a malformed one logs a warning and keeps
// the defaults.
func LoadOverrides(path string) map[string]models.Kind {
	merged := make(map[string]models.Kind, len(defaultOverrides))
	for k, v := range defaultOverrides {
		merged[k] = v
	}
	if path == "" {
		return merged
	}

	logger := log.WithComponent("metadata")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn().Err(err).Str("path", path).Msg("override file unreadable")
		}
		return merged
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("override file malformed")
		return merged
	}
	for title, kind := range raw {
		switch models.Kind(kind) {
		case models.KindMovie, models.KindSeries:
			merged[Normalize(title)] = models.Kind(kind)
		default:
			logger.Warn().Str("title", title).Str("kind", kind).Msg("override has unknown kind")
		}
	}
	return merged
}
