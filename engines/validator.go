package engines

import (
	"log/slog"
	"strings"

	"github.com/abadojack/whatlanggo"
)

// validatorSampleSize is how many leading results the validator inspects
// for structure and language.
const validatorSampleSize = 3

// validatorMinSampleLen is the minimum sample text length before language
// detection is trusted at all.
const validatorMinSampleLen = 50

// Validator rejects result sets that are structurally broken or that a
// backend silently served from the wrong locale instead of erroring.
type Validator struct {
	logger *slog.Logger
}

// NewValidator builds a validator. logger may be nil.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{logger: logger}
}

// Validate reports whether the result set looks trustworthy for the given
// query. Empty sets fail; the first few results must carry title, url and
// snippet; a reliable language mismatch between query and results fails.
// Unreliable detection never fails validation.
func (v *Validator) Validate(results []Result, query string) bool {
	if len(results) == 0 {
		return false
	}

	for _, r := range results[:min(validatorSampleSize, len(results))] {
		if r.Title == "" || r.URL == "" || r.Snippet == "" {
			return false
		}
	}

	var b strings.Builder
	for _, r := range results[:min(validatorSampleSize, len(results))] {
		b.WriteString(r.Title)
		b.WriteString(" ")
		b.WriteString(r.Snippet)
		b.WriteString(" ")
	}
	sample := b.String()
	if len(sample) < validatorMinSampleLen {
		return true
	}

	queryInfo := whatlanggo.Detect(query)
	sampleInfo := whatlanggo.Detect(sample)
	if !queryInfo.IsReliable() || !sampleInfo.IsReliable() {
		return true
	}
	if queryInfo.Lang != sampleInfo.Lang {
		v.logger.Warn("engines: result language mismatch",
			"query_lang", queryInfo.Lang.String(),
			"result_lang", sampleInfo.Lang.String())
		return false
	}
	return true
}
