package services

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/charlesng35/foodbridge/pkg/errors"
	"github.com/charlesng35/foodbridge/pkg/validator"
)

const (
	defaultPageSize = 25
	maxPageSize     = 100
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func normaliseIDs(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// escapeLike quotes LIKE wildcards for a pattern used with ESCAPE '!'.
func escapeLike(term string) string {
	return likeEscaper.Replace(term)
}

func defaultIfEmpty(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func runeLen(value string) int {
	return utf8.RuneCountInString(value)
}

func utcNow(now func() time.Time) time.Time {
	return now().UTC()
}

func validateInput(input any) error {
	if err := validator.ValidateStruct(input); err != nil {
		return apperrors.NewBadRequest(err.Error())
	}
	return nil
}
