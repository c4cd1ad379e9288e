package db

import (
	"errors"
	"fmt"

	"github.com/nauanbek/saqshy/internal/signal"
)

// ErrNotFound is returned by point lookups whose caller must distinguish a
// missing row from a failed query. Stores with a documented miss default
// (group profiles, trust records) return the default instead.
var ErrNotFound = errors.New("not found")

// ValidateProfile checks a profile row on both sides of the storage
// boundary. Sensitivity outside [1,10] clamps; an unknown group kind is a
// hard error because no weight tables exist for it.
func ValidateProfile(profile *signal.GroupProfile) error {
	if profile == nil {
		return errors.New("nil group profile")
	}
	if !signal.ValidKind(profile.Kind) {
		return fmt.Errorf("unknown group kind %q for chat %d", profile.Kind, profile.ChatID)
	}
	if profile.Sensitivity < 1 {
		profile.Sensitivity = 1
	}
	if profile.Sensitivity > 10 {
		profile.Sensitivity = 10
	}
	if profile.Language == "" {
		profile.Language = "en"
	}
	return nil
}
