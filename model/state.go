package model

import "time"

// FormData wraps the live document. RequestData is nil before a template has
// been selected.
type FormData struct {
	RequestData *RequestData `json:"requestData,omitempty"`
}

// FormState is one immutable snapshot of the wizard. Readers must treat the
// slices and the document it references as read-only; the store replaces them
// instead of mutating them.
type FormState struct {
	FormData         FormData      `json:"formData"`
	AvailableSchemas []RequestData `json:"availableSchemas"`
	SchemasLoaded    bool          `json:"schemasLoaded"`
	IsLoading        bool          `json:"isLoading"`
	Errors           []string      `json:"errors"`
	IsCompleted      bool          `json:"isCompleted"`
}

// InitialFormState returns the snapshot a fresh or reset store publishes.
func InitialFormState() FormState {
	return FormState{
		AvailableSchemas: []RequestData{},
		Errors:           []string{},
	}
}

// SaveStatus is the state of a field auto-save pipeline.
type SaveStatus string

const (
	SaveIdle   SaveStatus = "idle"
	SaveSaving SaveStatus = "saving"
	SaveSaved  SaveStatus = "saved"
	SaveError  SaveStatus = "error"
)

// SaveState is what an editing surface shows about its background saves.
type SaveState struct {
	Status    SaveStatus `json:"status"`
	Message   string     `json:"message,omitempty"`
	LastSaved time.Time  `json:"lastSaved,omitzero"`
}

// AutoSaveConfig controls the auto-save pipeline of an editing surface.
type AutoSaveConfig struct {
	Enabled          bool          `json:"enabled"`
	DebounceInterval time.Duration `json:"debounceInterval"`
	RetryAttempts    int           `json:"retryAttempts"`
}

// DefaultAutoSaveConfig returns the stock auto-save settings.
func DefaultAutoSaveConfig() AutoSaveConfig {
	return AutoSaveConfig{
		Enabled:          true,
		DebounceInterval: 2 * time.Second,
		RetryAttempts:    2,
	}
}
