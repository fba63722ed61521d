package model

// Settings are operator-editable runtime values persisted in the store.
type Settings struct {
	FocusDomains []string `json:"focus_domains"`
}
