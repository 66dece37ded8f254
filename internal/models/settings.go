package models

// SettingsCollection holds one settings document per account.
const SettingsCollection = "userSettings"

// Settings is the per-account preferences document.
type Settings struct {
	ID       string `bson:"_id,omitempty" json:"id"`
	DarkMode *bool  `bson:"darkMode,omitempty" json:"darkMode,omitempty"`
}

// SettingsID returns the settings document key for an account.
func SettingsID(accountID string) string {
	return accountID + "_user"
}

// DarkModeOrDefault returns the stored preference, true when unset.
func (s Settings) DarkModeOrDefault() bool {
	if s.DarkMode == nil {
		return true
	}
	return *s.DarkMode
}
