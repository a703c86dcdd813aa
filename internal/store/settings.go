package store

// Position names where the panel sits inside the host navigation.
const (
	PositionAboveFollowed    = "above_followed"
	PositionBelowFollowed    = "below_followed"
	PositionBelowLive        = "below_live"
	PositionBelowRecommended = "below_recommended"
)

// Settings are the user preferences, always read merged over the defaults.
type Settings struct {
	PollingIntervalSeconds int    `json:"pollingIntervalSeconds"`
	EmbedEnabled           bool   `json:"embedEnabled"`
	PopoutEnabled          bool   `json:"popoutEnabled"`
	ShowOfflineChannels    bool   `json:"showOfflineChannels"`
	PanelPosition          string `json:"panelPosition"`
}

func DefaultSettings() Settings {
	return Settings{
		PollingIntervalSeconds: 60,
		EmbedEnabled:           true,
		PopoutEnabled:          true,
		ShowOfflineChannels:    true,
		PanelPosition:          PositionAboveFollowed,
	}
}

// SettingsPatch is a partial settings record. Nil fields keep their current value.
type SettingsPatch struct {
	PollingIntervalSeconds *int    `json:"pollingIntervalSeconds,omitempty"`
	EmbedEnabled           *bool   `json:"embedEnabled,omitempty"`
	PopoutEnabled          *bool   `json:"popoutEnabled,omitempty"`
	ShowOfflineChannels    *bool   `json:"showOfflineChannels,omitempty"`
	PanelPosition          *string `json:"panelPosition,omitempty"`
}

// Apply returns base with every non-nil field of p written over it.
func (p SettingsPatch) Apply(base Settings) Settings {
	if p.PollingIntervalSeconds != nil && *p.PollingIntervalSeconds > 0 {
		base.PollingIntervalSeconds = *p.PollingIntervalSeconds
	}
	if p.EmbedEnabled != nil {
		base.EmbedEnabled = *p.EmbedEnabled
	}
	if p.PopoutEnabled != nil {
		base.PopoutEnabled = *p.PopoutEnabled
	}
	if p.ShowOfflineChannels != nil {
		base.ShowOfflineChannels = *p.ShowOfflineChannels
	}
	if p.PanelPosition != nil && ValidPosition(*p.PanelPosition) {
		base.PanelPosition = *p.PanelPosition
	}
	return base
}

// ValidPosition reports whether pos is a known panel position.
func ValidPosition(pos string) bool {
	switch pos {
	case PositionAboveFollowed, PositionBelowFollowed, PositionBelowLive, PositionBelowRecommended:
		return true
	}
	return false
}
