package kick

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/samber/lo"
)

// Channel is the normalized status of one Kick channel at the time of a poll.
// Collections of channels are replaced as a whole each cycle.
type Channel struct {
	Slug        string  `json:"slug"`
	DisplayName string  `json:"displayName"`
	ProfilePic  string  `json:"profilePic"`
	IsLive      bool    `json:"isLive"`
	Title       *string `json:"title,omitempty"`
	ViewerCount *int    `json:"viewerCount,omitempty"`
	Category    *string `json:"category,omitempty"`
	LastUpdated int64   `json:"lastUpdated"`
}

// Viewers returns the viewer count, or zero when unknown.
func (c Channel) Viewers() int {
	return lo.FromPtr(c.ViewerCount)
}

// Summary is the one-line hover text for a channel card.
func (c Channel) Summary() string {
	if !c.IsLive {
		return fmt.Sprintf("%s - Offline", c.DisplayName)
	}
	title := lo.FromPtr(c.Title)
	if title == "" {
		title = "Live"
	}
	return fmt.Sprintf("%s - %s (%s viewers)", c.DisplayName, title, FormatViewers(c.Viewers()))
}

// Placeholder returns the entry shown for a watched slug before any status
// for it has been fetched.
func Placeholder(slug string) Channel {
	return Channel{Slug: slug, DisplayName: slug}
}

// SameSlug reports whether two channel identities refer to the same channel.
func SameSlug(a, b string) bool {
	return strings.EqualFold(a, b)
}

// DefaultAvatar returns the generated avatar used when a channel has no picture.
func DefaultAvatar(slug string) string {
	name := strings.ReplaceAll(url.QueryEscape(slug), "+", "%20")
	return "https://ui-avatars.com/api/?name=" + name + "&background=00e701&color=fff&size=64"
}

// WatchURL is the public channel page.
func WatchURL(slug string) string {
	return "https://kick.com/" + url.PathEscape(slug)
}

// ChatURL is the standalone chat popout for a channel.
func ChatURL(slug string) string {
	return "https://kick.com/popout/" + url.PathEscape(slug) + "/chat"
}

// FormatViewers renders a viewer count: counts of a thousand or more use one
// decimal and a K suffix.
func FormatViewers(n int) string {
	if n <= 0 {
		return "0"
	}
	if n >= 1000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%d", n)
}

// SortChannels returns a copy ordered live first, then by display name
// ascending (case-insensitive). Equal keys keep their input order.
func SortChannels(in []Channel) []Channel {
	out := slices.Clone(in)
	slices.SortStableFunc(out, func(a, b Channel) int {
		if a.IsLive != b.IsLive {
			if a.IsLive {
				return -1
			}
			return 1
		}
		return strings.Compare(strings.ToLower(a.DisplayName), strings.ToLower(b.DisplayName))
	})
	return out
}

// UniqueBySlug drops later entries whose slug matches an earlier one.
func UniqueBySlug(in []Channel) []Channel {
	return lo.UniqBy(in, func(c Channel) string {
		return strings.ToLower(c.Slug)
	})
}

// LiveCount counts live channels.
func LiveCount(in []Channel) int {
	return lo.CountBy(in, func(c Channel) bool { return c.IsLive })
}
