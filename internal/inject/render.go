package inject

import (
	"bytes"
	"html/template"
	"strings"

	"github.com/dgnsrekt/kwitch/internal/kick"
	"github.com/samber/lo"
)

// InitialVisible is the number of cards shown before the list is expanded.
const InitialVisible = 6

type cardView struct {
	Slug     string
	Name     string
	Avatar   string
	Href     string
	Summary  string
	Live     bool
	Subtitle string
	Viewers  string
	Hidden   bool
}

type panelView struct {
	Instance  string
	Collapsed bool
	Empty     bool
	Cards     []cardView
	Toggle    string
}

type tooltipView struct {
	Top   float64
	Left  float64
	Name  string
	Title string
	Meta  string
	Live  bool
}

var templates = template.Must(template.New("kwitch").Parse(`
{{- define "body" -}}
<div class="kwitch-section-header"><span>Kick Channels</span></div>
{{- if .Empty}}<div class="kwitch-empty">No channels</div>{{end -}}
{{- range .Cards}}
<a class="kwitch-channel{{if not .Live}} offline{{end}}{{if .Hidden}} kwitch-hidden{{end}}" href="{{.Href}}" data-slug="{{.Slug}}" title="{{.Summary}}">
<div class="kwitch-avatar-wrapper"><img src="{{.Avatar}}" alt="{{.Name}}" class="kwitch-avatar">{{if .Live}}<div class="kwitch-live-indicator"></div>{{end}}</div>
<div class="kwitch-channel-info"><div class="kwitch-channel-name">{{.Name}}</div><div class="kwitch-channel-game">{{.Subtitle}}</div></div>
{{- if .Live}}<div class="kwitch-viewer-count">{{.Viewers}}</div>{{end}}
</a>
{{- end}}
{{- if .Toggle}}
<button type="button" class="kwitch-toggle">{{.Toggle}}</button>
{{- end}}
{{- end -}}

{{- define "panel" -}}
<div class="kwitch-section{{if .Collapsed}} collapsed{{end}}" data-kwitch-instance="{{.Instance}}">{{template "body" .}}</div>
{{- end -}}

{{- define "tooltip" -}}
<div id="kwitch-tooltip" class="kwitch-tooltip" style="position: fixed; top: {{printf "%.0f" .Top}}px; left: {{printf "%.0f" .Left}}px;">
<div class="kwitch-tooltip-name">{{.Name}}</div>
{{- if .Title}}<div class="kwitch-tooltip-title">{{.Title}}</div>{{end}}
<div class="kwitch-tooltip-meta{{if .Live}} live{{end}}">{{.Meta}}</div>
</div>
{{- end -}}
`))

// visibleChannels applies the offline filter and the display order.
func visibleChannels(chs []kick.Channel, showOffline bool) []kick.Channel {
	if !showOffline {
		chs = lo.Filter(chs, func(c kick.Channel, _ int) bool { return c.IsLive })
	}
	return kick.SortChannels(chs)
}

func buildPanelView(instance string, chs []kick.Channel, showOffline, collapsed, expanded bool) panelView {
	visible := visibleChannels(chs, showOffline)
	v := panelView{
		Instance:  instance,
		Collapsed: collapsed,
		Empty:     len(visible) == 0,
	}
	for i, c := range visible {
		v.Cards = append(v.Cards, buildCard(c, !expanded && i >= InitialVisible))
	}
	if len(visible) > InitialVisible {
		v.Toggle = lo.Ternary(expanded, "Show less", "Show more")
	}
	return v
}

func buildCard(c kick.Channel, hidden bool) cardView {
	subtitle := lo.FromPtr(c.Category)
	if subtitle == "" {
		subtitle = lo.Ternary(c.IsLive, "Live", "Offline")
	}
	avatar := c.ProfilePic
	if avatar == "" {
		avatar = kick.DefaultAvatar(c.Slug)
	}
	return cardView{
		Slug:     c.Slug,
		Name:     c.DisplayName,
		Avatar:   avatar,
		Href:     kick.WatchURL(c.Slug),
		Summary:  c.Summary(),
		Live:     c.IsLive,
		Subtitle: subtitle,
		Viewers:  kick.FormatViewers(c.Viewers()),
		Hidden:   hidden,
	}
}

func render(name string, data any) string {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return ""
	}
	return buf.String()
}

// RenderPanel returns the full panel element.
func RenderPanel(instance string, chs []kick.Channel, showOffline, collapsed, expanded bool) string {
	return render("panel", buildPanelView(instance, chs, showOffline, collapsed, expanded))
}

// RenderBody returns the panel's inner content.
func RenderBody(chs []kick.Channel, showOffline, expanded bool) string {
	return render("body", buildPanelView("", chs, showOffline, false, expanded))
}

// RenderTooltip returns the hover overlay for a channel positioned at top/left.
func RenderTooltip(c kick.Channel, top, left float64) string {
	meta := "Offline"
	if c.IsLive {
		parts := []string{}
		if cat := lo.FromPtr(c.Category); cat != "" {
			parts = append(parts, cat)
		}
		parts = append(parts, kick.FormatViewers(c.Viewers())+" viewers")
		meta = strings.Join(parts, " · ")
	}
	return render("tooltip", tooltipView{
		Top:   top,
		Left:  left,
		Name:  c.DisplayName,
		Title: lo.FromPtr(c.Title),
		Meta:  meta,
		Live:  c.IsLive,
	})
}
