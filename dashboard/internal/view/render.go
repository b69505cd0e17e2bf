package view

import (
	"embed"
	"html/template"
	"io"

	"github.com/dustin/go-humanize"

	"github.com/abdalla-omar/perkmanager/pkg/api/client"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.New("view").Funcs(template.FuncMap{
	"endsIn":      func(d client.Date) string { return humanize.Time(d.Time) },
	"memberships": func() []string { return client.Memberships },
	"products":    func() []string { return client.Products },
}).ParseFS(templateFS, "templates/*.html"))

// perkItem is one rendered perk. Keyed items carry the perk-{id} element ids;
// copies elsewhere on the page are matched through data-for.
type perkItem struct {
	Perk   client.Perk
	Keyed  bool
	CanAdd bool
}

type perkGroup struct {
	Name  string
	Items []perkItem
}

type mineData struct {
	Groups []perkGroup
}

type listData struct {
	Listing string
	Items   []perkItem
}

type pageData struct {
	State   State
	Notices []Notice
	Mine    mineData
	Global  listData
}

func globalList(s State) listData {
	items := make([]perkItem, 0, len(s.Perks))
	for _, p := range s.Perks {
		items = append(items, perkItem{Perk: p, Keyed: true, CanAdd: s.CanAdd(p.ID)})
	}
	return listData{Listing: s.Listing, Items: items}
}

func userPerks(s State) mineData {
	var groups []perkGroup
	add := func(name string, perks []client.Perk) {
		if len(perks) == 0 {
			return
		}
		items := make([]perkItem, 0, len(perks))
		for _, p := range perks {
			items = append(items, perkItem{Perk: p})
		}
		groups = append(groups, perkGroup{Name: name, Items: items})
	}
	switch s.Mine.Kind {
	case client.MatchingBucketed:
		for _, name := range s.Mine.BucketNames() {
			add(name, s.Mine.Buckets[name])
		}
	default:
		add(client.OwnedBucket, s.Mine.Flat)
	}
	return mineData{Groups: groups}
}

// RenderPage writes the full document for s. Notices are rendered from s.Notices.
func RenderPage(w io.Writer, s State) error {
	return templates.ExecuteTemplate(w, "page", pageData{
		State:   s,
		Notices: s.Notices,
		Mine:    userPerks(s),
		Global:  globalList(s),
	})
}

// RenderVotes writes the perk-{id}-votes and perk-{id}-net elements for p.
func RenderVotes(w io.Writer, p client.Perk) error {
	return templates.ExecuteTemplate(w, "votes", perkItem{Perk: p, Keyed: true})
}

// RenderPerkList writes the #allPerks region.
func RenderPerkList(w io.Writer, s State) error {
	return templates.ExecuteTemplate(w, "perkList", globalList(s))
}

// RenderUserPerks writes the #userPerks region.
func RenderUserPerks(w io.Writer, s State) error {
	return templates.ExecuteTemplate(w, "userPerks", userPerks(s))
}

// RenderNotices writes the #notices region.
func RenderNotices(w io.Writer, notices []Notice) error {
	return templates.ExecuteTemplate(w, "notices", notices)
}
