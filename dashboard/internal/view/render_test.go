package view

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/abdalla-omar/perkmanager/pkg/api/client"
)

func render(t *testing.T, s State) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, RenderPage(&buf, s))
	return buf.String()
}

func TestRenderPageShowsExactlyOneSection(t *testing.T) {
	public := render(t, State{}.WithUsers([]client.User{{ID: 1, Email: "a@example.com"}}))
	require.Contains(t, public, `id="publicSection"`)
	require.NotContains(t, public, `id="appSection"`)
	require.Contains(t, public, "a@example.com")

	app := render(t, loggedIn())
	require.Contains(t, app, `id="appSection"`)
	require.NotContains(t, app, `id="publicSection"`)
	require.Contains(t, app, `id="userProfile"`)
	require.Contains(t, app, `id="userPerks"`)
}

func TestRenderPageAddAffordance(t *testing.T) {
	st := loggedIn().
		WithPerks([]client.Perk{perk(1, 0, 0), perk(2, 0, 0)}, ListingAll).
		WithMatching(client.FlatMatching([]client.Perk{perk(1, 0, 0)}))
	out := render(t, st)
	require.NotContains(t, out, `id="perk-1-add"`)
	require.Contains(t, out, `id="perk-2-add"`)

	anonymous := render(t, State{}.WithPerks([]client.Perk{perk(1, 0, 0)}, ListingAll))
	require.NotContains(t, anonymous, `perk-1-add`)
	require.Contains(t, anonymous, `id="perk-1"`)
}

func TestRenderPageKeysOnlyGlobalList(t *testing.T) {
	st := loggedIn().
		WithPerks([]client.Perk{perk(5, 1, 0)}, ListingAll).
		WithMatching(client.FlatMatching([]client.Perk{perk(5, 1, 0)}))
	out := render(t, st)
	require.Equal(t, 1, bytes.Count([]byte(out), []byte(`id="perk-5-votes"`)))
	require.Equal(t, 2, bytes.Count([]byte(out), []byte(`data-for="perk-5-votes"`)))
}

func TestRenderPageHeadingFollowsListing(t *testing.T) {
	require.Contains(t, render(t, State{}.WithPerks(nil, ListingTop)), "Top perks")
	require.Contains(t, render(t, State{}), "All perks")
}

func TestRenderVotesFragment(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderVotes(&buf, perk(5, 3, 4)))
	out := buf.String()
	require.Contains(t, out, `id="perk-5-votes"`)
	require.Contains(t, out, "↑3 ↓4")
	require.Contains(t, out, `id="perk-5-net"`)
	require.Contains(t, out, "Net -1")
}

func TestRenderNoticesEscapesText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderNotices(&buf, []Notice{{Level: LevelError, Text: "<b>nope</b>"}}))
	require.Contains(t, buf.String(), "&lt;b&gt;nope&lt;/b&gt;")
	require.Contains(t, buf.String(), `class="notice error"`)
}

func TestRenderUserPerksBucketOrder(t *testing.T) {
	st := loggedIn().WithMatching(client.BucketedMatching(client.PerkBuckets{
		"Matching Your Memberships": {perk(2, 0, 0)},
		client.OwnedBucket:          {perk(1, 0, 0)},
	}))
	var buf bytes.Buffer
	require.NoError(t, RenderUserPerks(&buf, st))
	out := buf.String()
	owned := bytes.Index([]byte(out), []byte("Your Perks"))
	matching := bytes.Index([]byte(out), []byte("Matching Your Memberships"))
	require.True(t, owned >= 0 && matching > owned)
}

func TestRenderVotesPlainIntegers(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderVotes(&buf, perk(5, 1200, 1)))
	out := buf.String()
	require.Contains(t, out, "↑1200 ↓1")
	require.Contains(t, out, "Net 1199")
}

func TestRenderPerkFormOffersOwnMemberships(t *testing.T) {
	perkForm := func(out string) string {
		start := strings.Index(out, `action="/perks"`)
		require.GreaterOrEqual(t, start, 0)
		end := strings.Index(out[start:], "</form>")
		require.Greater(t, end, 0)
		return out[start : start+end]
	}

	form := perkForm(render(t, loggedIn().WithProfile(client.Profile{UserID: 7, Memberships: []string{"VISA", "CAA"}})))
	require.Contains(t, form, "<option>VISA</option>")
	require.Contains(t, form, "<option>CAA</option>")
	require.NotContains(t, form, "<option>AMEX</option>")

	form = perkForm(render(t, loggedIn()))
	require.NotContains(t, form, "<option>VISA</option>")
}
