package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/abdalla-omar/perkmanager/api/internal/domain"
	"github.com/abdalla-omar/perkmanager/api/internal/service"
	"github.com/abdalla-omar/perkmanager/api/internal/service/perk"
)

type credentialsPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, req *http.Request, v any) bool {
	if err := json.NewDecoder(req.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeText(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

func (r *Router) handleCreateUser(w http.ResponseWriter, req *http.Request) {
	var payload credentialsPayload
	if !decodeBody(w, req, &payload) {
		return
	}
	u, err := r.users.Create(req.Context(), payload.Email, payload.Password)
	if err != nil {
		if service.KindOf(err) == service.KindConflict {
			writeText(w, http.StatusBadRequest, err.Error())
			return
		}
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newProfileView(*u))
}

func (r *Router) handleListUsers(w http.ResponseWriter, req *http.Request) {
	users, err := r.users.List(req.Context())
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, userViews(users))
}

func (r *Router) handleProfile(w http.ResponseWriter, req *http.Request) {
	userID, ok := pathID(w, req, "userId")
	if !ok {
		return
	}
	u, err := r.users.Profile(req.Context(), userID)
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newProfileView(*u))
}

func (r *Router) handleAddMembership(w http.ResponseWriter, req *http.Request) {
	userID, ok := pathID(w, req, "userId")
	if !ok {
		return
	}
	var payload struct {
		Membership string `json:"membership"`
	}
	if !decodeBody(w, req, &payload) {
		return
	}
	if _, err := r.users.AddMembership(req.Context(), userID, payload.Membership); err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeText(w, http.StatusOK, "Membership added successfully")
}

func (r *Router) handleMatchingPerks(w http.ResponseWriter, req *http.Request) {
	userID, ok := pathID(w, req, "userId")
	if !ok {
		return
	}
	buckets, err := r.perks.Matching(req.Context(), userID)
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	today := r.perks.Today()
	if req.URL.Query().Get("shape") == "flat" {
		writeJSON(w, http.StatusOK, perkViews(buckets.Flatten(), today))
		return
	}
	writeJSON(w, http.StatusOK, bucketViews(buckets, today))
}

func (r *Router) handleAddPerkToUser(w http.ResponseWriter, req *http.Request) {
	userID, ok := pathID(w, req, "userId")
	if !ok {
		return
	}
	perkID, ok := pathID(w, req, "perkId")
	if !ok {
		return
	}
	if err := r.users.AddPerk(req.Context(), userID, perkID); err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeText(w, http.StatusOK, "Perk added successfully")
}

func (r *Router) handleCreatePerk(w http.ResponseWriter, req *http.Request) {
	var input perk.CreateInput
	if !decodeBody(w, req, &input) {
		return
	}
	r.createPerk(w, req, input)
}

func (r *Router) createPerk(w http.ResponseWriter, req *http.Request, input perk.CreateInput) {
	created, err := r.perks.Create(req.Context(), input)
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	r.metrics.perkPosted(*created)
	writeJSON(w, http.StatusCreated, newPerkView(*created, r.perks.Today()))
}

func (r *Router) handleListPerks(w http.ResponseWriter, req *http.Request) {
	r.writePerks(w, func() ([]domain.Perk, error) { return r.perks.List(req.Context()) })
}

func (r *Router) handlePerksByVotes(w http.ResponseWriter, req *http.Request) {
	r.writePerks(w, func() ([]domain.Perk, error) { return r.perks.ByVotes(req.Context()) })
}

func (r *Router) handlePerksByMembership(w http.ResponseWriter, req *http.Request) {
	r.writePerks(w, func() ([]domain.Perk, error) {
		return r.perks.ByMembership(req.Context(), req.PathValue("membership"))
	})
}

func (r *Router) handlePerksByProduct(w http.ResponseWriter, req *http.Request) {
	r.writePerks(w, func() ([]domain.Perk, error) {
		return r.perks.ByProduct(req.Context(), req.PathValue("product"))
	})
}

func (r *Router) writePerks(w http.ResponseWriter, load func() ([]domain.Perk, error)) {
	perks, err := load()
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, perkViews(perks, r.perks.Today()))
}

func (r *Router) handleGetPerk(w http.ResponseWriter, req *http.Request) {
	perkID, ok := pathID(w, req, "perkId")
	if !ok {
		return
	}
	p, err := r.perks.Get(req.Context(), perkID)
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newPerkView(*p, r.perks.Today()))
}

func (r *Router) handleUpvote(w http.ResponseWriter, req *http.Request) {
	r.vote(w, req, domain.VoteUp)
}

func (r *Router) handleDownvote(w http.ResponseWriter, req *http.Request) {
	r.vote(w, req, domain.VoteDown)
}

func (r *Router) vote(w http.ResponseWriter, req *http.Request, cast domain.VoteType) {
	perkID, ok := pathID(w, req, "perkId")
	if !ok {
		return
	}
	var payload struct {
		UserID int64 `json:"userId"`
	}
	if !decodeBody(w, req, &payload) {
		return
	}
	var (
		updated *domain.Perk
		err     error
	)
	if cast == domain.VoteUp {
		updated, err = r.perks.Upvote(req.Context(), perkID, payload.UserID)
	} else {
		updated, err = r.perks.Downvote(req.Context(), perkID, payload.UserID)
	}
	r.metrics.vote(cast, payload.UserID, err)
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newPerkView(*updated, r.perks.Today()))
}

func (r *Router) handleCQRSHealth(w http.ResponseWriter, req *http.Request) {
	writeText(w, http.StatusOK, "CQRS System is operational")
}

func (r *Router) handleLegacyCreateUser(w http.ResponseWriter, req *http.Request) {
	var payload credentialsPayload
	if !decodeBody(w, req, &payload) {
		return
	}
	u, err := r.users.Create(req.Context(), payload.Email, payload.Password)
	if err != nil {
		if service.KindOf(err) == service.KindConflict {
			writeText(w, http.StatusConflict, "Email already in use")
			return
		}
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, userView{ID: u.ID, Email: u.Email})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var payload credentialsPayload
	if !decodeBody(w, req, &payload) {
		return
	}
	u, err := r.users.Login(req.Context(), payload.Email, payload.Password)
	r.metrics.login(err)
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, userView{ID: u.ID, Email: u.Email})
}

func (r *Router) handleLegacyUserPerks(w http.ResponseWriter, req *http.Request) {
	userID, ok := pathID(w, req, "userId")
	if !ok {
		return
	}
	buckets, err := r.perks.Matching(req.Context(), userID)
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, perkViews(buckets[perk.OwnedBucket], r.perks.Today()))
}

func (r *Router) handleLegacyCreatePerk(w http.ResponseWriter, req *http.Request) {
	userID, ok := pathID(w, req, "userId")
	if !ok {
		return
	}
	var input perk.CreateInput
	if !decodeBody(w, req, &input) {
		return
	}
	input.UserID = userID
	r.createPerk(w, req, input)
}

func (r *Router) handleChangePassword(w http.ResponseWriter, req *http.Request) {
	userID, ok := pathID(w, req, "userId")
	if !ok {
		return
	}
	var payload struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if !decodeBody(w, req, &payload) {
		return
	}
	if err := r.users.ChangePassword(req.Context(), userID, payload.CurrentPassword, payload.NewPassword); err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password changed successfully"})
}

func (r *Router) handleLegacyProfile(w http.ResponseWriter, req *http.Request) {
	userID, ok := pathID(w, req, "userId")
	if !ok {
		return
	}
	u, err := r.users.Profile(req.Context(), userID)
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newProfileView(*u).Memberships)
}

func (r *Router) handleLegacyAddMembership(w http.ResponseWriter, req *http.Request) {
	userID, ok := pathID(w, req, "userId")
	if !ok {
		return
	}
	var payload struct {
		Membership string `json:"membership"`
	}
	if !decodeBody(w, req, &payload) {
		return
	}
	u, err := r.users.AddMembership(req.Context(), userID, payload.Membership)
	if err != nil {
		writeServiceError(w, r.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newProfileView(*u).Memberships)
}
