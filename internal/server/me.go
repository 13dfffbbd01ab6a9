package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/evalab/resona/internal/fault"
	"github.com/evalab/resona/internal/lifecycle"
	"github.com/evalab/resona/internal/profile"
	"github.com/evalab/resona/internal/store"
)

// invitationView is the outward shape of one invitation.
type invitationView struct {
	ID         string     `json:"id"`
	InviterID  string     `json:"inviterId"`
	InviteeID  *string    `json:"inviteeId,omitempty"`
	Email      string     `json:"email"`
	Code       string     `json:"code"`
	State      string     `json:"state"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	AcceptedAt *time.Time `json:"acceptedAt,omitempty"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
}

func toInvitationView(inv store.Invitation) invitationView {
	return invitationView{
		ID:         inv.ID,
		InviterID:  inv.InviterID,
		InviteeID:  inv.InviteeID,
		Email:      inv.Email,
		Code:       inv.Code,
		State:      inv.State,
		CreatedAt:  inv.CreatedAt,
		UpdatedAt:  inv.UpdatedAt,
		ExpiresAt:  inv.ExpiresAt,
		AcceptedAt: inv.AcceptedAt,
		RevokedAt:  inv.RevokedAt,
	}
}

// invitationsSummary is the quota rollup shown on /me.
type invitationsSummary struct {
	GrantedTotal int `json:"grantedTotal"`
	Used         int `json:"used"`
	Remaining    int `json:"remaining"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pid := s.profileID(r)

	summary, err := s.profiles.Summarize(ctx, pid)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	if err := s.profiles.Touch(ctx, pid); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	progress, err := s.profiles.ProgressSummary(ctx, pid)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Profile            *profile.Summary    `json:"profile"`
		TodayProgress      profile.DayActivity `json:"todayProgress"`
		InvitationsSummary invitationsSummary  `json:"invitationsSummary"`
	}{
		Profile:       summary,
		TodayProgress: progress.Today,
		InvitationsSummary: invitationsSummary{
			GrantedTotal: summary.InvitationsGranted,
			Used:         summary.InvitationsUsed,
			Remaining:    summary.InvitationsRemaining,
		},
	})
}

func (s *Server) handleMeProgress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pid := s.profileID(r)

	if err := s.profiles.Touch(ctx, pid); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	progress, err := s.profiles.ProgressSummary(ctx, pid)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Today   profile.DayActivity   `json:"today"`
		History []profile.DayActivity `json:"history"`
	}{Today: progress.Today, History: progress.History})
}

func (s *Server) handleMeInvitations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pid := s.profileID(r)

	invs, err := s.profiles.Invitations(ctx, pid)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}

	views := make([]invitationView, 0, len(invs))
	for _, inv := range invs {
		views = append(views, toInvitationView(inv))
	}
	writeJSON(w, http.StatusOK, struct {
		Invitations []invitationView `json:"invitations"`
	}{Invitations: views})
}

func (s *Server) handleMeFeed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pid := s.profileID(r)

	if _, err := s.profiles.Resolve(ctx, pid); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	items, err := s.lifecycle.ListFeed(ctx, pid)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Items []lifecycle.FeedItem `json:"items"`
	}{Items: items})
}

func (s *Server) handleCreateInvitation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pid := s.profileID(r)

	var body struct {
		Email string `json:"email"`
	}
	if err := readJSON(r, &body); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	body.Email = strings.TrimSpace(body.Email)
	if body.Email == "" {
		s.writeError(ctx, w, fault.New(fault.Validation, fault.CodeInvalidParameters, "email is required"))
		return
	}

	inv, err := s.profiles.Invite(ctx, pid, body.Email)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Invitation invitationView `json:"invitation"`
	}{Invitation: toInvitationView(*inv)})
}
