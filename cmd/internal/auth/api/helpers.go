package authapi

import (
	"github.com/sasha-gershtein/Sodia/cmd/identity"
	"github.com/sasha-gershtein/Sodia/cmd/internal/auth/session"
)

func toUserResponse(u identity.User) userResponse {
	return userResponse{
		ID:              u.ID,
		Username:        u.Username,
		Email:           u.Email,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		IsActivated:     u.IsActivated,
		IsEmailVerified: u.IsEmailVerified,
		AccountFlag:     string(u.AccountFlag),
		CreatedAt:       u.CreatedAt,
	}
}

func toSessionResponse(s session.Session) sessionResponse {
	return sessionResponse{
		ID:             s.ID,
		CreatedAt:      s.CreatedAt,
		ExpiresAt:      s.ExpiresAt,
		LastActivityAt: s.LastActivityAt,
		LastActivityIP: s.LastActivityIP,
	}
}

func toUpdatesResponse(recs []session.UpdateRecord) updatesResponse {
	out := updatesResponse{Updates: make([]updateResponse, 0, len(recs))}
	for _, r := range recs {
		out.Updates = append(out.Updates, toUpdateResponse(r))
	}
	return out
}

func toUpdateResponse(r session.UpdateRecord) updateResponse {
	return updateResponse{Seq: r.Seq, Message: r.Message, CreatedAt: r.CreatedAt}
}
