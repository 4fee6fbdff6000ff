package auth

import (
	"strings"

	"healthconnect/backend/internal/domain"
)

// RolePolicy derives the role of an identity. It is evaluated on every read.
type RolePolicy func(id *domain.Identity) domain.Role

// AllowListPolicy grants admin to the listed e-mail addresses, compared case-insensitively.
func AllowListPolicy(adminEmails []string) RolePolicy {
	admins := make(map[string]struct{}, len(adminEmails))
	for _, e := range adminEmails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			admins[e] = struct{}{}
		}
	}
	return func(id *domain.Identity) domain.Role {
		if id == nil {
			return domain.RoleUser
		}
		if _, ok := admins[strings.ToLower(strings.TrimSpace(id.Email))]; ok {
			return domain.RoleAdmin
		}
		return domain.RoleUser
	}
}
