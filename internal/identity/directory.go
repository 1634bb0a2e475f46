package identity

import (
	"context"
	"fmt"
	"strings"

	"staybook/internal/config"
	"staybook/internal/domain"
)

// Directory authorizes requesters from configured lists. Only guests may
// book: blacklisted requesters and hosts are rejected.
type Directory struct {
	blacklist map[string]bool
	hosts     map[string]bool
}

func NewDirectory(cfg config.IdentityConfig) *Directory {
	return &Directory{
		blacklist: toSet(cfg.Blacklist),
		hosts:     toSet(cfg.Hosts),
	}
}

func (d *Directory) Authorize(_ context.Context, requesterID string) error {
	id := strings.TrimSpace(requesterID)
	switch {
	case id == "":
		return fmt.Errorf("missing requester: %w", domain.ErrForbidden)
	case d.blacklist[id]:
		return fmt.Errorf("requester %s is blacklisted: %w", id, domain.ErrForbidden)
	case d.hosts[id]:
		return fmt.Errorf("requester %s is a host account: %w", id, domain.ErrForbidden)
	}
	return nil
}

func (d *Directory) IsBlacklisted(requesterID string) bool {
	return d.blacklist[requesterID]
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = true
		}
	}
	return set
}
