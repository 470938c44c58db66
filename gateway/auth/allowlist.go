package auth

import (
	"strings"

	"github.com/famgallery/mediagate/gateway/internal/memo"
)

// AccessPolicy decides whether an authenticated identity may access media.
// The parsed allow-list is reused for as long as the raw list is unchanged.
type AccessPolicy struct {
	sets memo.Slot[string, map[string]struct{}]
}

// ParseAllowList splits a comma-separated list of emails into a set of
// trimmed, lower-cased, non-empty entries.
func ParseAllowList(raw string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, e := range strings.Split(raw, ",") {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			set[e] = struct{}{}
		}
	}
	return set
}

// IsAllowed reports whether identity appears in allowListRaw, ignoring case.
func (p *AccessPolicy) IsAllowed(identity, allowListRaw string) bool {
	set, _ := p.sets.Get(allowListRaw, func(raw string) (map[string]struct{}, error) {
		return ParseAllowList(raw), nil
	})

	_, ok := set[strings.ToLower(identity)]
	return ok
}
