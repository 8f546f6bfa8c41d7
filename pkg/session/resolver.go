package session

import (
	"fmt"

	"github.com/tinyland-inc/qunbridge/pkg/bus"
)

// Resolve returns the id of the first group whose display name equals name.
// Matching is exact and case-sensitive; duplicates resolve to the earliest
// entry in list order.
func Resolve(groups []bus.Group, name string) (bus.GroupID, error) {
	for _, g := range groups {
		if g.Name == name {
			return g.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %q among %d groups", ErrGroupNotFound, name, len(groups))
}
