package ingest

import (
	"fmt"
	"strings"
)

// Notice describes what an ingestion dropped. The zero value means every
// file was accepted.
type Notice struct {
	Limit int
	// Full is set when the collection had no room at all.
	Full bool
	// Remaining is the number of slots that were left when the selection was
	// truncated.
	Remaining int
	Dropped   int
	Invalid   int
	NoValid   bool
}

func (n Notice) Empty() bool {
	return !n.Full && n.Dropped == 0 && n.Invalid == 0 && !n.NoValid
}

// Message renders the notice for the user, or "" when there is nothing to say.
func (n Notice) Message() string {
	var parts []string
	switch {
	case n.Full:
		parts = append(parts, fmt.Sprintf("You have reached the limit of %d images.", n.Limit))
	case n.Dropped > 0:
		parts = append(parts, fmt.Sprintf("Only the next %d images were taken to stay within the %d-image limit.", n.Remaining, n.Limit))
	}
	switch {
	case n.NoValid:
		parts = append(parts, "Please choose valid image files (JPG, PNG, WEBP).")
	case n.Invalid == 1:
		parts = append(parts, "1 file was skipped because it is not an image.")
	case n.Invalid > 1:
		parts = append(parts, fmt.Sprintf("%d files were skipped because they are not images.", n.Invalid))
	}
	return strings.Join(parts, " ")
}
