package lobby

import "fmt"

// ValidationError reports bad user input for one field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CapacityError reports that a team or a lobby has no room left.
type CapacityError struct {
	Field   string
	Message string
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NotFoundError reports a missing lobby, team or player.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	if e.Key == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.Key)
}

// ForbiddenError reports a host-only action attempted by someone else.
type ForbiddenError struct {
	Action string
}

func (e *ForbiddenError) Error() string {
	return "only the lobby host may " + e.Action
}
