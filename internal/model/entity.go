package model

// Entity is a snapshot of a knowledge-base item and the properties it already has claims for
type Entity struct {
	ID     string
	Claims map[string]struct{}
}

// NewEntity creates an entity snapshot with the given claimed properties
func NewEntity(id string, properties ...string) *Entity {
	e := &Entity{ID: id, Claims: make(map[string]struct{}, len(properties))}
	for _, p := range properties {
		e.Claims[p] = struct{}{}
	}
	return e
}

// HasClaim reports whether the entity has at least one claim for property
func (e *Entity) HasClaim(property string) bool {
	_, ok := e.Claims[property]
	return ok
}

// HasAll reports whether every property in properties is already claimed
func (e *Entity) HasAll(properties []string) bool {
	for _, p := range properties {
		if !e.HasClaim(p) {
			return false
		}
	}
	return true
}

// MarkClaimed records a claim written during this run
func (e *Entity) MarkClaimed(property string) {
	if e.Claims == nil {
		e.Claims = make(map[string]struct{})
	}
	e.Claims[property] = struct{}{}
}
