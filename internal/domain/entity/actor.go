package entity

// Actor identifies who performed a mutation. It is used only for attribution.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// SystemActor attributes automatic mutations such as spawned audits
var SystemActor = Actor{ID: "system", Name: "system"}

// String returns the actor id, falling back to "anonymous"
func (a Actor) String() string {
	if a.ID == "" {
		return "anonymous"
	}
	return a.ID
}
