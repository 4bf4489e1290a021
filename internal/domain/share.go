package domain

// User is a member of a sharing group.
type User struct {
	ID   string
	Name string
}

// Group is a TAP+ sharing group.
type Group struct {
	ID          string
	Title       string
	Description string
	Users       []User
}

// HasUser reports whether the user id is a member of the group.
func (g *Group) HasUser(id string) bool {
	for _, u := range g.Users {
		if u.ID == id {
			return true
		}
	}
	return false
}

// SharedTarget is one recipient of a shared item.
type SharedTarget struct {
	ID   string
	Type string
	Mode string
}

// SharedItem is a resource (usually a user table) shared to groups.
type SharedItem struct {
	ID          string
	Title       string
	Type        string
	Description string
	SharedTo    []SharedTarget
}

// SharedWith reports whether the item is shared to the given group id.
func (s *SharedItem) SharedWith(groupID string) bool {
	for _, t := range s.SharedTo {
		if t.ID == groupID {
			return true
		}
	}
	return false
}
