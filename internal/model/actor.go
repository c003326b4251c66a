package model

// Actor represents a performer on the agency's books. This struct
// corresponds to a row in the `actors` table. Actors have no relation to
// movies.
//
// Fields:
//  ID     - primary key identifier, assigned by the store.
//  Name   - non-empty display name.
//  Age    - positive age in years.
//  Gender - free-form, non-empty.
type Actor struct {
	ID     int64  `json:"id"`     // actors.id
	Name   string `json:"name"`   // actors.name
	Age    int    `json:"age"`    // actors.age
	Gender string `json:"gender"` // actors.gender
}

// ActorPatch carries the fields of a partial actor update. A nil field is
// left untouched by the update.
type ActorPatch struct {
	Name   *string
	Age    *int
	Gender *string
}

// Empty reports whether the patch changes nothing.
func (p ActorPatch) Empty() bool {
	return p.Name == nil && p.Age == nil && p.Gender == nil
}
