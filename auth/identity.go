package auth

import (
	"fmt"

	"github.com/mediconnect/backend/models"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Identity is the caller resolved from a bearer token.
type Identity struct {
	ID    string      `json:"id"`
	Role  models.Role `json:"role"`
	Email string      `json:"email"`
}

func (i Identity) ObjectID() (bson.ObjectID, error) {
	id, err := bson.ObjectIDFromHex(i.ID)
	if err != nil {
		return bson.ObjectID{}, fmt.Errorf("caller id %q is not a valid object id", i.ID)
	}
	return id, nil
}

// IsRole reports whether the caller holds any of roles.
func IsRole(caller Identity, roles ...models.Role) bool {
	for _, r := range roles {
		if caller.Role == r {
			return true
		}
	}
	return false
}

// IsOwner reports whether the caller is the resource owner.
func IsOwner(caller Identity, ownerID bson.ObjectID) bool {
	return !ownerID.IsZero() && caller.ID == ownerID.Hex()
}

// IsOwnerOrRole reports whether the caller owns the resource or holds role.
func IsOwnerOrRole(caller Identity, ownerID bson.ObjectID, role models.Role) bool {
	return IsOwner(caller, ownerID) || IsRole(caller, role)
}
