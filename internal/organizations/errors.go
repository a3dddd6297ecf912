package organizations

import "errors"

var (
	ErrNotPermitted     = errors.New("not permitted")
	ErrMemberNotFound   = errors.New("member not found")
	ErrUserNotFound     = errors.New("no account exists for that email")
	ErrAlreadyMember    = errors.New("user is already a member of this organization")
	ErrCannotRemoveSelf = errors.New("you cannot remove yourself")
	ErrAlreadyOwner     = errors.New("you already own this organization")
	ErrInvalidRole      = errors.New("role must be admin or member")
	ErrInvalidName      = errors.New("organization name must be 1-100 characters")
)
