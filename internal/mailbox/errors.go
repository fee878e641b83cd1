package mailbox

import "errors"

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrAuthentication  = errors.New("authentication failed")
)
