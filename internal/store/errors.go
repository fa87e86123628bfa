package store

import "errors"

var (
	ErrTicketNotFound = errors.New("ticket not found")
	ErrInvalidState   = errors.New("invalid ticket state")
	ErrNumberConflict = errors.New("ticket number already issued today")
)
