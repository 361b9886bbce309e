package model

import "errors"

var (
	// ErrNotFound is returned by stores when a row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned by stores when a unique key already exists.
	ErrDuplicate = errors.New("record already exists")
)
