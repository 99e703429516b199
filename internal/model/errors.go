package model

import (
	"errors"
)

var (
	ErrNoMatch  = errors.New("no match")
	ErrNoTarget = errors.New("no probing target")
)
