package models

import "errors"

var (
	ErrNotFound                = errors.New("not found")
	ErrSlotTaken               = errors.New("slot is already taken")
	ErrSlotBlocked             = errors.New("slot is blocked")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrInvalidBusinessHours    = errors.New("invalid business hours")
)
