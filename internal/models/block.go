package models

import (
	"fmt"
	"time"
)

type BlockType string

const (
	BlockManual  BlockType = "manual"
	BlockHoliday BlockType = "holiday"
)

// ScheduleBlock marks a single slot, or a whole day when Time is empty,
// as unavailable.
type ScheduleBlock struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id,omitempty"`
	Date           string    `json:"date"`
	Time           string    `json:"time,omitempty"`
	Type           BlockType `json:"type"`
	Title          string    `json:"title,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// IsWholeDay reports whether the block covers every slot of its date.
func (b ScheduleBlock) IsWholeDay() bool {
	return b.Time == ""
}

// Validate checks the date and optional time, normalizing Time to HH:MM.
func (b *ScheduleBlock) Validate() error {
	if _, err := ParseDate(b.Date); err != nil {
		return err
	}
	if b.Time != "" {
		clock, err := NormalizeClock(b.Time)
		if err != nil {
			return err
		}
		b.Time = clock
	}
	switch b.Type {
	case "":
		b.Type = BlockManual
		if b.IsWholeDay() {
			b.Type = BlockHoliday
		}
	case BlockManual, BlockHoliday:
	default:
		return fmt.Errorf("invalid block type %q", b.Type)
	}
	return nil
}
