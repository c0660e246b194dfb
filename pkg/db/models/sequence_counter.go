package models

import "time"

// SequenceCounter holds the last issued number for one prefix/period.
type SequenceCounter struct {
	Prefix    string    `gorm:"column:prefix;primaryKey"`
	Year      int       `gorm:"column:year;primaryKey;autoIncrement:false"`
	Month     int       `gorm:"column:month;primaryKey;autoIncrement:false"`
	LastValue int64     `gorm:"column:last_value;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
