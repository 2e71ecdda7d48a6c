package models

type Technology struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"uniqueIndex;size:100;not null" json:"name"`
}

func (Technology) TableName() string { return "technologies" }
