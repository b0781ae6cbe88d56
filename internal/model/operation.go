package model

import (
	"time"

	"gorm.io/gorm"
)

type Action string

const (
	ActionInit    Action = "INIT"
	ActionCreate  Action = "CREATE"
	ActionModify  Action = "MODIFY"
	ActionDelete  Action = "DELETE"
	ActionCommand Action = "COMMAND"
	ActionRefresh Action = "REFRESH"
	ActionFront   Action = "FRONT"
	ActionRestart Action = "RESTART"
)

type Operation struct {
	gorm.Model
	RequestID string `gorm:"not null;index"`
	Job       string `gorm:"index"`
	Action    Action `gorm:"not null"`
	Detail    string
	Success   bool
	Failed    string
	Message   string
	At        time.Time `gorm:"not null"`
}
