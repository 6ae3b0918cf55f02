package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobRecord is the archived copy of a job that reached a terminal status.
type JobRecord struct {
	ID         uuid.UUID `json:"id" gorm:"primaryKey"`
	JobID      string    `json:"jobId" gorm:"index"`
	Name       string    `json:"name"`
	Status     string    `json:"status" gorm:"index"`
	Error      string    `json:"error,omitempty"`
	Stage      string    `json:"stage"`
	ResultSize int       `json:"resultSize"`
	CreatedAt  time.Time `json:"createdAt"`
	FinishedAt time.Time `json:"finishedAt" gorm:"index"`
}

type JobRecordList []JobRecord

func (j JobRecord) String() string {
	v, _ := json.Marshal(j)
	return string(v)
}
