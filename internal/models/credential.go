package models

import "time"

// Credential is the Slack bot token of one workspace.
type Credential struct {
	Workspace   string    `json:"workspace" db:"workspace" bson:"workspace"`
	AccessToken string    `json:"access_token" db:"access_token" bson:"access_token"`
	TeamID      string    `json:"team_id,omitempty" db:"team_id" bson:"team_id,omitempty"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at" bson:"updated_at"`
}
