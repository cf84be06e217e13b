package models

import "time"

// ScheduleRequest is the body of POST /messages/schedule and the payload of the schedule topic.
// SendAt stays a string so that an unparseable timestamp is reported as a validation error.
type ScheduleRequest struct {
	Workspace string `json:"workspace"`
	ChannelID string `json:"channelId"`
	Message   string `json:"message"`
	SendAt    string `json:"sendAt"`
}

type SendRequest struct {
	Workspace string `json:"workspace"`
	ChannelID string `json:"channelId"`
	Message   string `json:"message"`
}

type ListScheduledRequest struct {
	Workspace string `json:"workspace"`
}

type ScheduledMessageResponse struct {
	ID        string    `json:"id"`
	Workspace string    `json:"workspace"`
	ChannelID string    `json:"channelId"`
	Message   string    `json:"message"`
	SendAt    time.Time `json:"sendAt"`
	Locked    bool      `json:"locked"`
	Overdue   bool      `json:"overdue"`
}

type ScheduledListResponse struct {
	Workspace string                     `json:"workspace"`
	Messages  []ScheduledMessageResponse `json:"messages"`
}

type Channel struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsPrivate bool   `json:"is_private"`
	Members   int    `json:"num_members"`
}
