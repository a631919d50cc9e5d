package models

import "time"

// Action types accepted from a connected UI shell.
const (
	ActionAcceptTerms         = "accept_terms"
	ActionSubmitNickname      = "submit_nickname"
	ActionFindChat            = "find_chat"
	ActionSendMessage         = "send_message"
	ActionTyping              = "typing"
	ActionReact               = "react"
	ActionSendPoll            = "send_poll"
	ActionVotePoll            = "vote_poll"
	ActionEndChat             = "end_chat"
	ActionLeaveChat           = "leave_chat"
	ActionNextStranger        = "next_stranger"
	ActionResetProfile        = "reset_profile"
	ActionConfirmReset        = "confirm_reset"
	ActionReportPartner       = "report_partner"
	ActionAdminAccess         = "admin_access"
	ActionAdminLogout         = "admin_logout"
	ActionRequestAnnouncement = "request_announcement"
	ActionVisibility          = "visibility"
)

// ClientAction is one inbound frame from the UI shell. Only the fields
// relevant to Type are populated.
type ClientAction struct {
	Type string `json:"type"`

	Name       string `json:"name,omitempty"`       // submit_nickname
	Text       string `json:"text,omitempty"`       // send_message, request_announcement
	Composing  bool   `json:"composing,omitempty"`  // typing: input is non-empty
	MessageID  string `json:"messageId,omitempty"`  // react, vote_poll
	Emoji      string `json:"emoji,omitempty"`      // react
	OptionID   string `json:"optionId,omitempty"`   // vote_poll
	TemplateID string `json:"templateId,omitempty"` // send_poll
	Reason     string `json:"reason,omitempty"`     // report_partner
	Password   string `json:"password,omitempty"`   // admin_access
	Hidden     bool   `json:"hidden,omitempty"`     // visibility
}

// Notice is a transient, non-blocking notification for the UI.
type Notice struct {
	Level string `json:"level"` // "info", "success", "error"
	Text  string `json:"text"`
}

// ConfirmRequest asks the UI to confirm a destructive action before the
// engine executes it.
type ConfirmRequest struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// AnnouncementView is the active global banner as shown to clients.
type AnnouncementView struct {
	ID        uint      `json:"id"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Projection is the read-only view the engine pushes to the UI shell on
// every underlying change: the current lifecycle state plus the derived
// view data for rendering it.
type Projection struct {
	State         Status          `json:"state"`
	Epoch         uint64          `json:"epoch"`
	DisplayName   string          `json:"displayName,omitempty"`
	RoomID        string          `json:"roomId,omitempty"`
	RoomEnded     bool            `json:"roomEnded,omitempty"`
	Messages      []Message       `json:"messages,omitempty"`
	PartnerTyping bool            `json:"partnerTyping,omitempty"`
	Notice        *Notice         `json:"notice,omitempty"`
	Confirm       *ConfirmRequest `json:"confirm,omitempty"`
	Reload        bool            `json:"reload,omitempty"`
}
