package entity

// MemberStatus mirrors the chat member statuses reported by Telegram.
type MemberStatus string

const (
	StatusCreator       MemberStatus = "creator"
	StatusAdministrator MemberStatus = "administrator"
	StatusMember        MemberStatus = "member"
	StatusRestricted    MemberStatus = "restricted"
	StatusLeft          MemberStatus = "left"
	StatusKicked        MemberStatus = "kicked"
	StatusNone          MemberStatus = ""
)

// Authorizes reports whether the status satisfies a required group.
func (s MemberStatus) Authorizes() bool {
	return s == StatusMember || s == StatusAdministrator || s == StatusCreator
}

// Invite is a join prompt for a group the principal is missing.
type Invite struct {
	GroupID int64  `json:"group_id"`
	Title   string `json:"title,omitempty"`
	URL     string `json:"url"`
}
