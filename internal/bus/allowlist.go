package bus

// Allowlist gates inbound messages by sender, guild and channel ids.
// Deny rules win over allow rules; an empty allow list permits everyone
// not explicitly denied.
type Allowlist struct {
	AllowUsers    []string
	DenyUsers     []string
	AllowGuilds   []string
	DenyGuilds    []string
	AllowChannels []string
	DenyChannels  []string
}

// Allowed reports whether the request passes every gate.
func (a Allowlist) Allowed(req MessageRequest) bool {
	if contains(a.DenyUsers, req.Sender.ID) ||
		contains(a.DenyGuilds, req.Channel.GuildID) ||
		contains(a.DenyChannels, req.Channel.ID) {
		return false
	}
	if len(a.AllowUsers) > 0 && !contains(a.AllowUsers, req.Sender.ID) {
		return false
	}
	if len(a.AllowGuilds) > 0 && req.Channel.GuildID != "" && !contains(a.AllowGuilds, req.Channel.GuildID) {
		return false
	}
	if len(a.AllowChannels) > 0 && !contains(a.AllowChannels, req.Channel.ID) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
