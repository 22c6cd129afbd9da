// Package demo holds what the example client and server share: the message
// kinds they exchange and their configuration and logging setup.
package demo

// Kind tags the demo messages. Both binaries must agree on it.
type Kind uint32

const (
	ServerAccept Kind = iota
	ServerDeny
	ServerPing
	MessageAll
	ServerMessage
)

var kindNames = [...]string{
	ServerAccept:  "ServerAccept",
	ServerDeny:    "ServerDeny",
	ServerPing:    "ServerPing",
	MessageAll:    "MessageAll",
	ServerMessage: "ServerMessage",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Unknown"
}
