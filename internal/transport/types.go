package transport

// Message is an incoming chat command.
type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// Document is a file attached to a reply.
type Document struct {
	Name    string
	MIME    string
	Caption string
	Data    []byte
}

// Reply is what a command sends back. Text may exceed platform limits;
// adapters split it.
type Reply struct {
	Text      string
	Documents []Document
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}
