package types

// CommandKind names the three intent categories.
type CommandKind string

const (
	CommandPull      CommandKind = "pull"
	CommandRecommend CommandKind = "recommend"
	CommandChat      CommandKind = "chat"
)

// Command is a structured lifecycle operation parsed from free text.
type Command interface {
	Kind() CommandKind
}

// PullCommand requests acquisition of a model matching Query.
type PullCommand struct {
	Query string `json:"query"`
}

func (PullCommand) Kind() CommandKind { return CommandPull }

// RecommendCommand requests ranked model suggestions for Query.
type RecommendCommand struct {
	Query string `json:"query"`
}

func (RecommendCommand) Kind() CommandKind { return CommandRecommend }

// ChatCommand passes Prompt through to the inference collaborator.
type ChatCommand struct {
	Prompt string `json:"prompt"`
}

func (ChatCommand) Kind() CommandKind { return CommandChat }
