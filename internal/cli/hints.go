package cli

import (
	"fmt"
	"strconv"

	"github.com/tOgg1/crmchat/internal/crm"
)

// hintContext describes what a command just did so follow-up commands can
// be suggested.
type hintContext struct {
	// action is the command that ran ("conversations", "messages", ...).
	action string

	// target is the conversation involved, if any.
	target crm.Target

	// hasMore is set when more pages were left unloaded.
	hasMore bool

	// conversations is the listing that was printed.
	conversations []crm.Conversation
}

// printHints prints next steps after a successful command. Nothing is
// printed for JSON output.
func printHints(a *app, ctx hintContext) {
	if a.opts.jsonOutput {
		return
	}
	hints := generateHints(ctx)
	if len(hints) == 0 {
		return
	}

	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, a.styles.dim("Next steps:"))
	for _, hint := range hints {
		fmt.Fprintf(a.out, "  %s\n", a.styles.dim(hint))
	}
}

func generateHints(ctx hintContext) []string {
	switch ctx.action {
	case "conversations":
		return hintsForConversations(ctx)
	case "messages":
		return hintsForMessages(ctx)
	case "send":
		return hintsForSend(ctx)
	case "use":
		return []string{
			"crmchat messages                  # Show the selected conversation",
			"crmchat watch                     # Follow it live",
		}
	default:
		return nil
	}
}

func hintsForConversations(ctx hintContext) []string {
	hints := make([]string, 0, 3)
	if ctx.hasMore {
		hints = append(hints, "crmchat conversations --all       # Load every page")
	}
	// Suggest the top row, which is the most urgent conversation.
	if len(ctx.conversations) > 0 {
		if flag := targetFlag(ctx.conversations[0].Target()); flag != "" {
			hints = append(hints,
				fmt.Sprintf("crmchat messages %s    # Read the first conversation", flag),
				fmt.Sprintf("crmchat use %s         # Select it", flag),
			)
		}
	}
	return hints
}

func hintsForMessages(ctx hintContext) []string {
	flag := targetFlag(ctx.target)
	hints := make([]string, 0, 3)
	if ctx.hasMore {
		hints = append(hints, fmt.Sprintf("crmchat messages %s --all    # Load the whole history", flag))
	}
	hints = append(hints, fmt.Sprintf("crmchat watch %s             # Follow live", flag))
	if ctx.target.Kind == crm.TargetOpportunity {
		hints = append(hints, fmt.Sprintf("crmchat send %s \"reply\"      # Answer", flag))
	}
	return hints
}

func hintsForSend(ctx hintContext) []string {
	flag := targetFlag(ctx.target)
	return []string{
		fmt.Sprintf("crmchat watch %s             # Follow the conversation", flag),
	}
}

// targetFlag renders t as the command-line flag that selects it.
func targetFlag(t crm.Target) string {
	switch t.Kind {
	case crm.TargetOpportunity:
		return "--opportunity " + strconv.FormatInt(t.OpportunityID, 10)
	case crm.TargetContact:
		return "--contact " + strconv.FormatInt(t.ContactID, 10)
	case crm.TargetReference:
		return "--ref " + strconv.Quote(t.Reference)
	default:
		return ""
	}
}
