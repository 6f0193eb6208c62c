package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	boldColor    = color.New(color.Bold)
	unreadColor  = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgRed)
)

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List your conversations, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := api()
		if err != nil {
			return err
		}
		me, err := self()
		if err != nil {
			return err
		}
		list, err := c.Conversations(cmd.Context(), me)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No conversations yet.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		boldColor.Fprintln(w, "ID\tWITH\tUNREAD\tLAST MESSAGE")
		for _, conv := range list {
			last := "-"
			if conv.LastMessage != nil {
				last = preview(conv.LastMessage.Content, string(conv.LastMessage.Type))
			}
			unread := fmt.Sprint(conv.UnreadCount)
			if conv.UnreadCount > 0 {
				unread = unreadColor.Sprint(conv.UnreadCount)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", conv.ID, conv.OtherParticipant.Username, unread, last)
		}
		return w.Flush()
	},
}

var openCmd = &cobra.Command{
	Use:   "open <user-id>",
	Short: "Open (or create) the conversation with another user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := api()
		if err != nil {
			return err
		}
		me, err := self()
		if err != nil {
			return err
		}
		conv, created, err := c.OpenConversation(cmd.Context(), me, args[0])
		if err != nil {
			return err
		}
		if created {
			successColor.Printf("Created conversation %s\n", conv.ID)
		} else {
			fmt.Println(conv.ID)
		}
		return nil
	},
}

var unreadCmd = &cobra.Command{
	Use:   "unread",
	Short: "Show unread message counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := api()
		if err != nil {
			return err
		}
		me, err := self()
		if err != nil {
			return err
		}
		counts, err := c.UnreadCounts(cmd.Context(), me)
		if err != nil {
			return err
		}

		unreadColor.Printf("%d unread\n", counts.Total)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for id, n := range counts.Conversations {
			if n > 0 {
				fmt.Fprintf(w, "  %s\t%d\n", id, n)
			}
		}
		return w.Flush()
	},
}

var readAll bool

var readCmd = &cobra.Command{
	Use:   "read <message-id | conversation-id>",
	Short: "Mark a message read, or with --all every unread message in a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := api()
		if err != nil {
			return err
		}
		if readAll {
			result, err := c.MarkConversationRead(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			successColor.Printf("Marked %d of %d read\n", result.Succeeded, result.Attempted)
			for id, reason := range result.Failed {
				errorColor.Printf("  %s: %s\n", id, reason)
			}
			return nil
		}

		result, err := c.MarkRead(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if result.AlreadyRead {
			fmt.Printf("Already read at %s\n", result.ReadAt.Local().Format("Jan 2 15:04"))
			return nil
		}
		successColor.Println("Marked read")
		return nil
	},
}

func init() {
	readCmd.Flags().BoolVar(&readAll, "all", false, "treat the argument as a conversation id and mark all of it read")
}

func preview(content, kind string) string {
	if content == "" {
		return "[" + kind + "]"
	}
	runes := []rune(content)
	if len(runes) > 40 {
		return string(runes[:39]) + "…"
	}
	return content
}
