package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zfogg/orbit/internal/models"
)

var (
	historyLimit  int
	historyOffset int
	attachPath    string
	attachType    string
)

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> [text...]",
	Short: "Send a message, or an attachment with --file",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := api()
		if err != nil {
			return err
		}
		text := strings.Join(args[1:], " ")

		var msg *models.FriendMessage
		if attachPath != "" {
			msg, err = c.SendFile(cmd.Context(), args[0], models.MessageType(attachType), attachPath, text)
		} else {
			msg, err = c.Send(cmd.Context(), args[0], text)
		}
		if err != nil {
			return err
		}
		successColor.Printf("Sent %s\n", msg.ID)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <conversation-id>",
	Short: "Print a page of conversation history, oldest first",
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
		page, err := c.History(cmd.Context(), args[0], historyLimit, historyOffset)
		if err != nil {
			return err
		}

		for _, m := range page.Messages {
			who := m.SenderID
			if who == me {
				who = "you"
			}
			body := m.Content
			if m.Type.IsMedia() {
				body = fmt.Sprintf("[%s] %s %s", m.Type, m.MediaURL, m.Content)
			}
			fmt.Printf("%s  %s  %s\n", m.CreatedAt.Local().Format("Jan 2 15:04"), boldColor.Sprint(who), body)
		}
		if page.HasMore {
			fmt.Printf("(older messages: --offset %d)\n", historyOffset+len(page.Messages))
		}
		return nil
	},
}

var readStatusCmd = &cobra.Command{
	Use:   "read-status <message-id>",
	Short: "Check whether a message you sent was read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := api()
		if err != nil {
			return err
		}
		status, err := c.ReadStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !status.Read {
			fmt.Println("Not read yet")
			return nil
		}
		successColor.Printf("Read at %s\n", status.ReadAt.Local().Format("Jan 2 15:04"))
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <message-id>",
	Short: "Delete a message you sent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := api()
		if err != nil {
			return err
		}
		if err := c.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		successColor.Println("Deleted")
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "messages per page")
	historyCmd.Flags().IntVar(&historyOffset, "offset", 0, "messages to skip, counted from the newest")
	sendCmd.Flags().StringVar(&attachPath, "file", "", "attachment to upload")
	sendCmd.Flags().StringVar(&attachType, "type", "image", "attachment kind: image, video or audio")
}
