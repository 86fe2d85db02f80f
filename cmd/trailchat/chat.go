package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/trailcrew/TrailCrewBack/pkg/trailclient"
)

const requestTimeout = 15 * time.Second

var (
	jsonOutput bool

	messagesPage  int
	messagesLimit int

	notificationsUnread bool
	notificationsLimit  int
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print raw JSON")

	messagesCmd.Flags().IntVar(&messagesPage, "page", 1, "page number")
	messagesCmd.Flags().IntVar(&messagesLimit, "limit", 20, "messages per page")

	notificationsCmd.Flags().BoolVar(&notificationsUnread, "unread", false, "only unread notifications")
	notificationsCmd.Flags().IntVar(&notificationsLimit, "limit", 20, "notifications per page")
	notificationsCmd.AddCommand(notificationsReadCmd, notificationsReadAllCmd)

	rootCmd.AddCommand(
		conversationsCmd,
		messagesCmd,
		sendCmd,
		dmCmd,
		readCmd,
		unreadCmd,
		deleteCmd,
		deleteMessageCmd,
		notificationsCmd,
	)
}

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List your conversations, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		conversations, err := client.ListConversations(ctx)
		if err != nil {
			return requestError(err)
		}
		if jsonOutput {
			return printJSON(conversations)
		}
		if len(conversations) == 0 {
			fmt.Println("No conversations yet.")
			return nil
		}
		for _, c := range conversations {
			last := ""
			if c.LastMessage != nil {
				last = c.LastMessage.Content
			}
			fmt.Printf("%-6d %-24s unread=%-3d %s\n", c.ID, c.Participant.DisplayName, c.UnreadCount, last)
		}
		return nil
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages <room>",
	Short: "Show a page of messages (room is conversation:<id>, group:<id> or a conversation id)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		room, err := parseRoom(args[0])
		if err != nil {
			return err
		}
		client, _ := getClient()
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		page, err := client.ListMessages(ctx, room, trailclient.ListOptions{Page: messagesPage, Limit: messagesLimit})
		if err != nil {
			return requestError(err)
		}
		if jsonOutput {
			return printJSON(page)
		}
		// Oldest first reads naturally in a terminal.
		for i := len(page.Messages) - 1; i >= 0; i-- {
			fmt.Println(formatMessage(page.Messages[i]))
		}
		fmt.Printf("page %d/%d (%d messages)\n", page.Pagination.Page, page.Pagination.TotalPages, page.Pagination.Total)
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <room> <message>",
	Short: "Send a message to a conversation or group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		room, err := parseRoom(args[0])
		if err != nil {
			return err
		}
		client, _ := getClient()
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		message, err := client.SendMessage(ctx, room, args[1])
		if err != nil {
			return requestError(err)
		}
		if jsonOutput {
			return printJSON(message)
		}
		fmt.Printf("Message %d sent to %s\n", message.ID, room.Key())
		return nil
	},
}

var dmCmd = &cobra.Command{
	Use:   "dm <user-id> <message>",
	Short: "Start (or reuse) a conversation with a user and send a message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		recipientID, err := parseID(args[0])
		if err != nil {
			return err
		}
		client, _ := getClient()
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		result, err := client.CreateConversation(ctx, recipientID, args[1])
		if err != nil {
			return requestError(err)
		}
		if jsonOutput {
			return printJSON(result)
		}
		verb := "Reused"
		if result.Created {
			verb = "Started"
		}
		fmt.Printf("%s conversation %d\n", verb, result.Conversation.ID)
		if result.Message != nil {
			fmt.Printf("  Message ID: %d\n", result.Message.ID)
		}
		return nil
	},
}

var readCmd = &cobra.Command{
	Use:   "read <conversation-id>",
	Short: "Mark a conversation as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		client, _ := getClient()
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		marker, err := client.MarkAsRead(ctx, id)
		if err != nil {
			return requestError(err)
		}
		if jsonOutput {
			return printJSON(marker)
		}
		fmt.Printf("Conversation %d read up to message %d\n", id, marker.LastReadMessageID)
		return nil
	},
}

var unreadCmd = &cobra.Command{
	Use:   "unread",
	Short: "Show unread message and notification counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		messages, err := client.UnreadCount(ctx)
		if err != nil {
			return requestError(err)
		}
		notifications, err := client.NotificationUnreadCount(ctx)
		if err != nil {
			return requestError(err)
		}
		if jsonOutput {
			return printJSON(map[string]int{"messages": messages, "notifications": notifications})
		}
		fmt.Printf("Unread messages:      %d\n", messages)
		fmt.Printf("Unread notifications: %d\n", notifications)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <conversation-id>",
	Short: "Delete a conversation for both participants",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		client, _ := getClient()
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		if err := client.DeleteConversation(ctx, id); err != nil {
			return requestError(err)
		}
		fmt.Printf("Conversation %d deleted\n", id)
		return nil
	},
}

var deleteMessageCmd = &cobra.Command{
	Use:   "delete-message <room> <message-id>",
	Short: "Delete a message you sent (group admins may delete any)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		room, err := parseRoom(args[0])
		if err != nil {
			return err
		}
		messageID, err := parseID(args[1])
		if err != nil {
			return err
		}
		client, _ := getClient()
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		if err := client.DeleteMessage(ctx, room, messageID); err != nil {
			return requestError(err)
		}
		fmt.Printf("Message %d deleted from %s\n", messageID, room.Key())
		return nil
	},
}

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "List notifications, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		page, err := client.ListNotifications(ctx, notificationsUnread, trailclient.ListOptions{Page: 1, Limit: notificationsLimit})
		if err != nil {
			return requestError(err)
		}
		if jsonOutput {
			return printJSON(page)
		}
		for _, n := range page.Notifications {
			mark := " "
			if !n.IsRead {
				mark = "*"
			}
			fmt.Printf("%s %-6d %-14s %s: %s\n", mark, n.ID, n.Kind, n.SenderName, n.Excerpt)
		}
		return nil
	},
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read <notification-id>",
	Short: "Mark one notification as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		client, _ := getClient()
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		if _, err := client.MarkNotificationRead(ctx, id); err != nil {
			return requestError(err)
		}
		fmt.Printf("Notification %d marked as read\n", id)
		return nil
	},
}

var notificationsReadAllCmd = &cobra.Command{
	Use:   "read-all",
	Short: "Mark every notification as read",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		updated, err := client.MarkAllNotificationsRead(ctx)
		if err != nil {
			return requestError(err)
		}
		fmt.Printf("%d notifications marked as read\n", updated)
		return nil
	},
}
