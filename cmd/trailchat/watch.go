package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/trailcrew/TrailCrewBack/pkg/trailclient"
	"github.com/trailcrew/TrailCrewBack/pkg/trailclient/cache"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch [room...]",
	Short: "Follow conversations, rooms and notifications live",
	Long: "Keep a live view of your conversation list, unread counts and notifications.\n" +
		"Rooms given as arguments are joined and their new messages printed.\n" +
		"Push events are used when the gateway is reachable; polling keeps the view fresh otherwise.",
	RunE: func(cmd *cobra.Command, args []string) error {
		rooms := make([]trailclient.Room, 0, len(args))
		for _, arg := range args {
			room, err := parseRoom(arg)
			if err != nil {
				return err
			}
			rooms = append(rooms, room)
		}

		client, cfg := getClient()
		ctx := cmd.Context()
		return watch(ctx, client, rooms, pollInterval(cfg))
	},
}

func watch(ctx context.Context, client *trailclient.Client, rooms []trailclient.Room, interval time.Duration) error {
	store := cache.New(cache.NotifierFunc(func(key cache.Key, err error) {
		fmt.Fprintf(os.Stderr, "! change to %s was undone: %v\n", key, requestError(err))
	}))
	session := cache.NewSession(client, store)
	session.WatchConversations()
	session.WatchUnreadCount()
	session.WatchNotifications()
	for _, room := range rooms {
		key := session.WatchMessages(room)
		printer := &messagePrinter{room: room}
		store.Subscribe(key, printer.print)
	}
	store.Subscribe(cache.KeyConversationUnreadCount, func(v any) {
		if count, ok := v.(int); ok {
			fmt.Printf("~ unread messages: %d\n", count)
		}
	})
	store.Subscribe(cache.KeyNotifications, printNotifications())

	poller := cache.NewPoller(store, interval, func(key cache.Key, err error) {
		fmt.Fprintf(os.Stderr, "! refresh %s failed: %v\n", key, err)
	})
	poller.Poll(ctx)
	go poller.Run(ctx)

	rt := client.Realtime(trailclient.RealtimeConfig{AutoReconnect: true, MaxReconnectAttempts: -1})
	events := make(chan trailclient.Event, 64)
	rt.OnEvent(func(e trailclient.Event) {
		select {
		case events <- e:
		default:
			// The poller catches up on anything dropped here.
		}
	})
	rt.OnConnected(func(info trailclient.ConnectedInfo) {
		fmt.Printf("~ live (%d rooms)\n", len(info.Rooms))
	})
	rt.OnDisconnected(func(err error) {
		fmt.Fprintf(os.Stderr, "~ push disconnected, polling every %s: %v\n", interval, err)
	})
	rt.OnReconnecting(func(attempt int, delay time.Duration) {
		fmt.Fprintf(os.Stderr, "~ reconnecting in %s (attempt %d)\n", delay.Round(time.Millisecond), attempt)
	})
	for _, room := range rooms {
		// Recorded while offline and sent once connected.
		_ = rt.JoinConversation(ctx, room)
	}

	if err := rt.Connect(ctx); err != nil {
		if !errors.Is(err, trailclient.ErrTransient) {
			return requestError(err)
		}
		fmt.Fprintf(os.Stderr, "~ gateway unreachable, polling every %s\n", interval)
	}
	defer rt.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-events:
			if err := store.HandleEvent(ctx, e); err != nil && ctx.Err() == nil {
				fmt.Fprintf(os.Stderr, "! handle %s: %v\n", e.Type, err)
			}
		}
	}
}

// messagePrinter prints messages of one room it has not shown yet.
type messagePrinter struct {
	room trailclient.Room

	mu   sync.Mutex
	last int64
}

func (p *messagePrinter) print(v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	messages, ok := v.([]trailclient.Message)
	if !ok {
		if v == nil {
			fmt.Printf("~ %s is gone\n", p.room.Key())
		}
		return
	}
	// Newest first.
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.TempID != "" {
			fmt.Printf("%s %s (sending)\n", p.room.Key(), m.Content)
			continue
		}
		if m.ID > p.last {
			fmt.Printf("%s %s\n", p.room.Key(), formatMessage(m))
			p.last = m.ID
		}
	}
}

func printNotifications() func(any) {
	var (
		mu     sync.Mutex
		newest int64
	)
	return func(v any) {
		mu.Lock()
		defer mu.Unlock()
		notifications, ok := v.([]trailclient.Notification)
		if !ok {
			return
		}
		for i := len(notifications) - 1; i >= 0; i-- {
			n := notifications[i]
			if n.ID <= newest {
				continue
			}
			newest = n.ID
			if !n.IsRead {
				fmt.Printf("* %s from %s: %s\n", n.Kind, n.SenderName, n.Excerpt)
			}
		}
	}
}
