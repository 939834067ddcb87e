package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sachiniyer/meal-finder/internal/state"
	"github.com/sachiniyer/meal-finder/internal/types"
)

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "Inspect stored conversations",
}

var chatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store := state.NewConversationStore(cfg.DataDir)
		chats, err := store.List(context.Background())
		if err != nil {
			return err
		}
		if len(chats) == 0 {
			fmt.Println("no conversations")
			return nil
		}
		for _, chat := range chats {
			fmt.Printf("%s  created=%s  places=%d\n",
				chat.ConversationID,
				chat.CreatedAt.Format("2006-01-02 15:04"),
				len(chat.Places))
		}
		return nil
	},
}

var chatsShowCmd = &cobra.Command{
	Use:   "show <chat-id>",
	Short: "Print a conversation's message history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store := state.NewConversationStore(cfg.DataDir)
		conv, err := store.Get(context.Background(), types.ConversationID(args[0]))
		if err != nil {
			return err
		}
		for _, msg := range conv.Messages {
			fmt.Printf("[%s] %s: %s\n", msg.At.Format("15:04:05"), msg.Role, msg.Content)
		}
		return nil
	},
}

func init() {
	chatsCmd.AddCommand(chatsListCmd)
	chatsCmd.AddCommand(chatsShowCmd)
	rootCmd.AddCommand(chatsCmd)
}
