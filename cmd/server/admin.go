package main

import (
	"github.com/danpat592/Yeettalk/internal/adapters/store"
	"github.com/danpat592/Yeettalk/internal/domain"
	"github.com/spf13/cobra"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage the user directory",
}

var userAvatar string

var userPutCmd = &cobra.Command{
	Use:   "put <id> <username>",
	Short: "Create or update a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		u := domain.User{ID: domain.UserID(args[0]), Username: args[1], Avatar: userAvatar}
		return withStore(func(s *store.Store) error {
			if err := s.PutUser(cmd.Context(), u); err != nil {
				return err
			}
			printf(cmd, "user %s saved\n", u.ID)
			return nil
		})
	},
}

var roomCmd = &cobra.Command{
	Use:   "room",
	Short: "Manage rooms and their members",
}

var roomPutCmd = &cobra.Command{
	Use:   "put <id> <name>",
	Short: "Create or rename a room",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		r := domain.Room{ID: domain.RoomID(args[0]), Name: args[1]}
		return withStore(func(s *store.Store) error {
			if err := s.PutRoom(cmd.Context(), r); err != nil {
				return err
			}
			printf(cmd, "room %s saved\n", r.ID)
			return nil
		})
	},
}

var roomAddMemberCmd = &cobra.Command{
	Use:   "add-member <room> <user>",
	Short: "Grant a user membership of a room",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *store.Store) error {
			if err := s.AddMember(cmd.Context(), domain.RoomID(args[0]), domain.UserID(args[1])); err != nil {
				return err
			}
			printf(cmd, "%s added to %s\n", args[1], args[0])
			return nil
		})
	},
}

var roomRemoveMemberCmd = &cobra.Command{
	Use:   "remove-member <room> <user>",
	Short: "Revoke a user's membership of a room",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *store.Store) error {
			if err := s.RemoveMember(cmd.Context(), domain.RoomID(args[0]), domain.UserID(args[1])); err != nil {
				return err
			}
			printf(cmd, "%s removed from %s\n", args[1], args[0])
			return nil
		})
	},
}

var roomMembersCmd = &cobra.Command{
	Use:   "members <room>",
	Short: "List the members of a room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *store.Store) error {
			members, err := s.Members(cmd.Context(), domain.RoomID(args[0]))
			if err != nil {
				return err
			}
			for _, m := range members {
				printf(cmd, "%s\n", m)
			}
			return nil
		})
	},
}

var historyLimit int

var roomHistoryCmd = &cobra.Command{
	Use:   "history <room>",
	Short: "Print the latest messages of a room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *store.Store) error {
			msgs, err := s.Messages(cmd.Context(), domain.RoomID(args[0]), historyLimit)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				printf(cmd, "%s  %-12s %s\n", m.CreatedAt.Format("2006-01-02 15:04:05"), m.Username, m.Content)
			}
			return nil
		})
	},
}

func init() {
	userPutCmd.Flags().StringVar(&userAvatar, "avatar", "", "avatar URL")
	userCmd.AddCommand(userPutCmd)

	roomHistoryCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "number of messages")
	roomCmd.AddCommand(roomPutCmd, roomAddMemberCmd, roomRemoveMemberCmd, roomMembersCmd, roomHistoryCmd)

	rootCmd.AddCommand(userCmd, roomCmd)
}
