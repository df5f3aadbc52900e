package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MatthewMckee4/karva/internal/controller"
	"github.com/MatthewMckee4/karva/internal/domain"
	"github.com/MatthewMckee4/karva/internal/model"
)

// snapshotCmd manages the pending-snapshot directory.
var snapshotCmd = newSnapshotCmd()

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage pending snapshots",
		Long:  "Accept, reject, list or interactively review pending snapshots.",
	}

	cmd.AddCommand(newSnapshotAcceptCmd())
	cmd.AddCommand(newSnapshotRejectCmd())
	cmd.AddCommand(newSnapshotPendingCmd())
	cmd.AddCommand(newSnapshotReviewCmd())

	return cmd
}

func snapshotManager() (*domain.SnapshotManager, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvocation, err)
	}

	return domain.NewSnapshotManager(model.Path(cwd)), nil
}

func newSnapshotAcceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept [name...]",
		Short: "Accept pending snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := snapshotManager()
			if err != nil {
				return err
			}

			if len(args) == 0 {
				count, err := manager.AcceptAll()
				if err != nil {
					return err
				}
				cmd.Printf("accepted %d snapshots\n", count)

				return nil
			}

			for _, name := range args {
				if err := manager.Accept(name); err != nil {
					return err
				}
			}

			return nil
		},
	}
}

func newSnapshotRejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject [name...]",
		Short: "Reject pending snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := snapshotManager()
			if err != nil {
				return err
			}

			if len(args) == 0 {
				count, err := manager.RejectAll()
				if err != nil {
					return err
				}
				cmd.Printf("rejected %d snapshots\n", count)

				return nil
			}

			for _, name := range args {
				if err := manager.Reject(name); err != nil {
					return err
				}
			}

			return nil
		},
	}
}

func newSnapshotPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List pending snapshots",
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, err := snapshotManager()
			if err != nil {
				return err
			}

			pending, err := manager.Pending()
			if err != nil {
				return err
			}

			if len(pending) == 0 {
				cmd.Println("no pending snapshots")
				return nil
			}

			for _, snap := range pending {
				cmd.Println(snap.Name)
			}

			return nil
		},
	}
}

func newSnapshotReviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review",
		Short: "Interactively review pending snapshots",
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, err := snapshotManager()
			if err != nil {
				return err
			}

			pending, err := manager.Pending()
			if err != nil {
				return err
			}

			if len(pending) == 0 {
				cmd.Println("no pending snapshots")
				return nil
			}

			review := controller.NewReviewUI(manager.Accept, manager.Reject)

			return review.Run(pending)
		},
	}
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
}
