package main

import (
	"errors"
	"time"

	"novel-engine/internal/bootstrap"
	"novel-engine/internal/messaging"
	"novel-engine/internal/models"
	"novel-engine/internal/service"

	"github.com/spf13/cobra"
)

func grantCmd() *cobra.Command {
	var (
		player string
		req    models.GrantRequest
	)
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Top up a player's energy, gems or premium",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if player == "" {
				return errors.New("--player is required")
			}
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			stories := service.NewStoryProvider(e.storage.Store.Content(), nil, 0, e.logger)
			svc, err := service.NewProgressionService(e.storage.Store, stories, messaging.NewNoopPublisher(), bootstrap.ServiceOptions(e.cfg), e.logger)
			if err != nil {
				return err
			}
			w, err := svc.GrantResources(ctx, player, req)
			if err != nil {
				return err
			}
			cmd.Printf("player %s: energy=%d gems=%d", player, w.Energy, w.Gems)
			if w.PremiumUntil != nil {
				cmd.Printf(" premium_until=%s", w.PremiumUntil.Format(time.RFC3339))
			}
			cmd.Println()
			return nil
		},
	}
	cmd.Flags().StringVar(&player, "player", "", "player key (token subject)")
	cmd.Flags().IntVar(&req.Energy, "energy", 0, "energy delta, may exceed the cap")
	cmd.Flags().IntVar(&req.Gems, "gems", 0, "gem delta")
	cmd.Flags().BoolVar(&req.Premium, "premium", false, "set the permanent premium flag")
	cmd.Flags().IntVar(&req.PremiumDays, "premium-days", 0, "extend the premium subscription by N days")
	return cmd
}
