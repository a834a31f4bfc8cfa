package main

import (
	"novel-engine/internal/bootstrap"
	"novel-engine/internal/service"
	"novel-engine/internal/story"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <story.yaml>...",
		Short: "Validate and import stories, replacing previous versions",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	cache, closeCache, err := bootstrap.OpenStoryCache(ctx, e.cfg, e.logger)
	if err != nil {
		// Без Redis импорт возможен, серверы перечитают граф по истечении TTL.
		e.logger.Warn("Story cache unavailable, shared cache will not be invalidated", zap.Error(err))
		cache, closeCache = nil, func() {}
	}
	defer closeCache()

	stories := service.NewStoryProvider(e.storage.Store.Content(), cache, 0, e.logger)
	content := service.NewContentService(e.storage.Store.Content(), stories, e.logger)

	for _, path := range args {
		g, err := story.LoadFile(path)
		if err != nil {
			return err
		}
		report, err := content.Import(ctx, g)
		printReport(cmd.OutOrStdout(), report)
		if err != nil {
			return err
		}
		cmd.Printf("imported %s as %s (%d scenes)\n", g.Code, g.ID, len(g.Scenes()))
	}
	return nil
}

func storiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stories",
		Short: "List imported stories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			list, err := service.NewContentService(e.storage.Store.Content(), nil, e.logger).List(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range list {
				cmd.Printf("%-24s start=%-16s scenes=%d\n", s.Code, s.StartScene, s.Scenes)
			}
			return nil
		},
	}
}
